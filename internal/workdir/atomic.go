package workdir

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteYAMLAtomic marshals v as YAML and writes it to path via a temp
// file + rename so readers always observe either the previous or the new
// version, never a partial write (spec §4.2's "atomic write" requirement:
// results.yaml, plan.yaml, run.yaml and friends are rewritten this way
// after every mutation).
//
// No third-party library in the example pack implements atomic file
// replacement (grepping the pack finds no temp+rename pattern anywhere);
// os.Rename within the same directory is POSIX-atomic and is the
// idiomatic standard-library mechanism for this, so it is used directly
// rather than inventing a dependency that doesn't exist in the corpus.
func WriteYAMLAtomic(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}

	return nil
}

// ReadYAML reads and unmarshals the YAML file at path into v. A missing
// file is reported as os.ErrNotExist-wrapped so callers can distinguish
// "nothing persisted yet" from a real read failure.
func ReadYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
