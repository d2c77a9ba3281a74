package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"conductor/internal/contextrule"
)

// mainFile is the directory-level sentinel whose attributes every node
// below it inherits, the fmf-style "main.fmf" convention translated to
// YAML (spec §6: "a distinguished directory sentinel").
const mainFile = "main.yaml"

// LoadTree walks root and builds a Tree of every ".yaml" node file found,
// applying parent-to-child attribute inheritance (main.yaml per directory)
// with `+`-suffix merge semantics. Missing root is reported directly
// (os.ErrNotExist-wrapped), the same graceful-fallback shape as the
// teacher's config loader.
func LoadTree(root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("metadata root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("metadata root %s is not a directory", root)
	}

	tree := &Tree{byID: make(map[string]*Node)}
	rootNode := &Node{ID: "/", Attrs: map[string]interface{}{}}
	tree.Root = rootNode
	tree.byID["/"] = rootNode

	if err := loadDir(root, root, rootNode.Attrs, rootNode, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func loadDir(fsRoot, dir string, inherited map[string]interface{}, parent *Node, tree *Tree) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	attrs := cloneAttrs(inherited)
	if mainPath := filepath.Join(dir, mainFile); fileExists(mainPath) {
		own, err := readAttrs(mainPath)
		if err != nil {
			return err
		}
		for k, v := range own {
			contextrule.MergeKey(attrs, k, v)
		}
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			childNode := &Node{ID: nodeID(fsRoot, full), Attrs: cloneAttrs(attrs)}
			parent.Children = append(parent.Children, childNode)
			tree.byID[childNode.ID] = childNode
			if err := loadDir(fsRoot, full, attrs, childNode, tree); err != nil {
				return err
			}
			continue
		}

		if entry.Name() == mainFile || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		own, err := readAttrs(full)
		if err != nil {
			return err
		}
		nodeAttrs := cloneAttrs(attrs)
		for k, v := range own {
			contextrule.MergeKey(nodeAttrs, k, v)
		}

		id := nodeID(fsRoot, strings.TrimSuffix(full, ".yaml"))
		node := &Node{ID: id, Attrs: nodeAttrs}
		parent.Children = append(parent.Children, node)
		tree.byID[id] = node
	}

	return nil
}

func readAttrs(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var attrs map[string]interface{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return attrs, nil
}

func cloneAttrs(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func nodeID(fsRoot, path string) string {
	rel, err := filepath.Rel(fsRoot, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "/"
	}
	return "/" + rel
}
