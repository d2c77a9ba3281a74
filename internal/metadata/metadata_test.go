package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadTreeInheritanceAndMerge(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "tests", "main.yaml"), "framework: shell\ntag:\n  - base\n")
	writeFile(t, filepath.Join(root, "tests", "smoke.yaml"), "summary: smoke test\ntag+:\n  - smoke\n")

	tree, err := LoadTree(root)
	require.NoError(t, err)

	node, ok := tree.Find("/tests/smoke")
	require.True(t, ok)
	assert.Equal(t, "shell", node.StringAttr("framework"))
	assert.Equal(t, "smoke test", node.StringAttr("summary"))
	assert.Equal(t, []string{"base", "smoke"}, node.StringListAttr("tag"))
}

func TestSelectByNamesAndIncludesOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "plans", "a.yaml"), "summary: a\n")
	writeFile(t, filepath.Join(root, "plans", "b.yaml"), "summary: b\n")
	writeFile(t, filepath.Join(root, "plans", "c.yaml"), "summary: c\n")

	tree, err := LoadTree(root)
	require.NoError(t, err)

	nodes, err := Select(tree, SelectOptions{
		Includes: []string{"/plans/c", "/plans/a"},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "/plans/c", nodes[0].ID)
	assert.Equal(t, "/plans/a", nodes[1].ID)
}

func TestSelectExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "plans", "a.yaml"), "summary: a\n")
	writeFile(t, filepath.Join(root, "plans", "b.yaml"), "summary: b\n")

	tree, err := LoadTree(root)
	require.NoError(t, err)

	nodes, err := Select(tree, SelectOptions{Excludes: []string{"/plans/b"}})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "/plans/a", nodes[0].ID)
}
