// Package metadata implements the consumed side of the hierarchical
// metadata tree contract (spec §6): nodes identified by slash-separated
// ids, inheritance from parent to child, and the `+`-suffix merge operator.
// The real loader (virtual identifiers, full fmf-style discovery) is
// deliberately out of scope per spec §1; this package implements enough of
// the loader contract — a filesystem-rooted tree of YAML documents with
// inheritance and `+` merge — to materialize plans and tests from disk.
package metadata

import "conductor/internal/contextrule"

// Node is one node of the metadata tree: tests, plans, or stories,
// addressed by a slash-separated id. Attrs carries arbitrary plan/test
// attributes (summary, how, order, where, when, adjust, environment, ...).
type Node struct {
	ID       string
	Attrs    map[string]interface{}
	Children []*Node
}

// Tree is the whole loaded metadata repository.
type Tree struct {
	Root *Node
	// byID indexes every node by its absolute id for O(1) lookup by name.
	byID map[string]*Node
}

// Find returns the node with the given absolute id, if loaded.
func (t *Tree) Find(id string) (*Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// All returns every node in the tree in depth-first, source order.
func (t *Tree) All() []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return out
}

// StringAttr returns Attrs[key] as a string, or "" if absent or not a string.
func (n *Node) StringAttr(key string) string {
	if v, ok := n.Attrs[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// BoolAttr returns Attrs[key] as a bool, defaulting to def if absent.
func (n *Node) BoolAttr(key string, def bool) bool {
	if v, ok := n.Attrs[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// StringListAttr returns Attrs[key] as a []string, treating a bare string
// as a single-element list (a common fmf convention).
func (n *Node) StringListAttr(key string) []string {
	v, ok := n.Attrs[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case string:
		return []string{val}
	default:
		return nil
	}
}

// AdjustEntries parses Attrs["adjust"] into contextrule.AdjustEntry values.
func (n *Node) AdjustEntries() []contextrule.AdjustEntry {
	raw, ok := n.Attrs["adjust"]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	var entries []contextrule.AdjustEntry
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := contextrule.AdjustEntry{Set: make(map[string]interface{})}
		for k, v := range m {
			if k == "when" {
				entry.When = toStringList(v)
				continue
			}
			entry.Set[k] = v
		}
		entries = append(entries, entry)
	}
	return entries
}

func toStringList(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
