package metadata

import (
	"conductor/internal/contextrule"
)

// SelectOptions mirrors the loader's select(filter, names, includes,
// excludes) contract (spec §6):
//   - Names, if non-empty, restricts to nodes whose id is in the list
//     ("plain test ignoring order and allowing duplicates").
//   - Includes preserves source order for explicitly named nodes.
//   - Excludes drops named nodes regardless of other matches.
//   - Filter is a context-rule-style expression evaluated against each
//     node's attributes (treated as a Context of stringified values).
type SelectOptions struct {
	Filter   string
	Names    []string
	Includes []string
	Excludes []string
}

// Select returns every leaf node (a node without children) under root
// matching opts, in tree (source) order, except when Includes is given: those nodes are returned first, in
// the order listed, followed by any remaining filter/name matches.
func Select(tree *Tree, opts SelectOptions) ([]*Node, error) {
	excluded := toSet(opts.Excludes)
	wantNames := toSet(opts.Names)

	var matched []*Node
	for _, n := range tree.All() {
		if n == tree.Root || len(n.Children) > 0 {
			continue
		}
		if excluded[n.ID] {
			continue
		}
		if len(wantNames) > 0 && !wantNames[n.ID] {
			continue
		}
		if opts.Filter != "" {
			ok, err := matchesFilter(n, opts.Filter)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, n)
	}

	if len(opts.Includes) == 0 {
		return matched, nil
	}

	byID := make(map[string]*Node, len(matched))
	for _, n := range matched {
		byID[n.ID] = n
	}

	var ordered []*Node
	seen := make(map[string]bool)
	for _, id := range opts.Includes {
		if n, ok := byID[id]; ok && !seen[id] {
			ordered = append(ordered, n)
			seen[id] = true
		}
	}
	for _, n := range matched {
		if !seen[n.ID] {
			ordered = append(ordered, n)
			seen[n.ID] = true
		}
	}
	return ordered, nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func matchesFilter(n *Node, filter string) (bool, error) {
	rule, err := contextrule.Parse(filter)
	if err != nil {
		return false, err
	}
	ctx := make(contextrule.Context, len(n.Attrs))
	for k, v := range n.Attrs {
		if s, ok := v.(string); ok {
			ctx[k] = s
		}
	}
	return rule.Eval(ctx)
}
