package contextrule

import "fmt"

// AdjustEntry is one entry of a node's `adjust` list: when its rules match
// the context, its Set values are merged into the node's attributes. A key
// ending in `+` merges lists/maps into the existing value instead of
// replacing it, mirroring the loader's `+` suffix convention (spec §6).
type AdjustEntry struct {
	When []string
	Set  map[string]interface{}
}

// Apply merges every matching entry's Set values into attrs, in order, and
// returns the resulting attribute map. attrs is not mutated; the returned
// map is a new one.
func Apply(attrs map[string]interface{}, entries []AdjustEntry, ctx Context) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		result[k] = v
	}

	for _, entry := range entries {
		match, err := EvalAny(entry.When, ctx)
		if err != nil {
			return nil, fmt.Errorf("adjust entry: %w", err)
		}
		if !match {
			continue
		}
		for key, value := range entry.Set {
			MergeKey(result, key, value)
		}
	}

	return result, nil
}

// MergeKey applies a single attribute assignment to dest, honoring the `+`
// suffix merge convention. Exported so both adjust evaluation and the
// metadata loader's parent-to-child inheritance (which uses the identical
// `+` merge rule) can share one implementation.
func MergeKey(dest map[string]interface{}, key string, value interface{}) {
	if len(key) > 0 && key[len(key)-1] == '+' {
		baseKey := key[:len(key)-1]
		existing, ok := dest[baseKey]
		if !ok {
			dest[baseKey] = value
			return
		}
		dest[baseKey] = MergeValue(existing, value)
		return
	}
	dest[key] = value
}

// MergeValue implements the `+` merge operator: lists concatenate, maps
// union (new keys win on conflict), anything else is replaced outright.
func MergeValue(existing, incoming interface{}) interface{} {
	switch e := existing.(type) {
	case []interface{}:
		if n, ok := incoming.([]interface{}); ok {
			return append(append([]interface{}{}, e...), n...)
		}
		return append(append([]interface{}{}, e...), incoming)
	case map[string]interface{}:
		if n, ok := incoming.(map[string]interface{}); ok {
			merged := make(map[string]interface{}, len(e)+len(n))
			for k, v := range e {
				merged[k] = v
			}
			for k, v := range n {
				merged[k] = v
			}
			return merged
		}
		return incoming
	default:
		return incoming
	}
}
