package contextrule

import (
	"fmt"
	"strings"
)

// Parse compiles a single rule expression (optionally compound via `&&`/
// `||`) into a Rule tree. `||` binds weaker than `&&`, matching the common
// boolean-expression convention; neither operator nests with parentheses,
// matching the grammar described for context rules.
func Parse(expr string) (Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty rule expression")
	}

	if orParts := splitTopLevel(expr, "||"); len(orParts) > 1 {
		rule := Rule(nil)
		for _, part := range orParts {
			r, err := Parse(part)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				rule = r
			} else {
				rule = &Compound{Left: rule, Right: r, And: false}
			}
		}
		return rule, nil
	}

	if andParts := splitTopLevel(expr, "&&"); len(andParts) > 1 {
		rule := Rule(nil)
		for _, part := range andParts {
			r, err := Parse(part)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				rule = r
			} else {
				rule = &Compound{Left: rule, Right: r, And: true}
			}
		}
		return rule, nil
	}

	return parseLeaf(expr)
}

// splitTopLevel splits expr on every occurrence of sep, trimming whitespace.
// There is no parenthesis nesting in this grammar, so a plain split suffices.
func splitTopLevel(expr, sep string) []string {
	parts := strings.Split(expr, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var multiWordOps = []struct {
	token string
	op    Op
}{
	{"is not defined", OpNotDefined},
	{"is defined", OpDefined},
}

var symbolOps = []Op{OpGte, OpLte, OpNeq, OpNotMatch, OpEq, OpLt, OpGt, OpMatch}

func parseLeaf(expr string) (Rule, error) {
	for _, mw := range multiWordOps {
		if idx := strings.Index(expr, mw.token); idx > 0 {
			key := strings.TrimSpace(expr[:idx])
			if key == "" {
				continue
			}
			return &Leaf{Key: strings.ToLower(key), Op: mw.op}, nil
		}
	}

	for _, op := range symbolOps {
		if idx := strings.Index(expr, string(op)); idx > 0 {
			key := strings.TrimSpace(expr[:idx])
			value := strings.TrimSpace(expr[idx+len(op):])
			if key == "" || value == "" {
				continue
			}
			return &Leaf{Key: strings.ToLower(key), Op: op, Value: value}, nil
		}
	}

	return nil, fmt.Errorf("cannot parse rule expression: %q", expr)
}

// EvalAny reports whether any of rules matches ctx. An empty rule list is
// always satisfied ("no when predicate" means the phase is unconditionally
// active), per spec invariant 6: active(phase) iff enabled(phase) and
// (when = empty or some rule in when matches).
func EvalAny(rules []string, ctx Context) (bool, error) {
	if len(rules) == 0 {
		return true, nil
	}
	for _, expr := range rules {
		rule, err := Parse(expr)
		if err != nil {
			return false, fmt.Errorf("parsing rule %q: %w", expr, err)
		}
		ok, err := rule.Eval(ctx)
		if err != nil {
			return false, fmt.Errorf("evaluating rule %q: %w", expr, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
