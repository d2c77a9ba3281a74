package templating

import (
	"fmt"
	"strings"
	"sync"

	"conductor/pkg/logging"
)

// ResultStore holds results stored by earlier steps/phases for later
// template resolution (spec's "store" mechanism for inter-step references).
// Safe for concurrent use since the dispatcher runs phases across guests
// concurrently.
type ResultStore struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{values: make(map[string]interface{})}
}

// Store records a value under name.
func (s *ResultStore) Store(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	logging.Debug("templating", "stored result for %q", name)
}

// Snapshot returns a shallow copy of all stored values, safe to hand to the
// templating engine as context.
func (s *ResultStore) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ResolveSafe recursively resolves templates in input against context, but
// only where every referenced root variable is present in context; strings
// whose variables are not (yet) known are left completely unchanged so a
// template meant to resolve at a later stage (e.g. inside the invoked test
// itself) survives phase-argument resolution untouched.
func (e *Engine) ResolveSafe(input interface{}, context map[string]interface{}) interface{} {
	switch v := input.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[key] = e.ResolveSafe(value, context)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = e.ResolveSafe(item, context)
		}
		return result

	case string:
		return e.resolveSafeString(v, context)

	default:
		return v
	}
}

func (e *Engine) resolveSafeString(input string, context map[string]interface{}) string {
	if !strings.Contains(input, "{{") || !strings.Contains(input, "}}") {
		return input
	}

	for _, name := range e.extractRootNames(input) {
		if _, ok := context[name]; !ok {
			logging.Debug("templating", "variable %q not in context, leaving template unchanged: %s", name, input)
			return input
		}
	}

	resolved, err := e.Replace(input, context)
	if err != nil {
		logging.Debug("templating", "resolution failed for %q, keeping original: %v", input, err)
		return input
	}

	if s, ok := resolved.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", resolved)
}

// extractRootNames pulls the root variable name out of every `{{ ... }}`
// occurrence (e.g. "guest.name" -> "guest").
func (e *Engine) extractRootNames(s string) []string {
	var names []string
	seen := make(map[string]bool)

	for {
		start := strings.Index(s, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			break
		}

		variable := strings.TrimSpace(s[start+2 : start+end])
		variable = strings.TrimPrefix(variable, ".")
		variable = strings.TrimSpace(variable)
		if dot := strings.Index(variable, "."); dot >= 0 {
			variable = variable[:dot]
		}

		if variable != "" && !seen[variable] {
			seen[variable] = true
			names = append(names, variable)
		}

		s = s[start+end+2:]
	}

	return names
}
