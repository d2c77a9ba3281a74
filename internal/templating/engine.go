// Package templating resolves `{{ variable }}` / `{{ .variable.path }}`
// placeholders in phase arguments, environment values, and adjust rules
// against a layered context (plan env, test env, engine-injected TMT_*
// variables, stored step results). It also exposes the full Go template
// engine (with sprig funcs) for compound expressions.
package templating

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine resolves template variables in strings, maps, and slices.
type Engine struct {
	pattern *regexp.Regexp
}

// New creates a new templating engine.
func New() *Engine {
	return &Engine{
		pattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_.-]*)\s*\}\}`),
	}
}

// MergeContexts merges multiple contexts into one; later contexts win.
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}
	return result
}

// Replace substitutes every `{{ var }}`/`{{ .var.path }}` occurrence in value
// with its resolved value from context. It errors if any referenced
// variable is missing — use ResolveSafe when unresolved templates must be
// left untouched instead.
func (e *Engine) Replace(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.replaceString(v, context)
	case map[string]interface{}:
		return e.replaceMap(v, context)
	case []interface{}:
		return e.replaceSlice(v, context)
	default:
		return value, nil
	}
}

func (e *Engine) replaceString(tmpl string, context map[string]interface{}) (string, error) {
	matches := e.pattern.FindAllStringSubmatch(tmpl, -1)

	var missing []string
	result := tmpl
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		path := match[1]

		replacement, err := e.resolvePath(path, context)
		if err != nil {
			missing = append(missing, path)
			continue
		}

		replacementStr := stringify(replacement)
		for _, placeholder := range placeholders(path) {
			result = strings.ReplaceAll(result, placeholder, replacementStr)
		}
	}

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

func placeholders(path string) []string {
	return []string{
		fmt.Sprintf("{{ %s }}", path),
		fmt.Sprintf("{{ .%s }}", path),
		fmt.Sprintf("{{%s}}", path),
		fmt.Sprintf("{{.%s}}", path),
	}
}

func stringify(v interface{}) string {
	switch r := v.(type) {
	case string:
		return r
	case int, int32, int64:
		return fmt.Sprintf("%d", r)
	case float32, float64:
		return fmt.Sprintf("%g", r)
	case bool:
		return fmt.Sprintf("%t", r)
	default:
		return fmt.Sprintf("%v", r)
	}
}

func (e *Engine) replaceMap(m map[string]interface{}, context map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))
	for key, value := range m {
		resolved, err := e.Replace(value, context)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		result[key] = resolved
	}
	return result, nil
}

func (e *Engine) replaceSlice(s []interface{}, context map[string]interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(s))
	for i, value := range s {
		resolved, err := e.Replace(value, context)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		result[i] = resolved
	}
	return result, nil
}

// ExtractVariables returns the root variable names referenced by value.
func (e *Engine) ExtractVariables(value interface{}) []string {
	seen := make(map[string]bool)
	e.extractVariables(value, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

func (e *Engine) extractVariables(value interface{}, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, match := range e.pattern.FindAllStringSubmatch(v, -1) {
			if len(match) >= 2 {
				seen[match[1]] = true
			}
		}
	case map[string]interface{}:
		for _, val := range v {
			e.extractVariables(val, seen)
		}
	case []interface{}:
		for _, val := range v {
			e.extractVariables(val, seen)
		}
	}
}

// resolvePath resolves a dot-notation path like "guest.name" against context.
func (e *Engine) resolvePath(path string, context map[string]interface{}) (interface{}, error) {
	parts := strings.Split(path, ".")
	var current interface{} = context

	for i, part := range parts {
		switch v := current.(type) {
		case map[string]interface{}:
			value, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("variable %q not found (failed at %q)", path, part)
			}
			current = value
		default:
			return nil, fmt.Errorf("cannot access property %q at position %d in path %q: not an object", part, i+1, path)
		}
	}
	return current, nil
}

// RenderGoTemplate renders a full text/template expression (with sprig
// funcs), for compound adjust-style expressions like `{{ eq .arch "x86_64" }}`.
func (e *Engine) RenderGoTemplate(tmplStr string, context map[string]interface{}) (string, error) {
	tmpl, err := template.New("conductor").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}
