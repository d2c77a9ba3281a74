// Package contextrule implements the context/adjust rule language: a small
// lexer/parser/evaluator for expressions like `distro == fedora-33` or
// `arch == x86_64 && trigger != commit`, matched against a run context
// (distro, arch, trigger, initiator, deployment-mode, variant, component,
// collection, module). Built as a parsed grammar rather than ad-hoc string
// splitting, per the "Adjust rule language" design note.
package contextrule

import "strings"

// Context holds the run-wide key/value facts rules are evaluated against.
// Keys and values are matched case-insensitively.
type Context map[string]string

// Get returns the lower-cased value for key, and whether it was present.
func (c Context) Get(key string) (string, bool) {
	v, ok := c[strings.ToLower(key)]
	return strings.ToLower(v), ok
}

// New builds a Context from key/value pairs, lower-casing both.
func New(pairs map[string]string) Context {
	c := make(Context, len(pairs))
	for k, v := range pairs {
		c[strings.ToLower(k)] = strings.ToLower(v)
	}
	return c
}
