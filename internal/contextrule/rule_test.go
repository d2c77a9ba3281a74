package contextrule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndEval(t *testing.T) {
	ctx := New(map[string]string{
		"distro": "Fedora-33",
		"arch":   "x86_64",
	})

	tests := []struct {
		name  string
		expr  string
		want  bool
		valid bool
	}{
		{"eq match", "distro == fedora-33", true, true},
		{"eq mismatch", "distro == fedora-34", false, true},
		{"neq", "arch != aarch64", true, true},
		{"lt versioned", "distro < fedora-34", true, true},
		{"gte versioned", "distro >= fedora-33", true, true},
		{"regex match", "distro ~ ^fedora", true, true},
		{"regex not match", "distro !~ ^centos", true, true},
		{"is defined", "distro is defined", true, true},
		{"is not defined", "component is not defined", true, true},
		{"and both true", "distro == fedora-33 && arch == x86_64", true, true},
		{"and one false", "distro == fedora-33 && arch == aarch64", false, true},
		{"or one true", "distro == fedora-34 || arch == x86_64", true, true},
		{"unparseable", "distro ???", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := Parse(tt.expr)
			if !tt.valid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			got, err := rule.Eval(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalAnyEmptyIsSatisfied(t *testing.T) {
	ok, err := EvalAny(nil, New(nil))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalAnyMatchesAnyRule(t *testing.T) {
	ctx := New(map[string]string{"trigger": "commit"})
	ok, err := EvalAny([]string{"trigger == merge", "trigger == commit"}, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompareVersioned(t *testing.T) {
	assert.Negative(t, CompareVersioned("fedora-33", "fedora-34"))
	assert.Positive(t, CompareVersioned("fedora-34", "fedora-33"))
	assert.Zero(t, CompareVersioned("fedora-33", "fedora-33"))
}

func TestAdjustApplyMergePlus(t *testing.T) {
	attrs := map[string]interface{}{
		"tag": []interface{}{"a"},
	}
	entries := []AdjustEntry{
		{
			When: []string{"arch == x86_64"},
			Set: map[string]interface{}{
				"tag+":     []interface{}{"b"},
				"priority": 10,
			},
		},
	}

	result, err := Apply(attrs, entries, New(map[string]string{"arch": "x86_64"}))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, result["tag"])
	assert.Equal(t, 10, result["priority"])
}

func TestAdjustApplySkipsNonMatching(t *testing.T) {
	attrs := map[string]interface{}{"enabled": true}
	entries := []AdjustEntry{
		{When: []string{"arch == aarch64"}, Set: map[string]interface{}{"enabled": false}},
	}

	result, err := Apply(attrs, entries, New(map[string]string{"arch": "x86_64"}))
	require.NoError(t, err)
	assert.Equal(t, true, result["enabled"])
}
