package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/contextrule"
	"conductor/internal/metadata"
)

func TestMaterializeStepsAndPhaseOrder(t *testing.T) {
	node := &metadata.Node{
		ID: "/plans/full",
		Attrs: map[string]interface{}{
			"summary": "a full plan",
			"execute": []interface{}{
				map[string]interface{}{"how": "tmt", "order": 70},
				map[string]interface{}{"how": "shell", "name": "setup", "order": 30},
				map[string]interface{}{"how": "shell", "name": "second-default"},
				map[string]interface{}{"how": "shell", "name": "first-default"},
			},
		},
	}

	p, err := Materialize(node, contextrule.Context{})
	require.NoError(t, err)
	assert.Equal(t, "a full plan", p.Summary)
	assert.True(t, p.Enabled)

	phases, err := p.Steps[StepExecute].Select(contextrule.Context{})
	require.NoError(t, err)
	require.Len(t, phases, 4)
	assert.Equal(t, "setup", phases[0].Name)
	assert.Equal(t, "second-default", phases[1].Name)
	assert.Equal(t, "first-default", phases[2].Name)
	assert.Equal(t, "tmt", phases[3].Name)
}

func TestSelectDropsInactivePhases(t *testing.T) {
	node := &metadata.Node{
		ID: "/plans/cond",
		Attrs: map[string]interface{}{
			"prepare": []interface{}{
				map[string]interface{}{"how": "shell", "name": "fedora-only", "when": "distro == fedora"},
				map[string]interface{}{"how": "shell", "name": "always"},
			},
		},
	}
	p, err := Materialize(node, contextrule.Context{})
	require.NoError(t, err)

	phases, err := p.Steps[StepPrepare].Select(contextrule.New(map[string]string{"distro": "centos"}))
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, "always", phases[0].Name)
}

func TestResolveWhereDefaultsToAllGuests(t *testing.T) {
	phase := Phase{}
	out := phase.ResolveWhere([]string{"client", "server"}, func(string) string { return "" })
	assert.Equal(t, []string{"client", "server"}, out)
}

func TestResolveWhereByRole(t *testing.T) {
	phase := Phase{Where: []string{"workers"}}
	roleOf := map[string]string{"w1": "workers", "w2": "workers", "ctl": "control"}
	out := phase.ResolveWhere([]string{"w1", "w2", "ctl"}, func(name string) string { return roleOf[name] })
	assert.Equal(t, []string{"w1", "w2"}, out)
}

func TestMaterializeAppliesAdjust(t *testing.T) {
	node := &metadata.Node{
		ID: "/plans/adjusted",
		Attrs: map[string]interface{}{
			"summary": "base",
			"adjust": []interface{}{
				map[string]interface{}{
					"when":    "arch == x86_64",
					"summary": "adjusted for x86_64",
				},
			},
		},
	}
	p, err := Materialize(node, contextrule.New(map[string]string{"arch": "x86_64"}))
	require.NoError(t, err)
	assert.Equal(t, "adjusted for x86_64", p.Summary)
}
