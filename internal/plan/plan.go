// Package plan materializes a metadata node into an ordered Plan: six fixed
// Steps, each a possibly-empty ordered list of Phases (spec §3, §4.3).
package plan

import (
	"fmt"
	"sort"

	"conductor/internal/contextrule"
	"conductor/internal/metadata"
)

// StepName identifies one of the six fixed run steps.
type StepName string

const (
	StepDiscover  StepName = "discover"
	StepProvision StepName = "provision"
	StepPrepare   StepName = "prepare"
	StepExecute   StepName = "execute"
	StepFinish    StepName = "finish"
	StepReport    StepName = "report"
)

// AllSteps is the fixed cross-step execution order (spec §4.3): "Steps
// always execute in the fixed order discover, provision, prepare, execute,
// finish, report."
var AllSteps = []StepName{StepDiscover, StepProvision, StepPrepare, StepExecute, StepFinish, StepReport}

// Default phase order bands (spec §3): "order (integer, default 50;
// predefined values 30, 50, 70, 75 reserve priority bands)".
const (
	OrderEarly    = 30
	OrderDefault  = 50
	OrderLate     = 70
	OrderVeryLate = 75
)

// Phase is a single configured action within a step (spec §3).
type Phase struct {
	How        string
	Name       string
	Order      int
	Where      []string
	When       []string
	Sequential bool
	Options    map[string]interface{}
	// sourceOrder preserves the position the phase was declared in, used as
	// the tiebreak for phases sharing the same Order (spec §4.3 "Sort active
	// phases by (order, source-order)").
	sourceOrder int
}

// StepConfig is one step's configured phases, in declaration order (before
// selection/sorting).
type StepConfig struct {
	Phases []Phase
}

// Plan is a materialized metadata node: core attributes plus the six step
// configurations (spec §3: "a plan has exactly one configuration per step").
type Plan struct {
	ID              string
	Summary         string
	Enabled         bool
	Context         map[string]string
	Environment     map[string]string
	EnvironmentFile string
	Adjust          []contextrule.AdjustEntry
	Link            []string
	Steps           map[StepName]StepConfig
}

// Materialize builds a Plan from a metadata node, applying the node's adjust
// rules against ctx before reading step/phase attributes (spec §4.1
// "adjust(node, context) -> node'").
func Materialize(node *metadata.Node, ctx contextrule.Context) (*Plan, error) {
	attrs, err := contextrule.Apply(node.Attrs, node.AdjustEntries(), ctx)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", node.ID, err)
	}
	adjusted := &metadata.Node{ID: node.ID, Attrs: attrs, Children: node.Children}

	p := &Plan{
		ID:              node.ID,
		Summary:         adjusted.StringAttr("summary"),
		Enabled:         adjusted.BoolAttr("enabled", true),
		EnvironmentFile: adjusted.StringAttr("environment-file"),
		Environment:     stringMapAttr(adjusted.Attrs, "environment"),
		Context:         stringMapAttr(adjusted.Attrs, "context"),
		Adjust:          adjusted.AdjustEntries(),
		Link:            adjusted.StringListAttr("link"),
		Steps:           make(map[StepName]StepConfig, len(AllSteps)),
	}

	for _, step := range AllSteps {
		cfg, err := loadStepConfig(adjusted, step)
		if err != nil {
			return nil, fmt.Errorf("plan %s step %s: %w", node.ID, step, err)
		}
		p.Steps[step] = cfg
	}

	return p, nil
}

func loadStepConfig(node *metadata.Node, step StepName) (StepConfig, error) {
	raw, ok := node.Attrs[string(step)]
	if !ok {
		return StepConfig{}, nil
	}

	var rawPhases []interface{}
	switch v := raw.(type) {
	case []interface{}:
		rawPhases = v
	case map[string]interface{}:
		rawPhases = []interface{}{v}
	default:
		return StepConfig{}, fmt.Errorf("step %q: unsupported shape %T", step, raw)
	}

	phases := make([]Phase, 0, len(rawPhases))
	for i, item := range rawPhases {
		m, ok := item.(map[string]interface{})
		if !ok {
			return StepConfig{}, fmt.Errorf("step %q phase %d: not a mapping", step, i)
		}
		phases = append(phases, parsePhase(m, i))
	}
	return StepConfig{Phases: phases}, nil
}

func parsePhase(m map[string]interface{}, sourceOrder int) Phase {
	p := Phase{
		Order:       OrderDefault,
		Options:     make(map[string]interface{}),
		sourceOrder: sourceOrder,
	}
	for k, v := range m {
		switch k {
		case "how":
			p.How, _ = v.(string)
		case "name":
			p.Name, _ = v.(string)
		case "order":
			p.Order = intAttr(v, OrderDefault)
		case "where":
			p.Where = toStringList(v)
		case "when":
			p.When = toStringList(v)
		case "sequential":
			p.Sequential, _ = v.(bool)
		default:
			p.Options[k] = v
		}
	}
	if p.Name == "" {
		p.Name = p.How
	}
	return p
}

// Select returns the phases of a step that are active under ctx, sorted by
// (order, source-order) per spec §4.3.
func (s StepConfig) Select(ctx contextrule.Context) ([]Phase, error) {
	var active []Phase
	for _, phase := range s.Phases {
		ok, err := contextrule.EvalAny(phase.When, ctx)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", phase.Name, err)
		}
		if ok {
			active = append(active, phase)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Order != active[j].Order {
			return active[i].Order < active[j].Order
		}
		return active[i].sourceOrder < active[j].sourceOrder
	})
	return active, nil
}

// ResolveWhere expands a phase's Where into the concrete subset of
// guestNames it targets. An empty Where means "all guests" (spec §3).
// Entries in Where may name a guest directly or a role; roleOf maps a guest
// name to its role (possibly "").
func (p Phase) ResolveWhere(guestNames []string, roleOf func(name string) string) []string {
	if len(p.Where) == 0 {
		return guestNames
	}
	want := make(map[string]bool, len(p.Where))
	for _, w := range p.Where {
		want[w] = true
	}
	var out []string
	for _, name := range guestNames {
		if want[name] || want[roleOf(name)] {
			out = append(out, name)
		}
	}
	return out
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

func stringMapAttr(attrs map[string]interface{}, key string) map[string]string {
	raw, ok := attrs[key]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func intAttr(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
