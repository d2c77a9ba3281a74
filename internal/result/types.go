package result

import "time"

// GuestRef identifies the guest a Result/Check ran on.
type GuestRef struct {
	Name string `yaml:"name"`
	Role string `yaml:"role,omitempty"`
}

// Check is a structured observation attached to a Result or Subresult,
// produced by a before-test/after-test check plugin.
type Check struct {
	How    string  `yaml:"how"`
	Event  string  `yaml:"event"` // "before-test" | "after-test"
	Result Outcome `yaml:"result"`
	Policy string  `yaml:"policy"` // "respect" | "xfail" | "info"
	Log    []string `yaml:"log,omitempty"`
}

// Effective applies the check's interpretation policy to its raw Result,
// the way Interpret applies a test's result policy.
func (c Check) Effective() Outcome {
	switch c.Policy {
	case "xfail":
		return xfailSwap(c.Result)
	case "info":
		if c.Result == Error {
			return Error
		}
		return Info
	default: // "respect"
		return c.Result
	}
}

// Subresult has the same shape as Result but nests under a parent Result;
// produced by tmt-report-result calls, beakerlib phase boundaries, or a
// custom execute plugin.
type Subresult struct {
	Name      string    `yaml:"name"`
	Result    Outcome   `yaml:"result"`
	Log       []string  `yaml:"log,omitempty"`
	StartTime time.Time `yaml:"start-time"`
	EndTime   time.Time `yaml:"end-time"`
}

// Result is one record per (invocation, guest) pair.
type Result struct {
	Name           string            `yaml:"name"`
	SerialNumber   int               `yaml:"serial-number"`
	Guest          GuestRef          `yaml:"guest"`
	Result         Outcome           `yaml:"result"`
	OriginalResult Outcome           `yaml:"original-result"`
	Log            []string          `yaml:"log,omitempty"`
	StartTime      time.Time         `yaml:"start-time"`
	EndTime        time.Time         `yaml:"end-time"`
	Duration       time.Duration     `yaml:"duration"`
	Context        map[string]string `yaml:"context,omitempty"`
	DataPath       string            `yaml:"data-path,omitempty"`
	Checks         []Check           `yaml:"check,omitempty"`
	Subresults     []Subresult       `yaml:"subresult,omitempty"`
	Notes          []string          `yaml:"note,omitempty"`
	IDs            map[string]string `yaml:"ids,omitempty"`
}

// xfailSwap implements the "xfail" policy: pass and fail trade places,
// everything else is unaffected.
func xfailSwap(o Outcome) Outcome {
	switch o {
	case Pass:
		return Fail
	case Fail:
		return Pass
	default:
		return o
	}
}

// Interpret computes the effective `result` for a test given its raw
// (pre-interpretation) outcome, the test's result policy, and its checks.
// Both original and effective outcomes must be persisted (invariant 1).
//
// The "custom" policy is left as an Open Question by the specification
// ("do not guess, require the spec-writer to pick a policy" — §9); this
// implementation passes the original outcome through unchanged for custom,
// the same as "respect", and documents that decision in DESIGN.md.
func Interpret(original Outcome, policy string, checks []Check) Outcome {
	effective := original

	switch policy {
	case "xfail":
		effective = xfailSwap(original)
	case "info":
		if original != Error {
			effective = Info
		}
	case "respect", "custom", "restraint", "":
		effective = original
	}

	for _, c := range checks {
		if c.Policy == "respect" && Rank(c.Effective()) > Rank(effective) {
			effective = c.Effective()
		} else if c.Policy != "respect" {
			// xfail/info checks only ever escalate via Error, never mask a
			// worse test outcome with a milder check outcome.
			if c.Effective() == Error && Rank(Error) > Rank(effective) {
				effective = Error
			}
		}
	}

	return effective
}
