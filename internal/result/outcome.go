// Package result implements the Result/Subresult/Check data model: outcome
// priority reduction, continuous persistence through a mutex-guarded store,
// and the rerun merge rule (§4.6) that folds a partial re-run back into a
// prior results.yaml without disturbing untouched entries.
package result

// Outcome is one value from the Result outcome domain.
type Outcome string

const (
	Pending Outcome = "pending"
	Skip    Outcome = "skip"
	Info    Outcome = "info"
	Pass    Outcome = "pass"
	Warn    Outcome = "warn"
	Fail    Outcome = "fail"
	Error   Outcome = "error"
)

// priority gives each outcome its rank in the reduction order:
// skip < info < pass < warn < fail < error. pending has no defined rank
// and must never participate in a reduction.
var priority = map[Outcome]int{
	Skip:  0,
	Info:  1,
	Pass:  2,
	Warn:  3,
	Fail:  4,
	Error: 5,
}

// Reduce returns the highest-priority outcome among outcomes. Reducing zero
// outcomes returns Pass, matching "no subresults reported" defaulting to
// the exit-code-derived outcome rather than an empty reduction.
func Reduce(outcomes ...Outcome) Outcome {
	best := Pass
	bestRank, ok := priority[best]
	if !ok {
		bestRank = -1
	}
	set := false

	for _, o := range outcomes {
		rank, known := priority[o]
		if !known {
			continue
		}
		if !set || rank > bestRank {
			best = o
			bestRank = rank
			set = true
		}
	}
	return best
}

// Rank reports the priority rank of o, or -1 if o is not a ranked outcome
// (e.g. Pending).
func Rank(o Outcome) int {
	if r, ok := priority[o]; ok {
		return r
	}
	return -1
}
