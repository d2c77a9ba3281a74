// Package report implements the Report Sink contract (spec §4.7): feed
// each backend the finalized ordered Result list for a plan plus its
// context. Reporting is best-effort per backend — a failing sink must
// never mutate a Result (spec §4.7).
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"conductor/internal/result"
)

// Sink consumes a plan's finalized results. Implementations must not
// mutate results.
type Sink interface {
	Report(planID string, context map[string]string, results []result.Result) error
}

// TableSink renders a human-readable table to Out, grounded on the
// teacher's go-pretty usage for CLI output.
type TableSink struct {
	Out io.Writer
}

func NewTableSink(out io.Writer) *TableSink { return &TableSink{Out: out} }

func (s *TableSink) Report(planID string, _ map[string]string, results []result.Result) error {
	t := table.NewWriter()
	t.SetOutputMirror(s.Out)
	t.AppendHeader(table.Row{"serial", "name", "guest", "result", "original", "duration"})
	for _, r := range results {
		t.AppendRow(table.Row{r.SerialNumber, r.Name, r.Guest.Name, r.Result, r.OriginalResult, r.Duration})
	}
	fmt.Fprintf(s.Out, "plan %s:\n", planID)
	t.Render()
	return nil
}

// JSONSink renders the results as a single JSON document per plan, the
// machine-readable counterpart consumed by external report back-ends
// (HTML/JUnit/ReportPortal are out of scope per spec §1 — this is the
// generic handoff point those would subscribe to).
type JSONSink struct {
	Out io.Writer
}

func NewJSONSink(out io.Writer) *JSONSink { return &JSONSink{Out: out} }

type jsonReport struct {
	Plan    string            `json:"plan"`
	Context map[string]string `json:"context,omitempty"`
	Results []result.Result   `json:"results"`
}

func (s *JSONSink) Report(planID string, context map[string]string, results []result.Result) error {
	doc := jsonReport{Plan: planID, Context: context, Results: results}
	enc := json.NewEncoder(s.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("json report for plan %s: %w", planID, err)
	}
	return nil
}

// Multi fans a report out to every sink in order, collecting but not
// stopping on a failing sink's error (spec §4.7: "failing report backend
// must not change any Result outcome" — it must also not block its peers).
type Multi struct {
	Sinks []Sink
}

func (m Multi) Report(planID string, context map[string]string, results []result.Result) error {
	var firstErr error
	for _, sink := range m.Sinks {
		if err := sink.Report(planID, context, results); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
