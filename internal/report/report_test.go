package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/result"
)

func sampleResults() []result.Result {
	return []result.Result{
		{Name: "/tests/a", SerialNumber: 1, Guest: result.GuestRef{Name: "g1"}, Result: result.Pass, OriginalResult: result.Pass, Duration: time.Second},
		{Name: "/tests/b", SerialNumber: 2, Guest: result.GuestRef{Name: "g1"}, Result: result.Fail, OriginalResult: result.Fail, Duration: 2 * time.Second},
	}
}

func TestTableSinkRendersRows(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTableSink(&buf)
	require.NoError(t, sink.Report("/plans/p1", nil, sampleResults()))

	out := buf.String()
	assert.Contains(t, out, "/tests/a")
	assert.Contains(t, out, "/tests/b")
}

func TestJSONSinkEncodesResults(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	require.NoError(t, sink.Report("/plans/p1", map[string]string{"arch": "x86_64"}, sampleResults()))

	var doc jsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "/plans/p1", doc.Plan)
	assert.Len(t, doc.Results, 2)
	assert.Equal(t, "x86_64", doc.Context["arch"])
}

type failingSink struct{ called *bool }

func (f failingSink) Report(string, map[string]string, []result.Result) error {
	*f.called = true
	return assert.AnError
}

func TestMultiContinuesPastFailingSink(t *testing.T) {
	called1, called2 := false, false
	m := Multi{Sinks: []Sink{failingSink{&called1}, failingSink{&called2}}}
	err := m.Report("/plans/p1", nil, sampleResults())
	assert.Error(t, err)
	assert.True(t, called1)
	assert.True(t, called2)
}
