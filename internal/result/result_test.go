package result

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReducePriorityOrder(t *testing.T) {
	assert.Equal(t, Error, Reduce(Pass, Warn, Fail, Error, Skip))
	assert.Equal(t, Fail, Reduce(Pass, Warn, Fail))
	assert.Equal(t, Pass, Reduce(Skip, Info, Pass))
	assert.Equal(t, Skip, Reduce(Skip))
	assert.Equal(t, Pass, Reduce())
}

func TestInterpretRespect(t *testing.T) {
	assert.Equal(t, Fail, Interpret(Fail, "respect", nil))
}

func TestInterpretXfail(t *testing.T) {
	assert.Equal(t, Fail, Interpret(Pass, "xfail", nil))
	assert.Equal(t, Pass, Interpret(Fail, "xfail", nil))
}

func TestInterpretInfo(t *testing.T) {
	assert.Equal(t, Info, Interpret(Fail, "info", nil))
	assert.Equal(t, Error, Interpret(Error, "info", nil))
}

func TestInterpretChecksEscalateRespectPolicy(t *testing.T) {
	checks := []Check{{Policy: "respect", Result: Fail}}
	assert.Equal(t, Fail, Interpret(Pass, "respect", checks))
}

func TestStoreUpsertMergesOnlyTouchedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.yaml")

	s := NewStore(path)
	require.NoError(t, s.Upsert(Result{Name: "/a", SerialNumber: 1, Guest: GuestRef{Name: "g0"}, Result: Pass}))
	require.NoError(t, s.Upsert(Result{Name: "/b", SerialNumber: 2, Guest: GuestRef{Name: "g0"}, Result: Fail}))
	require.NoError(t, s.Upsert(Result{Name: "/c", SerialNumber: 3, Guest: GuestRef{Name: "g0"}, Result: Error}))

	// Rerun: reload from disk, then only touch /b and /c.
	reloaded, err := LoadStore(path)
	require.NoError(t, err)
	require.NoError(t, reloaded.Upsert(Result{Name: "/b", SerialNumber: 2, Guest: GuestRef{Name: "g0"}, Result: Pass}))
	require.NoError(t, reloaded.Upsert(Result{Name: "/c", SerialNumber: 3, Guest: GuestRef{Name: "g0"}, Result: Fail}))

	all := reloaded.All()
	require.Len(t, all, 3)

	byName := map[string]Result{}
	for _, r := range all {
		byName[r.Name] = r
	}
	assert.Equal(t, Pass, byName["/a"].Result, "untouched key must be preserved verbatim")
	assert.Equal(t, Pass, byName["/b"].Result)
	assert.Equal(t, Fail, byName["/c"].Result)
}

func TestLoadStoreMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadStore(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestFailureLogSuppressorBackoff(t *testing.T) {
	sup := NewFailureLogSuppressor(time.Hour)
	var logged int
	for i := 0; i < 12; i++ {
		if sup.ShouldLog("guest-x") {
			logged++
		}
	}
	// 3 unconditional logs (1,2,3) plus the 10th: count=10 -> logs.
	assert.Equal(t, 4, logged)
}
