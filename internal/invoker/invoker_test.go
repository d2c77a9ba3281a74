package invoker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/guest"
	"conductor/internal/result"
)

func newLocalGuest(t *testing.T) guest.Guest {
	t.Helper()
	g, err := guest.LocalProvisioner{}.Provision(context.Background(), guest.Spec{Name: "localhost"})
	require.NoError(t, err)
	return g
}

func TestInvokePassingTest(t *testing.T) {
	dataDir := t.TempDir()
	g := newLocalGuest(t)
	inv := Invocation{
		Serial:       1,
		Name:         "/tests/smoke",
		Script:       []string{"sh", "-c", "exit 0"},
		Framework:    "shell",
		Duration:     5 * time.Second,
		ResultPolicy: "respect",
	}

	iv := New()
	res, err := iv.Invoke(context.Background(), inv, g, nil, "", RunContext{RunID: "run-1"}, dataDir)
	require.NoError(t, err)

	assert.Equal(t, result.Pass, res.OriginalResult)
	assert.Equal(t, result.Pass, res.Result)
	assert.Equal(t, "/tests/smoke", res.Name)
	assert.Equal(t, "localhost", res.Guest.Name)
}

func TestInvokeFailingTestXfailPolicy(t *testing.T) {
	dataDir := t.TempDir()
	g := newLocalGuest(t)
	inv := Invocation{
		Serial:       2,
		Name:         "/tests/expected-fail",
		Script:       []string{"sh", "-c", "exit 1"},
		Framework:    "shell",
		Duration:     5 * time.Second,
		ResultPolicy: "xfail",
	}

	iv := New()
	res, err := iv.Invoke(context.Background(), inv, g, nil, "", RunContext{RunID: "run-1"}, dataDir)
	require.NoError(t, err)

	assert.Equal(t, result.Fail, res.OriginalResult)
	assert.Equal(t, result.Pass, res.Result)
}

func TestInvokeHarvestsSubresults(t *testing.T) {
	dataDir := t.TempDir()
	g := newLocalGuest(t)
	inv := Invocation{
		Serial:       3,
		Name:         "/tests/multi",
		Script: []string{"sh", "-c", `printf '2024-01-01T00:00:00Z\tcase-a\tpass\n2024-01-01T00:00:01Z\tcase-b\tfail\n' >> "$TMT_TEST_DATA/subresults.tsv"; exit 0`},
		Framework:    "shell",
		Duration:     5 * time.Second,
		ResultPolicy: "respect",
	}

	iv := New()
	res, err := iv.Invoke(context.Background(), inv, g, nil, "", RunContext{RunID: "run-1"}, dataDir)
	require.NoError(t, err)

	require.Len(t, res.Subresults, 2)
	// The exit code (0) always determines OriginalResult; the worse
	// subresult only escalates the effective/interpreted Result.
	assert.Equal(t, result.Pass, res.OriginalResult)
	assert.Equal(t, result.Fail, res.Result)
	assert.Contains(t, res.Notes, "result reduced to fail by subresults")
}

func TestInvokeRestartLimitReachedAddsNote(t *testing.T) {
	dataDir := t.TempDir()
	g := newLocalGuest(t)
	inv := Invocation{
		Serial:       4,
		Name:         "/tests/flaky",
		Script:       []string{"sh", "-c", "exit 42"},
		Framework:    "shell",
		Duration:     5 * time.Second,
		ResultPolicy: "respect",
		Restart:      RestartPolicy{ExitCodes: []int{42}, MaxCount: 2},
	}

	iv := New()
	res, err := iv.Invoke(context.Background(), inv, g, nil, "", RunContext{RunID: "run-1"}, dataDir)
	require.NoError(t, err)

	assert.Equal(t, result.Fail, res.OriginalResult)
	assert.Contains(t, res.Notes, "restart limit reached")
}

func TestInvokeAbortReturnsErrAborted(t *testing.T) {
	dataDir := t.TempDir()
	g := newLocalGuest(t)
	inv := Invocation{
		Serial:       5,
		Name:         "/tests/aborts",
		Script:       []string{"sh", "-c", fmt.Sprintf("exit %d", AbortMarkerExitCode)},
		Framework:    "shell",
		Duration:     5 * time.Second,
		ResultPolicy: "respect",
	}

	iv := New()
	res, err := iv.Invoke(context.Background(), inv, g, nil, "", RunContext{RunID: "run-1"}, dataDir)

	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, result.Error, res.OriginalResult)
	assert.Equal(t, result.Error, res.Result)
}

func TestWriteHelperScriptsGeneratesExecutableFiles(t *testing.T) {
	dir := t.TempDir()
	reboot, abort, reportResult, err := WriteHelperScripts(dir, filepath.Join(dir, "pid"), filepath.Join(dir, "lock"))
	require.NoError(t, err)

	for _, p := range []string{reboot, abort, reportResult} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0o111, "helper script %s should be executable", p)
	}
}

func TestRestartPolicyShouldRestart(t *testing.T) {
	p := RestartPolicy{ExitCodes: []int{42}, MaxCount: 2}
	assert.True(t, p.ShouldRestart(42, 0))
	assert.True(t, p.ShouldRestart(42, 1))
	assert.False(t, p.ShouldRestart(42, 2))
	assert.False(t, p.ShouldRestart(1, 0))
}
