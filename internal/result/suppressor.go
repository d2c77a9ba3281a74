package result

import (
	"sync"
	"time"
)

// FailureLogSuppressor throttles repeated-failure logging during a long
// rerun loop (e.g. a flaky guest connection retried across many tests), the
// same backoff shape as the teacher's status-sync failure tracker: log
// every time up to 3, then every 10th up to 100, then every 100th beyond,
// or whenever more than the timeout has elapsed since the last log.
type FailureLogSuppressor struct {
	mu       sync.Mutex
	counts   map[string]int
	lastLogs map[string]time.Time
	timeout  time.Duration
}

// NewFailureLogSuppressor creates a suppressor with the given log-again
// timeout (e.g. 5 minutes).
func NewFailureLogSuppressor(timeout time.Duration) *FailureLogSuppressor {
	return &FailureLogSuppressor{
		counts:   make(map[string]int),
		lastLogs: make(map[string]time.Time),
		timeout:  timeout,
	}
}

// ShouldLog reports whether the caller should emit a log line for another
// failure of key, and records the occurrence.
func (f *FailureLogSuppressor) ShouldLog(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[key]++
	count := f.counts[key]
	last, seen := f.lastLogs[key]
	now := time.Now()

	should := false
	switch {
	case count <= 3:
		should = true
	case count <= 100:
		should = count%10 == 0
	default:
		should = count%100 == 0
	}

	if !should && seen && now.Sub(last) >= f.timeout {
		should = true
	}

	if should {
		f.lastLogs[key] = now
	}
	return should
}

// Reset clears the suppression state for key, e.g. once a test passes
// after a run of failures.
func (f *FailureLogSuppressor) Reset(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	delete(f.lastLogs, key)
}
