package result

import (
	"fmt"
	"os"
	"sync"

	"conductor/internal/workdir"
)

// key identifies a Result by (serial-number, guest-name), per invariant 3:
// results for the same test appearing in k discover phases must not
// collide because each gets a distinct serial.
func key(serial int, guestName string) string {
	return fmt.Sprintf("%d/%s", serial, guestName)
}

// Store is the process-wide result store described in spec §5: a single
// mutex-guarded map, one writer at a time, every mutation flushed to
// results.yaml before the lock is released so that readers (progress
// display, report sinks) only ever observe a consistent snapshot.
type Store struct {
	mu   sync.Mutex
	path string

	order []string // keys in first-seen order, to keep results.yaml stable
	byKey map[string]*Result
}

// NewStore creates an empty store that persists to resultsPath.
func NewStore(resultsPath string) *Store {
	return &Store{
		path:  resultsPath,
		byKey: make(map[string]*Result),
	}
}

// LoadStore reads an existing results.yaml (e.g. from a prior run being
// resumed or rerun) into a new Store. A missing file yields an empty store,
// not an error, since a fresh plan has no prior results.
func LoadStore(resultsPath string) (*Store, error) {
	s := NewStore(resultsPath)

	var existing []Result
	if err := workdir.ReadYAML(resultsPath, &existing); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("loading %s: %w", resultsPath, err)
	}

	for i := range existing {
		r := existing[i]
		k := key(r.SerialNumber, r.Guest.Name)
		s.byKey[k] = &r
		s.order = append(s.order, k)
	}
	return s, nil
}

// Upsert records a Result, replacing any prior entry for the same
// (serial-number, guest) key and leaving every other key untouched — this
// is exactly the merge rule rerun/--failed-only relies on (spec §4.6): the
// store only ever holds one Result per key, so loading a prior run's
// results.yaml and then Upserting only the rerun tests naturally preserves
// every untouched Result verbatim.
//
// Every mutation flushes results.yaml before the lock is released, so
// interrupting the engine at any point between two Upserts never loses a
// completed Result (invariant 4).
func (s *Store) Upsert(r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(r.SerialNumber, r.Guest.Name)
	copyR := r
	if _, exists := s.byKey[k]; !exists {
		s.order = append(s.order, k)
	}
	s.byKey[k] = &copyR

	return s.flushLocked()
}

// All returns a snapshot of every Result in source order.
func (s *Store) All() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Result, 0, len(s.order))
	for _, k := range s.order {
		if r, ok := s.byKey[k]; ok {
			out = append(out, *r)
		}
	}
	return out
}

// Get returns the Result for (serial, guestName), if present.
func (s *Store) Get(serial int, guestName string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byKey[key(serial, guestName)]
	if !ok {
		return Result{}, false
	}
	return *r, true
}

// flushLocked writes results.yaml; callers must already hold s.mu.
func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}
	snapshot := make([]Result, 0, len(s.order))
	for _, k := range s.order {
		if r, ok := s.byKey[k]; ok {
			snapshot = append(snapshot, *r)
		}
	}
	return workdir.WriteYAMLAtomic(s.path, snapshot)
}
