// Package dispatch implements the multi-guest phase-level barrier (spec
// §4.4): a phase runs concurrently across its selected guests, or serially
// when there is one guest or the phase is declared sequential, and the
// dispatcher waits for every guest's instance to finish — success or
// failure — before the step engine may advance to the next phase.
package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"conductor/pkg/logging"
)

// GuestResult is one guest's outcome from a dispatched phase run.
type GuestResult struct {
	Guest string
	Err   error
}

// PhaseFunc runs one phase instance on one guest. It must observe ctx
// cancellation and return promptly once cancelled (spec §5: "allow
// in-flight guest commands a bounded grace period, then abandon them").
type PhaseFunc func(ctx context.Context, guestName string) error

// Dispatcher runs PhaseFuncs across guest sets, enforcing the phase-level
// barrier described in spec §4.4. It carries no state beyond configuration
// and is safe for concurrent use across independent plans.
type Dispatcher struct{}

// New returns a ready-to-use Dispatcher.
func New() *Dispatcher { return &Dispatcher{} }

// Run executes fn for every guest in guestNames under the rules of spec
// §4.4:
//   - |guestNames| == 1 or sequential == true: run serially, in order,
//     with the caller's context; a failure on one guest neither skips nor
//     cancels the later guests, so every guest runs and its result is
//     recorded.
//   - otherwise: run concurrently, waiting for every guest to finish
//     before returning (the barrier), cancelling the shared context on the
//     first error so in-flight peers can wind down cooperatively.
//
// Run always returns one GuestResult per guest in guestNames, in
// guestNames' order, regardless of how many failed.
func (d *Dispatcher) Run(ctx context.Context, guestNames []string, sequential bool, fn PhaseFunc) []GuestResult {
	results := make([]GuestResult, len(guestNames))

	if len(guestNames) <= 1 || sequential {
		for i, name := range guestNames {
			err := fn(ctx, name)
			results[i] = GuestResult{Guest: name, Err: err}
			if err != nil {
				logging.Warn("dispatch", "phase failed on guest %s: %v", name, err)
			}
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range guestNames {
		i, name := i, name
		g.Go(func() error {
			err := fn(gctx, name)
			results[i] = GuestResult{Guest: name, Err: err}
			return err
		})
	}
	// Wait is the barrier: every concurrent instance has returned, success
	// or failure, before control returns to the step engine (spec §4.4).
	if err := g.Wait(); err != nil {
		logging.Debug("dispatch", "phase barrier observed at least one failure: %v", err)
	}
	return results
}

// FirstError returns the first non-nil error among results, in slice
// order, or nil if every guest succeeded.
func FirstError(results []GuestResult) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("guest %s: %w", r.Guest, r.Err)
		}
	}
	return nil
}
