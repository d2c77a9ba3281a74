package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConcurrentWaitsForAll(t *testing.T) {
	d := New()
	var concurrent int32
	var maxSeen int32
	fn := func(ctx context.Context, guest string) error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}

	results := d.Run(context.Background(), []string{"g1", "g2", "g3"}, false, fn)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestRunSequentialOrdersCalls(t *testing.T) {
	d := New()
	var order []string
	fn := func(ctx context.Context, guest string) error {
		order = append(order, guest)
		return nil
	}
	results := d.Run(context.Background(), []string{"a", "b", "c"}, true, fn)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunSingleGuestIsSequentialEvenWithoutFlag(t *testing.T) {
	d := New()
	calls := 0
	fn := func(ctx context.Context, guest string) error {
		calls++
		return nil
	}
	d.Run(context.Background(), []string{"solo"}, false, fn)
	assert.Equal(t, 1, calls)
}

func TestFirstErrorReturnsEarliestFailure(t *testing.T) {
	boom := errors.New("boom")
	results := []GuestResult{{Guest: "a"}, {Guest: "b", Err: boom}, {Guest: "c", Err: errors.New("other")}}
	err := FirstError(results)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunPropagatesCancellationOnFailure(t *testing.T) {
	d := New()
	results := d.Run(context.Background(), []string{"ok", "bad"}, false, func(ctx context.Context, guest string) error {
		if guest == "bad" {
			return errors.New("guest failed")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	require.Len(t, results, 2)
	assert.Error(t, FirstError(results))
}
