package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalScheduleLocker(t *testing.T) {
	locker := NewLocalScheduleLocker()
	ctx := context.Background()

	release, ok := locker.TryLock(ctx, 1)
	require.True(t, ok)
	require.NotNil(t, release)

	_, again := locker.TryLock(ctx, 1)
	assert.False(t, again, "a held lock must not be taken twice")

	other, ok := locker.TryLock(ctx, 2)
	require.True(t, ok, "locks are per schedule")
	other()

	release()
	retaken, ok := locker.TryLock(ctx, 1)
	require.True(t, ok, "a released lock must be takeable again")

	// the stale release func must not free the new holder
	release()
	_, stillHeld := locker.TryLock(ctx, 1)
	assert.False(t, stillHeld)
	retaken()
}

func TestLocalScheduleLockerContention(t *testing.T) {
	locker := NewLocalScheduleLocker()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := locker.TryLock(context.Background(), 7); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one contender may win")
}
