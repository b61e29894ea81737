package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_SpacesCalls(t *testing.T) {
	l := New(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	var stamps []time.Time
	for range 3 {
		require.NoError(t, l.Wait(ctx))
		stamps = append(stamps, time.Now())
	}

	assert.Less(t, stamps[0].Sub(start), 20*time.Millisecond, "first call is not delayed")
	for i := 1; i < len(stamps); i++ {
		// Allow a little scheduler slack below the nominal interval.
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 40*time.Millisecond)
	}
}

func TestWait_ZeroIntervalNeverBlocks(t *testing.T) {
	l := New(0)
	start := time.Now()
	for range 100 {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWait_NilLimiter(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
	assert.Zero(t, l.Interval())
}

func TestWait_ContextCancelled(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestWaitAsync(t *testing.T) {
	l := PerSecond(100)
	assert.Equal(t, 10*time.Millisecond, l.Interval())
	assert.NoError(t, <-l.WaitAsync(context.Background()))
}
