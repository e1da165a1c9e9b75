package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitEnforcesDelay(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: 50 * time.Millisecond, Cooldown: time.Hour})

	ctx := context.Background()

	start := time.Now()
	l.Wait(ctx)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "first wait should pause for the full delay")

	start = time.Now()
	l.Wait(ctx)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitZeroDelayReturnsImmediately(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: 0, Cooldown: time.Hour})

	start := time.Now()
	l.Wait(context.Background())
	l.Wait(context.Background())
	require.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitCanceledContextDoesNotPanic(t *testing.T) {
	t.Parallel()

	l := New(Config{Delay: time.Minute, Cooldown: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	l.Wait(ctx)
	require.Less(t, time.Since(start), time.Second)
}

func TestBlockArmsCooldown(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := newWithClock(Config{Delay: 0, Cooldown: 3 * time.Hour}, func() time.Time { return now })

	require.False(t, l.IsBlocked(), "fresh limiter must not be blocked")

	l.Block()
	require.True(t, l.IsBlocked())
	require.Equal(t, now.Add(3*time.Hour), l.BlockedUntil())

	now = now.Add(2 * time.Hour)
	require.True(t, l.IsBlocked())

	now = now.Add(2 * time.Hour)
	require.False(t, l.IsBlocked(), "cooldown must expire")
}
