package imsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenThrottle_Burst(t *testing.T) {
	th := NewTokenThrottle(1, 3)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTokenThrottle_Pace(t *testing.T) {
	th := NewTokenThrottle(100, 1)

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTokenThrottle_ContextCanceled(t *testing.T) {
	th := NewTokenThrottle(0.1, 1)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx))
}

func TestTokenThrottle_Reload(t *testing.T) {
	th := NewTokenThrottle(0.1, 1)
	require.NoError(t, th.Wait(context.Background()))

	th.Reload(1000, 10)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestFunnelThrottle_Pace(t *testing.T) {
	th := NewFunnelThrottle(100)

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	// the first slot is free, the other three are 10ms apart
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestFunnelThrottle_ContextCanceled(t *testing.T) {
	th := NewFunnelThrottle(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, th.Wait(ctx), context.Canceled)
}

func TestFunnelThrottle_Reload(t *testing.T) {
	th := NewFunnelThrottle(1)
	require.NoError(t, th.Wait(context.Background()))

	th.Reload(1000)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestFunnelThrottle_RateBelowOne(t *testing.T) {
	var th *FunnelThrottle
	require.NotPanics(t, func() { th = NewFunnelThrottle(0) })
	require.NoError(t, th.Wait(context.Background()))

	require.NotPanics(t, func() { th.Reload(-3) })
	require.NoError(t, th.Wait(context.Background()))
}

func TestNoThrottle(t *testing.T) {
	assert.NoError(t, noThrottle{}.Wait(context.Background()))
}
