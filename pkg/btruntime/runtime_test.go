package btruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(150 * time.Millisecond)
	assert.Equal(t, start.Add(150*time.Millisecond), clock.Now())
}

func TestFakeClockDeadlineComparison(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	deadline := start.Add(100 * time.Millisecond)

	assert.False(t, !clock.Now().Before(deadline))

	clock.Advance(150 * time.Millisecond)
	assert.True(t, !clock.Now().Before(deadline))
}

func TestRealClockSleepUntilPastDeadlineReturnsImmediately(t *testing.T) {
	clock := NewRealClock()
	err := clock.SleepUntil(context.Background(), clock.Now().Add(-time.Second))
	require.NoError(t, err)
}

func TestRealClockSleepUntilCancelled(t *testing.T) {
	clock := NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := clock.SleepUntil(ctx, clock.Now().Add(time.Hour))
	require.Error(t, err)
}
