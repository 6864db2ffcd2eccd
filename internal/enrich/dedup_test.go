package enrich

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowSuppressesWithinHorizon(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0))
	w := NewWindow(time.Minute, 500, clock)

	recent, _ := w.RecentlyAttempted("ebay:us:drill")
	require.False(t, recent)

	w.MarkAttempted("ebay:us:drill")

	recent, retryAfter := w.RecentlyAttempted("ebay:us:drill")
	require.True(t, recent)
	require.Equal(t, time.Minute, retryAfter)

	clock.Advance(40 * time.Second)
	recent, retryAfter = w.RecentlyAttempted("ebay:us:drill")
	require.True(t, recent)
	require.Equal(t, 20*time.Second, retryAfter)

	clock.Advance(21 * time.Second)
	recent, _ = w.RecentlyAttempted("ebay:us:drill")
	require.False(t, recent)
}

func TestWindowKeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0))
	w := NewWindow(time.Minute, 500, clock)

	w.MarkAttempted("ebay:us:drill")
	recent, _ := w.RecentlyAttempted("ebay:us:saw")
	require.False(t, recent)
}

func TestWindowSweepBounded(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0))
	w := NewWindow(time.Minute, 10, clock)

	for i := 0; i < 20; i++ {
		w.MarkAttempted(fmt.Sprintf("key-%d", i))
	}

	// All entries are still inside the window: sweep may not drop them.
	w.Sweep()
	require.Equal(t, 20, w.Len())

	clock.Advance(2 * time.Minute)
	w.Sweep()
	require.Equal(t, 0, w.Len())
}

func TestWindowSweepSkipsWhenUnderBound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0))
	w := NewWindow(time.Minute, 10, clock)

	w.MarkAttempted("a")
	clock.Advance(2 * time.Minute)

	// Under the bound the sweep is skipped entirely, stale entry included.
	w.Sweep()
	require.Equal(t, 1, w.Len())
}
