package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAtomicStatusTerminalIsSticky(t *testing.T) {
	var s atomicStatus
	s.set(StatusConnected)
	require.True(t, s.set(StatusBanned))
	require.Equal(t, StatusBanned, s.load())

	require.False(t, s.set(StatusConnecting))
	require.Equal(t, StatusBanned, s.load())
}

func TestAtomicStatusCompareAndSet(t *testing.T) {
	var s atomicStatus
	s.set(StatusPending)
	require.True(t, s.compareAndSet(StatusPending, StatusConnecting))
	require.False(t, s.compareAndSet(StatusPending, StatusConnected))
	require.Equal(t, StatusConnecting, s.load())
}

func TestBackoffDurationBounded(t *testing.T) {
	min, max := defaultMinBackoff, defaultMaxBackoff
	for attempt := 0; attempt < 20; attempt++ {
		d := backoffDuration(attempt, min, max)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, max)
	}
}
