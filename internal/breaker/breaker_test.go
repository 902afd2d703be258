package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker() *Breaker {
	return New(Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     30 * time.Millisecond,
	})
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := newTestBreaker()
	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.IsAllowed())
}

func TestBreaker_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateOpen, b.GetState())
	assert.False(t, b.IsAllowed())

	stats := b.GetStats()
	assert.Equal(t, int64(1), stats.Trips)
	assert.Equal(t, int64(3), stats.Attempts)
	assert.False(t, stats.LastTripTime.IsZero())
}

// TestBreaker_HalfOpenAfterResetTimeoutAllowsProbe covers §8's breaker property:
// once failures reach the threshold the breaker opens and rejects
// calls until its reset timeout elapses, at which point it allows a
// probe through again.
func TestBreaker_HalfOpenAfterResetTimeoutAllowsProbe(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.GetState())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, b.IsAllowed())
	assert.Equal(t, StateHalfOpen, b.GetState())
}

func TestBreaker_RecoverToClosedOnSuccessAfterHalfOpen(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(50 * time.Millisecond)
	require.True(t, b.IsAllowed())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.IsAllowed())
}

func TestBreaker_SuccessesResetFailureStreak(t *testing.T) {
	b := newTestBreaker()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	// four total failures but never three consecutive, so it stays closed
	assert.Equal(t, StateClosed, b.GetState())
}
