package passcode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndMatches(t *testing.T) {
	hash, err := Hash("4242")
	require.NoError(t, err)
	assert.True(t, Matches("4242", hash))
	assert.False(t, Matches("0000", hash))
}

func TestHashRejectsNonFourDigit(t *testing.T) {
	_, err := Hash("42")
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = Hash("abcd")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestLockoutDurationIsMonotonicAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for i := 0; i <= 10; i++ {
		d := LockoutDuration(i)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
	assert.Equal(t, 300*time.Second, LockoutDuration(8))
	assert.Equal(t, 300*time.Second, LockoutDuration(20))
}

func TestWindowLockoutAfterFiveWrongAttempts(t *testing.T) {
	hash, err := Hash("4242")
	require.NoError(t, err)
	now := time.Now()
	w := NewWindow(now, 300)

	var lastErr error
	for i := 0; i < 5; i++ {
		lastErr = w.Verify(now, hash, "0000")
	}
	assert.ErrorIs(t, lastErr, ErrInvalid)
	require.NotNil(t, w.LockedUntil)
	assert.WithinDuration(t, now.Add(32*time.Second), *w.LockedUntil, time.Second)
	assert.Equal(t, 5, w.AttemptsLeft)

	err = w.Verify(now, hash, "4242")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestWindowSuccessResetsCounters(t *testing.T) {
	hash, err := Hash("4242")
	require.NoError(t, err)
	now := time.Now()
	w := NewWindow(now, 300)

	_ = w.Verify(now, hash, "0000")
	_ = w.Verify(now, hash, "0000")
	require.NoError(t, w.Verify(now, hash, "4242"))
	assert.Equal(t, 5, w.AttemptsLeft)
	assert.Nil(t, w.LockedUntil)
}

func TestWindowExpired(t *testing.T) {
	hash, err := Hash("4242")
	require.NoError(t, err)
	now := time.Now()
	w := NewWindow(now, 1)
	err = w.Verify(now.Add(2*time.Second), hash, "4242")
	assert.ErrorIs(t, err, ErrExpired)
}
