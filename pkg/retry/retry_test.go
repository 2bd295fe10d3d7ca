package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{Attempts: 3, Base: time.Millisecond, Max: 4 * time.Millisecond}
}

func TestDoStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttemptsAndKeepsLastError(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	calls := 0
	err := Do(context.Background(), fastPolicy(), func() error {
		calls++
		return dialErr
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, dialErr)
}

func TestDoRecoversMidway(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAbortShortCircuits(t *testing.T) {
	tokenErr := errors.New("session token rejected")
	calls := 0
	err := Do(context.Background(), fastPolicy(), func() error {
		calls++
		return Abort(tokenErr)
	})
	assert.Equal(t, 1, calls, "an aborted failure must not be retried")
	assert.Equal(t, tokenErr, err, "the caller sees the cause, not the wrapper")
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, Base: time.Minute}, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation wins over the backoff sleep")
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := Policy{Attempts: 5, Base: 250 * time.Millisecond, Max: 2 * time.Second}
	assert.Equal(t, 250*time.Millisecond, p.delay(0))
	assert.Equal(t, 500*time.Millisecond, p.delay(1))
	assert.Equal(t, time.Second, p.delay(2))
	assert.Equal(t, 2*time.Second, p.delay(3))
	assert.Equal(t, 2*time.Second, p.delay(10))
}
