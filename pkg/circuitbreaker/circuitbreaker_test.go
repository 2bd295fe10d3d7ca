package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unreachable")

// newTestBreaker returns a breaker on a manual clock so cooldown expiry is
// driven by the test, not by sleeping.
func newTestBreaker(s Settings) (*Breaker, *time.Time) {
	b := New(s)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < b.settings.Trip; i++ {
		err := b.Do(context.Background(), func() error { return errStoreDown })
		require.ErrorIs(t, err, errStoreDown)
	}
	require.Equal(t, Open, b.State())
}

func TestBreakerPassesThroughWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(StoreSettings())
	calls := 0
	err := b.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Closed, b.State())
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(StoreSettings())
	tripBreaker(t, b)

	calls := 0
	err := b.Do(context.Background(), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls, "an open breaker must not touch the backend")
}

func TestSuccessResetsTheFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(StoreSettings())
	for i := 0; i < b.settings.Trip-1; i++ {
		b.Do(context.Background(), func() error { return errStoreDown })
	}
	require.NoError(t, b.Do(context.Background(), func() error { return nil }))
	b.Do(context.Background(), func() error { return errStoreDown })
	assert.Equal(t, Closed, b.State(), "only consecutive failures trip the breaker")
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(Settings{Trip: 3, Heal: 2, Cooldown: 10 * time.Second, HalfOpenCalls: 1})
	tripBreaker(t, b)

	*now = now.Add(10 * time.Second)
	require.NoError(t, b.Do(context.Background(), func() error { return nil }))
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Do(context.Background(), func() error { return nil }))
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	b, now := newTestBreaker(Settings{Trip: 3, Heal: 2, Cooldown: 10 * time.Second, HalfOpenCalls: 1})
	tripBreaker(t, b)

	*now = now.Add(10 * time.Second)
	err := b.Do(context.Background(), func() error { return errStoreDown })
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, Open, b.State())

	assert.ErrorIs(t, b.Do(context.Background(), func() error { return nil }), ErrOpen,
		"the cooldown restarts after a failed recovery call")
}

func TestHalfOpenAdmitsLimitedCalls(t *testing.T) {
	b, now := newTestBreaker(Settings{Trip: 1, Heal: 2, Cooldown: time.Second, HalfOpenCalls: 1})
	tripBreaker(t, b)
	*now = now.Add(time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	go b.Do(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	assert.ErrorIs(t, b.Do(context.Background(), func() error { return nil }), ErrOpen,
		"a second call while the recovery call is in flight is refused")
	close(release)
}

func TestCancelledContextDoesNotCountAgainstBackend(t *testing.T) {
	b, _ := newTestBreaker(Settings{Trip: 1, Heal: 1, Cooldown: time.Second, HalfOpenCalls: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func() error { return errStoreDown })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
}

func TestNotifyReportsTransitions(t *testing.T) {
	b, _ := newTestBreaker(Settings{Trip: 1, Heal: 1, Cooldown: time.Second, HalfOpenCalls: 1})
	var transitions []string
	b.Notify(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})
	tripBreaker(t, b)
	b.Reset()
	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}
