package webrtc

import (
	"sync"
	"testing"
	"time"

	"pairlink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription() *candidateSubscription {
	sub := &candidateSubscription{
		events: make(chan ports.CandidateEvent),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go sub.drain()
	return sub
}

func TestSubscriptionDeliversQueuedEvents(t *testing.T) {
	sub := newTestSubscription()
	defer sub.Unsubscribe()

	first := ports.CandidateEvent{At: time.Now()}
	second := ports.CandidateEvent{At: first.At.Add(time.Millisecond)}
	sub.push(first)
	sub.push(second)

	select {
	case got := <-sub.Events():
		assert.Equal(t, first.At, got.At)
	case <-time.After(time.Second):
		t.Fatal("first event not delivered")
	}
	select {
	case got := <-sub.Events():
		assert.Equal(t, second.At, got.At)
	case <-time.After(time.Second):
		t.Fatal("second event not delivered")
	}
}

func TestPushAfterUnsubscribeIsDropped(t *testing.T) {
	sub := newTestSubscription()
	sub.Unsubscribe()

	sub.push(ports.CandidateEvent{At: time.Now()})

	select {
	case <-sub.Events():
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	sub := newTestSubscription()
	sub.Unsubscribe()
	require.NotPanics(t, sub.Unsubscribe)
}

// Handlers keep firing from pion's gathering goroutine while teardown runs;
// concurrent push and Unsubscribe must never panic.
func TestConcurrentPushAndUnsubscribe(t *testing.T) {
	for i := 0; i < 200; i++ {
		sub := newTestSubscription()

		consumerDone := make(chan struct{})
		go func() {
			defer close(consumerDone)
			for {
				select {
				case <-sub.events:
				case <-sub.done:
					return
				}
			}
		}()

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					sub.push(ports.CandidateEvent{At: time.Now()})
				}
			}()
		}
		sub.Unsubscribe()
		wg.Wait()
		<-consumerDone
	}
}
