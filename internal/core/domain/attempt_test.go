package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(PhaseInitializing, PhaseDiscovery))
	assert.True(t, CanTransition(PhaseDiscovery, PhaseNegotiation))
	assert.True(t, CanTransition(PhaseNegotiation, PhaseConnecting))
	assert.True(t, CanTransition(PhaseConnecting, PhaseCompleted))

	// any non-terminal phase may fail
	assert.True(t, CanTransition(PhaseInitializing, PhaseFailed))
	assert.True(t, CanTransition(PhaseDiscovery, PhaseFailed))
	assert.True(t, CanTransition(PhaseNegotiation, PhaseFailed))
	assert.True(t, CanTransition(PhaseConnecting, PhaseFailed))
}

func TestCannotSkipOrReverse(t *testing.T) {
	assert.False(t, CanTransition(PhaseInitializing, PhaseNegotiation))
	assert.False(t, CanTransition(PhaseInitializing, PhaseConnecting))
	assert.False(t, CanTransition(PhaseDiscovery, PhaseConnecting))
	assert.False(t, CanTransition(PhaseNegotiation, PhaseDiscovery))
	assert.False(t, CanTransition(PhaseConnecting, PhaseInitializing))
}

func TestTerminalPhasesAreFinal(t *testing.T) {
	for _, from := range []AttemptPhase{PhaseCompleted, PhaseFailed} {
		assert.True(t, from.Terminal())
		for _, to := range []AttemptPhase{PhaseInitializing, PhaseDiscovery, PhaseNegotiation, PhaseConnecting, PhaseCompleted, PhaseFailed} {
			assert.False(t, CanTransition(from, to), "%s must not leave terminal state", from)
		}
	}
}
