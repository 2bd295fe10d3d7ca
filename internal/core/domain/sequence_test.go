package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGateRequiresPrerequisites(t *testing.T) {
	state := NewSequenceState()

	err := state.SetGate(StepConnectionObject)
	assert.ErrorIs(t, err, ErrSequenceViolation)
	assert.False(t, state.Gate(StepConnectionObject))

	assert.NoError(t, state.SetGate(StepMediaAccess))
	assert.NoError(t, state.SetGate(StepConnectionObject))
}

func TestSetGateRejectionLeavesStateUntouched(t *testing.T) {
	state := NewSequenceState()
	assert.NoError(t, state.SetGate(StepMediaAccess))

	// second gate in the batch violates, so the first must not apply either
	err := state.SetGate(StepConnectionObject, StepOfferCreated)
	assert.ErrorIs(t, err, ErrSequenceViolation)
	assert.False(t, state.Gate(StepConnectionObject))
}

func TestDiscoveryAndNegotiationGatesFlipTogether(t *testing.T) {
	state := NewSequenceState()
	assert.NoError(t, state.MarkCompleted(StepMediaAccess))
	assert.NoError(t, state.MarkCompleted(StepConnectionObject))
	assert.NoError(t, state.MarkCompleted(StepTrackAttachment))

	assert.NoError(t, state.SetGate(StepDiscoverySetup, StepNegotiationSetup))
	assert.True(t, state.Gate(StepDiscoverySetup))
	assert.True(t, state.Gate(StepNegotiationSetup))
}

func TestValidateOrder(t *testing.T) {
	state := NewSequenceState()

	err := state.ValidateOrder(StepTrackAttachment)
	assert.ErrorIs(t, err, ErrSequenceViolation)

	assert.NoError(t, state.MarkCompleted(StepMediaAccess))
	assert.NoError(t, state.MarkCompleted(StepConnectionObject))
	assert.NoError(t, state.ValidateOrder(StepTrackAttachment))

	// validation has no side effects
	assert.False(t, state.Completed(StepTrackAttachment))
}

func TestValidateOrderTreatsSetupStepsAsPeers(t *testing.T) {
	state := NewSequenceState()
	assert.NoError(t, state.MarkCompleted(StepMediaAccess))
	assert.NoError(t, state.MarkCompleted(StepConnectionObject))
	assert.NoError(t, state.MarkCompleted(StepTrackAttachment))

	// negotiation setup does not require discovery setup to be completed first
	assert.NoError(t, state.ValidateOrder(StepNegotiationSetup))
	assert.NoError(t, state.ValidateOrder(StepDiscoverySetup))
}

func TestValidateOrderUnknownStep(t *testing.T) {
	state := NewSequenceState()
	assert.ErrorIs(t, state.ValidateOrder(SequenceStep("bogus")), ErrSequenceViolation)
}

func TestCompletedStepsInCanonicalOrder(t *testing.T) {
	state := NewSequenceState()
	assert.NoError(t, state.MarkCompleted(StepMediaAccess))
	assert.NoError(t, state.MarkCompleted(StepConnectionObject))

	assert.Equal(t, []SequenceStep{StepMediaAccess, StepConnectionObject}, state.CompletedSteps())
}
