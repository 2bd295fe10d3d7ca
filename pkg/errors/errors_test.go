package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(ErrCodeLockContention, "lock busy", false)
	assert.Equal(t, "LOCK_CONTENTION: lock busy", plain.Error())

	cause := errors.New("socket closed")
	wrapped := Wrap(cause, ErrCodeNegotiationFailed, "offer not delivered", true)
	assert.Equal(t, "NEGOTIATION_FAILED: offer not delivered (caused by: socket closed)", wrapped.Error())
	assert.True(t, wrapped.Fatal)
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("device busy")
	err := NewMediaAcquisitionError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestGetOrchestrationErrorWalksChain(t *testing.T) {
	inner := NewPrerequisiteViolation("offer-created", "negotiation-setup")
	outer := fmt.Errorf("sequence failed at offer-created: %w", inner)

	got := GetOrchestrationError(outer)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodePrerequisiteViolation, got.Code)
	assert.True(t, got.Fatal)

	assert.Nil(t, GetOrchestrationError(nil))
	assert.Nil(t, GetOrchestrationError(errors.New("plain")))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrapped twice: %w",
		fmt.Errorf("wrapped once: %w", NewLockContention("media-access")))

	assert.True(t, HasCode(err, ErrCodeLockContention))
	assert.False(t, HasCode(err, ErrCodeTimeoutExpired))
	assert.False(t, HasCode(nil, ErrCodeLockContention))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeLockContention))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeTimeoutExpired, "discovery timeout expired", false).
		WithContext("network_class", "wifi").
		WithContext("attempt", 2)

	assert.Equal(t, "wifi", err.Context["network_class"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestConstructorFatality(t *testing.T) {
	assert.True(t, NewPrerequisiteViolation("a", "b").Fatal)
	assert.False(t, NewLockContention("x").Fatal)
	assert.True(t, NewMediaAcquisitionError(errors.New("x")).Fatal)
	assert.True(t, NewNegotiationError("x", nil).Fatal)
	assert.False(t, NewConfigDegraded("no reflexive servers").Fatal)
	assert.True(t, NewInvariantViolation("bad transition").Fatal)
	assert.True(t, NewTimeoutError("overall", true).Fatal)
	assert.False(t, NewTimeoutError("discovery", false).Fatal)
}
