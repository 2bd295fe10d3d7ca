package errors

import (
	"fmt"
)

// ErrorCode classifies orchestration failures
type ErrorCode string

const (
	ErrCodePrerequisiteViolation ErrorCode = "PREREQUISITE_VIOLATION"
	ErrCodeLockContention        ErrorCode = "LOCK_CONTENTION"
	ErrCodeMediaAcquisition      ErrorCode = "MEDIA_ACQUISITION_FAILED"
	ErrCodeNegotiationFailed     ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeTimeoutExpired        ErrorCode = "TIMEOUT_EXPIRED"
	ErrCodeConfigDegraded        ErrorCode = "CONFIG_DEGRADED"
	ErrCodeInvariantViolation    ErrorCode = "INVARIANT_VIOLATION"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// OrchestrationError represents an orchestration error with code and context
type OrchestrationError struct {
	Code    ErrorCode
	Message string
	Fatal   bool
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *OrchestrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *OrchestrationError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *OrchestrationError) WithContext(key string, value interface{}) *OrchestrationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new orchestration error
func New(code ErrorCode, message string, fatal bool) *OrchestrationError {
	return &OrchestrationError{
		Code:    code,
		Message: message,
		Fatal:   fatal,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with an orchestration error
func Wrap(err error, code ErrorCode, message string, fatal bool) *OrchestrationError {
	return &OrchestrationError{
		Code:    code,
		Message: message,
		Fatal:   fatal,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// NewPrerequisiteViolation reports an operation attempted before its prerequisites completed.
// Fatal to the calling operation.
func NewPrerequisiteViolation(operation, missing string) *OrchestrationError {
	return New(ErrCodePrerequisiteViolation,
		fmt.Sprintf("operation %s requires completed step %s", operation, missing), true)
}

// NewLockContention reports a lock held by another holder. Callers decide retry or abort.
func NewLockContention(name string) *OrchestrationError {
	return New(ErrCodeLockContention, fmt.Sprintf("lock %s is held by another holder", name), false)
}

// NewMediaAcquisitionError reports a media capture failure. Aborts the attempt.
func NewMediaAcquisitionError(err error) *OrchestrationError {
	return Wrap(err, ErrCodeMediaAcquisition, "failed to acquire local media", true)
}

// NewNegotiationError reports a negotiation failure. Aborts the attempt.
func NewNegotiationError(message string, err error) *OrchestrationError {
	return Wrap(err, ErrCodeNegotiationFailed, message, true)
}

// NewTimeoutError reports an expired timer. Fatal depends on which timer fired.
func NewTimeoutError(kind string, fatal bool) *OrchestrationError {
	return New(ErrCodeTimeoutExpired, fmt.Sprintf("%s timeout expired", kind), fatal)
}

// NewConfigDegraded reports a generated ICE config missing required server kinds.
// Non-fatal: the attempt proceeds with the reduced set.
func NewConfigDegraded(message string) *OrchestrationError {
	return New(ErrCodeConfigDegraded, message, false)
}

// NewInvariantViolation reports a rejected state update. The prior state is kept.
func NewInvariantViolation(message string) *OrchestrationError {
	return New(ErrCodeInvariantViolation, message, true)
}

// IsOrchestrationError checks if error is an OrchestrationError
func IsOrchestrationError(err error) bool {
	_, ok := err.(*OrchestrationError)
	return ok
}

// GetOrchestrationError extracts OrchestrationError from error chain
func GetOrchestrationError(err error) *OrchestrationError {
	if err == nil {
		return nil
	}

	if oErr, ok := err.(*OrchestrationError); ok {
		return oErr
	}

	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetOrchestrationError(u.Unwrap())
	}

	return nil
}

// HasCode checks whether err carries the given code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	oErr := GetOrchestrationError(err)
	return oErr != nil && oErr.Code == code
}
