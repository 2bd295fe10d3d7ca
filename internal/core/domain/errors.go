package domain

import "errors"

var (
	ErrSequenceViolation  = errors.New("sequence order violation")
	ErrLockHeld           = errors.New("operation lock already held")
	ErrAttemptNotLive     = errors.New("no live connection attempt")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrMediaNotLive       = errors.New("media track is not live")
	ErrNoSendersAttached  = errors.New("no senders attached to connection")
	ErrConnectionRefused  = errors.New("connection object creation refused")
	ErrConfigUnavailable  = errors.New("no ice servers available")
	ErrTimingNotStarted   = errors.New("timing record not started")
	ErrSubscriptionClosed = errors.New("candidate subscription closed")
	ErrTransportNotReady  = errors.New("signaling transport not connected")
)
