package domain

import "time"

type SessionID string
type UserID string
type PeerID string
type AttemptID string

// NetworkClass is the coarse network classification that selects timeout
// and ICE configuration presets.
type NetworkClass string

const (
	NetworkClassWifi    NetworkClass = "wifi"
	NetworkClassMobile  NetworkClass = "mobile"
	NetworkClassUnknown NetworkClass = "unknown"
)

// AttemptPhase is the lifecycle phase of a connection attempt.
type AttemptPhase string

const (
	PhaseInitializing AttemptPhase = "initializing"
	PhaseDiscovery    AttemptPhase = "discovery"
	PhaseNegotiation  AttemptPhase = "negotiation"
	PhaseConnecting   AttemptPhase = "connecting"
	PhaseCompleted    AttemptPhase = "completed"
	PhaseFailed       AttemptPhase = "failed"
)

// Terminal reports whether the phase ends the attempt.
func (p AttemptPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

var phaseTransitions = map[AttemptPhase][]AttemptPhase{
	PhaseInitializing: {PhaseDiscovery, PhaseFailed, PhaseCompleted},
	PhaseDiscovery:    {PhaseNegotiation, PhaseFailed, PhaseCompleted},
	PhaseNegotiation:  {PhaseConnecting, PhaseFailed, PhaseCompleted},
	PhaseConnecting:   {PhaseCompleted, PhaseFailed},
	PhaseCompleted:    {},
	PhaseFailed:       {},
}

// CanTransition reports whether moving from one phase to the other is valid.
func CanTransition(from, to AttemptPhase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ConnectionAttempt is one live connection-establishment attempt. Exactly one
// attempt is live at a time; starting a new one tears down the previous.
type ConnectionAttempt struct {
	ID                AttemptID
	Number            int
	StartedAt         time.Time
	Phase             AttemptPhase
	NetworkClass      NetworkClass
	LastNetworkChange time.Time
	FallbackTriggered bool
}
