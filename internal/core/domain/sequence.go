package domain

import "fmt"

// SequenceStep names one gated step of the connection pipeline.
type SequenceStep string

const (
	StepMediaAccess           SequenceStep = "media-access"
	StepConnectionObject      SequenceStep = "connection-object-creation"
	StepTrackAttachment       SequenceStep = "track-attachment"
	StepDiscoverySetup        SequenceStep = "path-discovery-setup"
	StepNegotiationSetup      SequenceStep = "negotiation-setup"
	StepOfferCreated          SequenceStep = "offer-created"
	StepAnswerCreated         SequenceStep = "answer-created"
	StepLocalDescriptionSet   SequenceStep = "local-description-set"
	StepRemoteDescriptionSet  SequenceStep = "remote-description-set"
	StepConnectionEstablished SequenceStep = "connection-established"
)

// CanonicalOrder lists every step in pipeline order. Discovery and negotiation
// setup share a rank: both start together once tracks are attached.
var CanonicalOrder = []SequenceStep{
	StepMediaAccess,
	StepConnectionObject,
	StepTrackAttachment,
	StepDiscoverySetup,
	StepNegotiationSetup,
	StepOfferCreated,
	StepLocalDescriptionSet,
	StepAnswerCreated,
	StepRemoteDescriptionSet,
	StepConnectionEstablished,
}

// StepPrerequisites declares which gates must hold before a gate may flip.
var StepPrerequisites = map[SequenceStep][]SequenceStep{
	StepMediaAccess:           {},
	StepConnectionObject:      {StepMediaAccess},
	StepTrackAttachment:       {StepMediaAccess, StepConnectionObject},
	StepDiscoverySetup:        {StepTrackAttachment},
	StepNegotiationSetup:      {StepTrackAttachment},
	StepOfferCreated:          {StepNegotiationSetup},
	StepLocalDescriptionSet:   {StepOfferCreated},
	StepAnswerCreated:         {StepOfferCreated},
	StepRemoteDescriptionSet:  {StepAnswerCreated},
	StepConnectionEstablished: {StepLocalDescriptionSet, StepRemoteDescriptionSet},
}

// canonicalRank returns the index of a step in CanonicalOrder, -1 if unknown.
func canonicalRank(step SequenceStep) int {
	for i, s := range CanonicalOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// SequenceState is the fixed set of boolean gates plus the completed-step set
// for one attempt. A gate may only flip true when all its prerequisite gates
// already hold; a violating update is rejected and the prior state kept.
type SequenceState struct {
	gates     map[SequenceStep]bool
	completed map[SequenceStep]bool
}

// NewSequenceState creates a state with all gates down.
func NewSequenceState() *SequenceState {
	return &SequenceState{
		gates:     make(map[SequenceStep]bool),
		completed: make(map[SequenceStep]bool),
	}
}

// Gate reports whether the gate for step is up.
func (s *SequenceState) Gate(step SequenceStep) bool {
	return s.gates[step]
}

// Completed reports whether step finished successfully.
func (s *SequenceState) Completed(step SequenceStep) bool {
	return s.completed[step]
}

// SetGate flips a gate true after validating its prerequisites. The update is
// applied to a copy first; on violation the original state is untouched.
func (s *SequenceState) SetGate(steps ...SequenceStep) error {
	next := make(map[SequenceStep]bool, len(s.gates)+len(steps))
	for k, v := range s.gates {
		next[k] = v
	}
	for _, step := range steps {
		for _, prereq := range StepPrerequisites[step] {
			if !next[prereq] {
				return fmt.Errorf("gate %s requires gate %s: %w", step, prereq, ErrSequenceViolation)
			}
		}
		next[step] = true
	}
	s.gates = next
	return nil
}

// MarkCompleted records a successfully finished step and raises its gate.
func (s *SequenceState) MarkCompleted(step SequenceStep) error {
	if err := s.SetGate(step); err != nil {
		return err
	}
	s.completed[step] = true
	return nil
}

// ValidateOrder checks, without side effects, that every canonically earlier
// step of the given step is already completed. Steps sharing the step's rank
// are not required.
func (s *SequenceState) ValidateOrder(step SequenceStep) error {
	rank := canonicalRank(step)
	if rank < 0 {
		return fmt.Errorf("unknown sequence step %s: %w", step, ErrSequenceViolation)
	}
	for i := 0; i < rank; i++ {
		earlier := CanonicalOrder[i]
		// discovery/negotiation setup are peers, not ordered among themselves
		if sameRank(earlier, step) {
			continue
		}
		if !s.completed[earlier] {
			return fmt.Errorf("step %s precedes %s and is not completed: %w", earlier, step, ErrSequenceViolation)
		}
	}
	return nil
}

func sameRank(a, b SequenceStep) bool {
	peers := map[SequenceStep]SequenceStep{
		StepDiscoverySetup:   StepNegotiationSetup,
		StepNegotiationSetup: StepDiscoverySetup,
	}
	return peers[a] == b
}

// CompletedSteps returns the completed steps in canonical order.
func (s *SequenceState) CompletedSteps() []SequenceStep {
	out := make([]SequenceStep, 0, len(s.completed))
	for _, step := range CanonicalOrder {
		if s.completed[step] {
			out = append(out, step)
		}
	}
	return out
}
