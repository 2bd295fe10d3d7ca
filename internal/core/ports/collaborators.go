package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// MediaStream is an acquired set of local capture tracks.
type MediaStream interface {
	VideoTracks() []webrtc.TrackLocal
	AudioTracks() []webrtc.TrackLocal
	// Live reports whether every track is still producing samples.
	Live() bool
	// Stop tears down every track. Idempotent.
	Stop()
}

// MediaDevice acquires local audio/video. Acquisition is asynchronous and can
// fail on permission denial or a busy device.
type MediaDevice interface {
	AcquireMedia(ctx context.Context) (MediaStream, error)
}

// CandidateEvent is one discovered network path. A nil Candidate marks the end
// of gathering.
type CandidateEvent struct {
	Candidate *webrtc.ICECandidate
	At        time.Time
}

// CandidateSubscription is a lazy, unbounded, non-restartable sequence of
// discovered-path events for one attempt's lifetime.
type CandidateSubscription interface {
	Events() <-chan CandidateEvent
	Unsubscribe()
}

// LifecycleGate may refuse connection-object creation. The refusal is an
// opaque collaborator decision.
type LifecycleGate func() error

// ConnectionEngine wraps the real-time communication engine that owns the
// low-level negotiation and path-discovery primitives.
type ConnectionEngine interface {
	CreateConnection(ctx context.Context, cfg domain.ICEConfig) (*webrtc.PeerConnection, error)
	// SubscribeCandidates registers an immediate, unbatched discovered-path
	// handler on pc. Each event is delivered the instant it is found.
	SubscribeCandidates(pc *webrtc.PeerConnection) CandidateSubscription
}

// QualityWatcher reads transport feedback from a live connection.
type QualityWatcher interface {
	Watch(pc *webrtc.PeerConnection)
	Stop()
}

// SignalingTransport is the external fire-and-forget message channel used for
// negotiation. No delivery guarantee beyond the channel's own.
type SignalingTransport interface {
	Connect(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error
	SendOffer(ctx context.Context, target domain.PeerID, offer webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, target domain.PeerID, answer webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, target domain.PeerID, candidate webrtc.ICECandidateInit) error
	OnAnswer(fn func(from domain.PeerID, answer webrtc.SessionDescription))
	OnRemoteCandidate(fn func(from domain.PeerID, candidate webrtc.ICECandidateInit))
	Close() error
}
