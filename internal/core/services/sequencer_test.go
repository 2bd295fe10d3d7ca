package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	webrtcinfra "pairlink/internal/infrastructure/webrtc"
	pkgerrors "pairlink/pkg/errors"
	"pairlink/pkg/schedule"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMediaStream struct {
	video []webrtc.TrackLocal
	audio []webrtc.TrackLocal

	mu      sync.Mutex
	live    bool
	stopped bool
}

func (s *fakeMediaStream) VideoTracks() []webrtc.TrackLocal { return s.video }
func (s *fakeMediaStream) AudioTracks() []webrtc.TrackLocal { return s.audio }

func (s *fakeMediaStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *fakeMediaStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = false
	s.stopped = true
}

func (s *fakeMediaStream) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func newFakeStream(t *testing.T, live bool) *fakeMediaStream {
	t.Helper()
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test-video")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test-audio")
	require.NoError(t, err)

	return &fakeMediaStream{
		video: []webrtc.TrackLocal{video},
		audio: []webrtc.TrackLocal{audio},
		live:  live,
	}
}

type fakeMediaDevice struct {
	stream *fakeMediaStream
	err    error
}

func (d *fakeMediaDevice) AcquireMedia(ctx context.Context) (ports.MediaStream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type fakeSignaling struct {
	mu         sync.Mutex
	offers     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	offerErr   error
}

func (f *fakeSignaling) Connect(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	return nil
}

func (f *fakeSignaling) SendOffer(ctx context.Context, target domain.PeerID, offer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return f.offerErr
	}
	f.offers = append(f.offers, offer)
	return nil
}

func (f *fakeSignaling) SendAnswer(ctx context.Context, target domain.PeerID, answer webrtc.SessionDescription) error {
	return nil
}

func (f *fakeSignaling) SendCandidate(ctx context.Context, target domain.PeerID, candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeSignaling) OnAnswer(fn func(from domain.PeerID, answer webrtc.SessionDescription)) {}
func (f *fakeSignaling) OnRemoteCandidate(fn func(from domain.PeerID, candidate webrtc.ICECandidateInit)) {
}
func (f *fakeSignaling) Close() error { return nil }

func (f *fakeSignaling) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers)
}

func newTestSequencer(t *testing.T, media ports.MediaDevice, gate ports.LifecycleGate) (*ConnectionSequencer, *SequenceLockManager) {
	t.Helper()
	scheduler := schedule.NewScheduler()
	t.Cleanup(scheduler.Close)

	logger := zap.NewNop().Sugar()
	locks := NewSequenceLockManager(scheduler, logger)
	engine := webrtcinfra.NewEngine(webrtcinfra.EngineConfig{}, gate, logger)
	telemetry := NewTelemetryCollector(DefaultTelemetryOptions(), nil, nil, logger)
	telemetry.StartTiming("session-1", "user-1", 1)

	seq := NewConnectionSequencer(locks, engine, media, telemetry, 30*time.Second, logger)
	t.Cleanup(seq.Teardown)
	return seq, locks
}

func testICEConfig() domain.ICEConfig {
	return domain.ICEConfig{
		TransportPolicy: domain.TransportPolicyAll,
		NetworkClass:    domain.NetworkClassWifi,
	}
}

func TestExecuteSequenceHappyPath(t *testing.T) {
	stream := newFakeStream(t, true)
	seq, locks := newTestSequencer(t, &fakeMediaDevice{stream: stream}, nil)
	signaling := &fakeSignaling{}

	var progress []int
	result, err := seq.ExecuteOptimizedSequence(context.Background(), signaling, "peer-1", testICEConfig(),
		func(p int) { progress = append(progress, p) })

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotNil(t, result.Connection)
	assert.Equal(t, []int{0, 25, 50, 75, 100}, progress)
	assert.Equal(t, 2, seq.SenderCount())
	assert.Equal(t, 1, signaling.offerCount())

	completed := locks.CompletedSteps()
	assert.Contains(t, completed, domain.StepMediaAccess)
	assert.Contains(t, completed, domain.StepConnectionObject)
	assert.Contains(t, completed, domain.StepTrackAttachment)
	assert.Contains(t, completed, domain.StepDiscoverySetup)
	assert.Contains(t, completed, domain.StepNegotiationSetup)
	assert.Contains(t, completed, domain.StepOfferCreated)
	assert.Contains(t, completed, domain.StepLocalDescriptionSet)

	assert.Empty(t, locks.HeldLocks(), "no locks survive the pipeline")
}

func TestMediaFailureAbortsPipeline(t *testing.T) {
	seq, locks := newTestSequencer(t, &fakeMediaDevice{err: assert.AnError}, nil)
	signaling := &fakeSignaling{}

	result, err := seq.ExecuteOptimizedSequence(context.Background(), signaling, "peer-1", testICEConfig(), nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrCodeMediaAcquisition))
	assert.Empty(t, locks.CompletedSteps())
	assert.Zero(t, signaling.offerCount())
}

func TestDeadStreamAbortsPipeline(t *testing.T) {
	stream := newFakeStream(t, false)
	seq, _ := newTestSequencer(t, &fakeMediaDevice{stream: stream}, nil)

	_, err := seq.ExecuteOptimizedSequence(context.Background(), &fakeSignaling{}, "peer-1", testICEConfig(), nil)

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrCodeMediaAcquisition))
	assert.True(t, stream.wasStopped())
}

func TestLifecycleGateRefusalTearsDownMedia(t *testing.T) {
	stream := newFakeStream(t, true)
	gate := func() error { return domain.ErrConnectionRefused }
	seq, locks := newTestSequencer(t, &fakeMediaDevice{stream: stream}, gate)

	result, err := seq.ExecuteOptimizedSequence(context.Background(), &fakeSignaling{}, "peer-1", testICEConfig(), nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrConnectionRefused)
	assert.True(t, stream.wasStopped(), "acquired media must be released on later-step failure")

	completed := locks.CompletedSteps()
	assert.Contains(t, completed, domain.StepMediaAccess)
	assert.NotContains(t, completed, domain.StepConnectionObject)
}

func TestOfferSendFailureTearsDownEverything(t *testing.T) {
	stream := newFakeStream(t, true)
	seq, _ := newTestSequencer(t, &fakeMediaDevice{stream: stream}, nil)
	signaling := &fakeSignaling{offerErr: assert.AnError}

	result, err := seq.ExecuteOptimizedSequence(context.Background(), signaling, "peer-1", testICEConfig(), nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrCodeNegotiationFailed))
	assert.True(t, stream.wasStopped())
	assert.Zero(t, seq.SenderCount())
}

func TestHandleRemoteAnswerBeforeOfferIsRejected(t *testing.T) {
	stream := newFakeStream(t, true)
	seq, _ := newTestSequencer(t, &fakeMediaDevice{stream: stream}, nil)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	err := seq.HandleRemoteAnswer(context.Background(), answer)

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrCodeNegotiationFailed))
}

func TestTeardownIsIdempotent(t *testing.T) {
	stream := newFakeStream(t, true)
	seq, _ := newTestSequencer(t, &fakeMediaDevice{stream: stream}, nil)

	_, err := seq.ExecuteOptimizedSequence(context.Background(), &fakeSignaling{}, "peer-1", testICEConfig(), nil)
	require.NoError(t, err)

	seq.Teardown()
	seq.Teardown()
	assert.Zero(t, seq.SenderCount())
	assert.True(t, stream.wasStopped())
}
