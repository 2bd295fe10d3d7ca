package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/errors"
	"pairlink/pkg/tracing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ProgressFunc reports fractional pipeline progress (0/25/50/75/100).
type ProgressFunc func(percent int)

// SequenceResult is the outcome of a completed pipeline run.
type SequenceResult struct {
	Connection *webrtc.PeerConnection
	Media      ports.MediaStream
	Elapsed    time.Duration
}

// ConnectionSequencer drives the strictly ordered connection pipeline. Every
// step executes through the lock manager; any step failure tears down all
// resources and surfaces one aggregated error, never a half-initialized state.
type ConnectionSequencer struct {
	locks     *SequenceLockManager
	engine    ports.ConnectionEngine
	media     ports.MediaDevice
	telemetry ports.TelemetryService
	stepTTL   time.Duration

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	stream     ports.MediaStream
	sub        ports.CandidateSubscription
	senders    []*webrtc.RTPSender
	pumpCancel context.CancelFunc

	logger *zap.SugaredLogger
}

// NewConnectionSequencer creates a sequencer for one session.
func NewConnectionSequencer(
	locks *SequenceLockManager,
	engine ports.ConnectionEngine,
	media ports.MediaDevice,
	telemetry ports.TelemetryService,
	stepTTL time.Duration,
	logger *zap.SugaredLogger,
) *ConnectionSequencer {
	return &ConnectionSequencer{
		locks:     locks,
		engine:    engine,
		media:     media,
		telemetry: telemetry,
		stepTTL:   stepTTL,
		logger:    logger,
	}
}

// ExecuteOptimizedSequence runs the four pipeline steps in order:
// media access, connection object creation, track attachment, then path
// discovery and negotiation setup together. Returns the live connection and
// media stream with the elapsed time.
func (s *ConnectionSequencer) ExecuteOptimizedSequence(
	ctx context.Context,
	signaling ports.SignalingTransport,
	peerID domain.PeerID,
	iceCfg domain.ICEConfig,
	onProgress ProgressFunc,
) (*SequenceResult, error) {
	start := time.Now()
	holder := uuid.NewString()
	progress := func(p int) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	progress(0)

	// step 1: media access, no prerequisite
	stepCtx, span := tracing.TraceSequenceStep(ctx, string(domain.StepMediaAccess))
	err := s.locks.ExecuteWithLock(stepCtx, domain.StepMediaAccess, holder, s.stepTTL, func(ctx context.Context) error {
		stream, err := s.media.AcquireMedia(ctx)
		if err != nil {
			return errors.NewMediaAcquisitionError(err)
		}
		if !stream.Live() {
			stream.Stop()
			return errors.NewMediaAcquisitionError(domain.ErrMediaNotLive)
		}
		s.mu.Lock()
		s.stream = stream
		s.mu.Unlock()
		return nil
	})
	span.End()
	if err != nil {
		return nil, s.abort(domain.StepMediaAccess, err)
	}
	s.telemetry.RecordMilestone(domain.MilestoneMediaReady, nil)
	progress(25)

	// step 2: connection object, requires media
	stepCtx, span = tracing.TraceSequenceStep(ctx, string(domain.StepConnectionObject))
	err = s.locks.ExecuteWithLock(stepCtx, domain.StepConnectionObject, holder, s.stepTTL, func(ctx context.Context) error {
		pc, err := s.engine.CreateConnection(ctx, iceCfg)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.pc = pc
		s.mu.Unlock()
		return nil
	}, domain.StepMediaAccess)
	span.End()
	if err != nil {
		return nil, s.abort(domain.StepConnectionObject, err)
	}
	s.telemetry.RecordMilestone(domain.MilestoneConnectionObject, map[string]interface{}{
		"network_class":    iceCfg.NetworkClass,
		"transport_policy": iceCfg.TransportPolicy,
	})
	progress(50)

	// step 3: track attachment, video before audio, fixed order
	stepCtx, span = tracing.TraceSequenceStep(ctx, string(domain.StepTrackAttachment))
	err = s.locks.ExecuteWithLock(stepCtx, domain.StepTrackAttachment, holder, s.stepTTL, func(ctx context.Context) error {
		return s.attachTracks()
	}, domain.StepMediaAccess, domain.StepConnectionObject)
	span.End()
	if err != nil {
		return nil, s.abort(domain.StepTrackAttachment, err)
	}
	s.telemetry.RecordMilestone(domain.MilestoneTracksAttached, nil)
	progress(75)

	// step 4: discovery setup strictly before negotiation setup, gates raised
	// back to back so both proceed concurrently from here
	stepCtx, span = tracing.TraceSequenceStep(ctx, string(domain.StepDiscoverySetup))
	err = s.locks.CoordinateSequentialOperations(stepCtx, holder, s.stepTTL,
		NamedOperation{
			Step:          domain.StepDiscoverySetup,
			Prerequisites: []domain.SequenceStep{domain.StepTrackAttachment},
			Op: func(ctx context.Context) error {
				return s.startCandidatePump(signaling, peerID)
			},
		},
		NamedOperation{
			Step:          domain.StepNegotiationSetup,
			Prerequisites: []domain.SequenceStep{domain.StepTrackAttachment},
			Op: func(ctx context.Context) error {
				return nil
			},
		},
	)
	span.End()
	if err != nil {
		return nil, s.abort(domain.StepDiscoverySetup, err)
	}
	s.telemetry.RecordMilestone(domain.MilestoneDiscoveryStart, nil)
	progress(100)

	if err := s.createAndSendOffer(ctx, signaling, peerID, holder); err != nil {
		return nil, s.abort(domain.StepOfferCreated, err)
	}

	s.mu.Lock()
	result := &SequenceResult{
		Connection: s.pc,
		Media:      s.stream,
		Elapsed:    time.Since(start),
	}
	s.mu.Unlock()

	s.logger.Infow("connection sequence completed",
		"peer_id", peerID,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// attachTracks adds video tracks first, then audio, and verifies the attached
// sender count equals the source track count.
func (s *ConnectionSequencer) attachTracks() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	video := s.stream.VideoTracks()
	audio := s.stream.AudioTracks()

	for _, track := range video {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to attach video track %s: %w", track.ID(), err)
		}
		s.senders = append(s.senders, sender)
	}
	for _, track := range audio {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to attach audio track %s: %w", track.ID(), err)
		}
		s.senders = append(s.senders, sender)
	}

	if len(s.senders) != len(video)+len(audio) {
		return fmt.Errorf("attached %d senders for %d tracks: %w",
			len(s.senders), len(video)+len(audio), domain.ErrNoSendersAttached)
	}
	return nil
}

// startCandidatePump subscribes to discovered paths and forwards every event
// to the signaling collaborator the instant it arrives. No delay, no
// coalescing.
func (s *ConnectionSequencer) startCandidatePump(signaling ports.SignalingTransport, peerID domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sub = s.engine.SubscribeCandidates(s.pc)
	pumpCtx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel

	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case event, ok := <-s.sub.Events():
				if !ok {
					return
				}
				if event.Candidate == nil {
					// gathering finished
					continue
				}
				init := event.Candidate.ToJSON()
				s.telemetry.RecordCandidate(init.Candidate, false)
				if err := signaling.SendCandidate(pumpCtx, peerID, init); err != nil {
					s.logger.Warnw("failed to forward discovered path",
						"peer_id", peerID,
						"error", err,
					)
				}
			}
		}
	}()
	return nil
}

// createAndSendOffer re-verifies the attached-sender count as a final guard
// against races, then creates and sends the offer.
func (s *ConnectionSequencer) createAndSendOffer(ctx context.Context, signaling ports.SignalingTransport, peerID domain.PeerID, holder string) error {
	s.mu.Lock()
	senderCount := len(s.senders)
	pc := s.pc
	s.mu.Unlock()

	if senderCount == 0 {
		return errors.NewNegotiationError("no senders attached before offer", domain.ErrNoSendersAttached)
	}

	return s.locks.ExecuteWithLock(ctx, domain.StepOfferCreated, holder, s.stepTTL, func(ctx context.Context) error {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return errors.NewNegotiationError("failed to create offer", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return errors.NewNegotiationError("failed to set local description", err)
		}
		if err := s.locks.MarkCompleted(domain.StepLocalDescriptionSet); err != nil {
			return err
		}
		if err := signaling.SendOffer(ctx, peerID, offer); err != nil {
			return errors.NewNegotiationError("failed to send offer", err)
		}
		s.telemetry.RecordMilestone(domain.MilestoneOfferCreated, nil)
		return nil
	}, domain.StepNegotiationSetup)
}

// HandleRemoteAnswer applies the peer's answer.
func (s *ConnectionSequencer) HandleRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	if pc == nil {
		return errors.NewNegotiationError("answer received before connection object", domain.ErrAttemptNotLive)
	}

	holder := uuid.NewString()
	return s.locks.ExecuteWithLock(ctx, domain.StepAnswerCreated, holder, s.stepTTL, func(ctx context.Context) error {
		if err := pc.SetRemoteDescription(answer); err != nil {
			return errors.NewNegotiationError("failed to set remote description", err)
		}
		if err := s.locks.MarkCompleted(domain.StepRemoteDescriptionSet); err != nil {
			return err
		}
		s.telemetry.RecordMilestone(domain.MilestoneAnswerReceived, nil)
		return nil
	}, domain.StepOfferCreated)
}

// AddRemoteCandidate feeds a remote discovered path into the connection.
func (s *ConnectionSequencer) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	if pc == nil {
		return domain.ErrAttemptNotLive
	}
	return pc.AddICECandidate(candidate)
}

// SenderCount returns the number of currently attached senders.
func (s *ConnectionSequencer) SenderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.senders)
}

// abort tears everything down and returns one aggregated failure.
func (s *ConnectionSequencer) abort(step domain.SequenceStep, cause error) error {
	s.Teardown()
	s.logger.Errorw("connection sequence aborted",
		"step", step,
		"error", cause,
	)
	return fmt.Errorf("sequence failed at %s: %w", step, cause)
}

// Teardown stops tracks, cancels the candidate pump and closes the connection
// object. Idempotent; safe to call at any pipeline stage.
func (s *ConnectionSequencer) Teardown() {
	s.mu.Lock()
	stream := s.stream
	sub := s.sub
	pc := s.pc
	cancel := s.pumpCancel
	s.stream = nil
	s.sub = nil
	s.pc = nil
	s.pumpCancel = nil
	s.senders = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if stream != nil {
		stream.Stop()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Warnw("error closing connection object", "error", err)
		}
	}
}
