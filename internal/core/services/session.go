package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SessionOrchestrator owns one session's connection lifecycle: it resolves the
// ICE configuration, drives the sequencer, reacts to timers and network
// changes, and closes out telemetry when the attempt ends.
type SessionOrchestrator struct {
	sessionID domain.SessionID
	userID    domain.UserID

	locks      *SequenceLockManager
	controller *TimeoutController
	iceConfig  ports.ICEConfigService
	sequencer  *ConnectionSequencer
	telemetry  ports.TelemetryService
	signaling  ports.SignalingTransport

	quality ports.QualityWatcher

	mu       sync.Mutex
	attempt  *domain.ConnectionAttempt
	iceCfg   domain.ICEConfig
	conn     *webrtc.PeerConnection
	started  time.Time
	finished bool

	logger *zap.SugaredLogger
}

// NewSessionOrchestrator assembles the per-session services around one
// signaling transport.
func NewSessionOrchestrator(
	sessionID domain.SessionID,
	userID domain.UserID,
	locks *SequenceLockManager,
	controller *TimeoutController,
	iceConfig ports.ICEConfigService,
	sequencer *ConnectionSequencer,
	telemetry ports.TelemetryService,
	signaling ports.SignalingTransport,
	logger *zap.SugaredLogger,
) *SessionOrchestrator {
	return &SessionOrchestrator{
		sessionID:  sessionID,
		userID:     userID,
		locks:      locks,
		controller: controller,
		iceConfig:  iceConfig,
		sequencer:  sequencer,
		telemetry:  telemetry,
		signaling:  signaling,
		logger:     logger,
	}
}

// StartConnection begins an attempt toward peerID on the given network class.
// It starts the timers, opens signaling, runs the pipeline and wires the
// engine's state changes back into the phase machine.
func (o *SessionOrchestrator) StartConnection(ctx context.Context, peerID domain.PeerID, class domain.NetworkClass, onProgress ProgressFunc) error {
	o.mu.Lock()
	o.finished = false
	o.started = time.Now()
	o.mu.Unlock()

	attempt := o.controller.StartConnection(class, o.onPhaseChange, o.onTimeout)

	o.mu.Lock()
	o.attempt = attempt
	o.mu.Unlock()

	ctx, span := tracing.TraceAttempt(ctx, string(o.sessionID), attempt.Number, string(class))
	defer span.End()

	o.telemetry.StartTiming(o.sessionID, o.userID, attempt.Number)

	cfg, err := o.iceConfig.GenerateOptimizedConfig(ctx, class)
	if err != nil {
		// degraded config is usable, anything else is not
		if cfg.Servers == nil {
			o.failAttempt("config unavailable: " + err.Error())
			return err
		}
		o.logger.Warnw("proceeding with degraded ice configuration",
			"session_id", o.sessionID,
			"error", err,
		)
	}
	o.mu.Lock()
	o.iceCfg = cfg
	o.mu.Unlock()

	if err := o.signaling.Connect(ctx, o.sessionID, peerID); err != nil {
		o.failAttempt("signaling connect failed: " + err.Error())
		return err
	}
	o.signaling.OnAnswer(func(from domain.PeerID, answer webrtc.SessionDescription) {
		if err := o.sequencer.HandleRemoteAnswer(context.Background(), answer); err != nil {
			o.logger.Warnw("remote answer rejected",
				"session_id", o.sessionID,
				"peer_id", from,
				"error", err,
			)
		}
	})
	o.signaling.OnRemoteCandidate(func(from domain.PeerID, candidate webrtc.ICECandidateInit) {
		if err := o.sequencer.AddRemoteCandidate(candidate); err != nil {
			o.logger.Warnw("remote candidate rejected",
				"session_id", o.sessionID,
				"peer_id", from,
				"error", err,
			)
		}
	})

	if err := o.controller.AdvancePhase(domain.PhaseDiscovery); err != nil {
		o.failAttempt(err.Error())
		return err
	}

	result, err := o.sequencer.ExecuteOptimizedSequence(ctx, o.signaling, peerID, cfg, onProgress)
	if err != nil {
		o.failAttempt(err.Error())
		return err
	}

	o.mu.Lock()
	o.conn = result.Connection
	o.mu.Unlock()
	result.Connection.OnConnectionStateChange(o.onConnectionState)

	if err := o.controller.AdvancePhase(domain.PhaseNegotiation); err != nil {
		o.logger.Warnw("phase advance rejected", "error", err)
	}
	return nil
}

// onConnectionState maps engine state changes onto the attempt phase machine.
func (o *SessionOrchestrator) onConnectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		if err := o.controller.AdvancePhase(domain.PhaseConnecting); err != nil {
			o.logger.Debugw("connecting transition skipped", "error", err)
		}

	case webrtc.PeerConnectionStateConnected:
		if err := o.locks.MarkCompleted(domain.StepConnectionEstablished); err != nil {
			o.logger.Warnw("connection established out of sequence", "error", err)
		}
		o.telemetry.RecordMilestone(domain.MilestoneConnected, nil)
		if err := o.controller.AdvancePhase(domain.PhaseCompleted); err != nil {
			o.logger.Debugw("completed transition skipped", "error", err)
		}
		o.mu.Lock()
		conn := o.conn
		o.mu.Unlock()
		if conn != nil {
			o.recordWinningPath(conn)
			if o.quality != nil {
				o.quality.Watch(conn)
			}
		}
		o.completeAttempt(true, "")

	case webrtc.PeerConnectionStateFailed:
		o.failAttempt("transport failed")

	case webrtc.PeerConnectionStateClosed:
		// closed by teardown; terminal handling already ran
	}
}

// recordWinningPath classifies the selected candidate pair so the winning
// path type shows up in statistics.
func (o *SessionOrchestrator) recordWinningPath(conn *webrtc.PeerConnection) {
	sctp := conn.SCTP()
	if sctp == nil || sctp.Transport() == nil || sctp.Transport().ICETransport() == nil {
		return
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil {
		o.logger.Debugw("selected candidate pair unavailable", "error", err)
		return
	}
	o.telemetry.RecordCandidate(winningCandidateAttr(pair), true)
}

// winningCandidateAttr renders the pair's remote endpoint in the
// candidate-attribute vocabulary the classifier reads.
func winningCandidateAttr(pair *webrtc.ICECandidatePair) string {
	if pair.Remote == nil {
		return ""
	}
	return fmt.Sprintf("%s typ %s", pair.Remote.Protocol, pair.Remote.Typ)
}

// onPhaseChange reacts to validated phase transitions.
func (o *SessionOrchestrator) onPhaseChange(from, to domain.AttemptPhase) {
	o.logger.Infow("attempt phase changed",
		"session_id", o.sessionID,
		"from", from,
		"to", to,
	)
}

// onTimeout reacts to expired attempt timers. Fatal timers fail the attempt;
// the relay-fallback timer records the milestone so the flag shows up in
// metrics.
func (o *SessionOrchestrator) onTimeout(kind TimeoutKind, fatal bool) {
	switch kind {
	case TimeoutRelayFallback:
		o.telemetry.RecordMilestone(domain.MilestoneRelayFallback, nil)
	case TimeoutDiscovery:
		o.logger.Warnw("discovery window elapsed, continuing with gathered paths",
			"session_id", o.sessionID,
		)
	}
	if fatal {
		o.completeAttempt(false, "timeout: "+string(kind))
		o.sequencer.Teardown()
	}
}

// HandleNetworkChange applies the fixed fallback strategy for the class
// transition once the stabilization delay elapses.
func (o *SessionOrchestrator) HandleNetworkChange(newClass domain.NetworkClass) error {
	o.telemetry.RecordMilestone(domain.MilestoneNetworkChange, map[string]interface{}{
		"network_class": newClass,
	})
	return o.controller.HandleNetworkChange(newClass, func(strategy FallbackStrategy, from, to domain.NetworkClass) {
		o.logger.Infow("applying network change strategy",
			"session_id", o.sessionID,
			"strategy", strategy,
			"from", from,
			"to", to,
		)
		switch strategy {
		case StrategySwitchToRelay:
			o.telemetry.RecordMilestone(domain.MilestoneRelayFallback, map[string]interface{}{
				"network_class": to,
			})
		case StrategyRestartDiscovery, StrategyConservativeRetry:
			// the caller decides whether to restart; the attempt keeps running
		case StrategyKeepCurrent:
		}
	})
}

// SetQualityWatcher attaches an optional watcher started once the connection
// establishes. Must be set before StartConnection.
func (o *SessionOrchestrator) SetQualityWatcher(w ports.QualityWatcher) {
	o.quality = w
}

// StopConnection ends the attempt and releases every resource. An attempt
// that never established closes out as a cancellation rather than a success,
// and a cancellation does not touch the per-class success-rate cache: the
// user hanging up says nothing about the network. Idempotent.
func (o *SessionOrchestrator) StopConnection() {
	o.cancelAttempt()
	if o.quality != nil {
		o.quality.Stop()
	}
	o.controller.StopConnection()
	o.sequencer.Teardown()
	if err := o.signaling.Close(); err != nil {
		o.logger.Debugw("signaling close", "error", err)
	}
}

// completeAttempt finishes telemetry exactly once per attempt and feeds the
// outcome back into the config cache.
func (o *SessionOrchestrator) completeAttempt(success bool, reason string) {
	class, elapsed, first := o.finishAttempt()
	if !first {
		return
	}
	connState := "closed"
	if success {
		connState = "connected"
	}
	o.telemetry.CompleteTiming(success, reason, connState, "complete")
	o.iceConfig.UpdateCacheSuccessRate(class, success, elapsed)
}

// cancelAttempt closes out an attempt the user stopped before it established.
// Telemetry records the non-success, but the success-rate cache is left alone.
func (o *SessionOrchestrator) cancelAttempt() {
	if _, _, first := o.finishAttempt(); !first {
		return
	}
	o.telemetry.CompleteTiming(false, "cancelled", "closed", "complete")
}

// finishAttempt flips the terminal flag and reports whether this call won.
func (o *SessionOrchestrator) finishAttempt() (domain.NetworkClass, time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished {
		return domain.NetworkClassUnknown, 0, false
	}
	o.finished = true
	class := domain.NetworkClassUnknown
	if o.attempt != nil {
		class = o.attempt.NetworkClass
	}
	return class, time.Since(o.started), true
}

func (o *SessionOrchestrator) failAttempt(reason string) {
	o.completeAttempt(false, reason)
	o.controller.Fail()
	o.sequencer.Teardown()
}

// ValidateDeterministicBehavior surfaces the controller's determinism checks.
func (o *SessionOrchestrator) ValidateDeterministicBehavior() []string {
	return o.controller.ValidateDeterministicBehavior()
}

// Attempt returns a snapshot of the live attempt, or nil.
func (o *SessionOrchestrator) Attempt() *domain.ConnectionAttempt {
	return o.controller.Attempt()
}
