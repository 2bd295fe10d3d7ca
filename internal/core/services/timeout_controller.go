package services

import (
	"fmt"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/pkg/schedule"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TimeoutKind names one of the four attempt timers.
type TimeoutKind string

const (
	TimeoutDiscovery     TimeoutKind = "discovery"
	TimeoutRelayFallback TimeoutKind = "relay-fallback"
	TimeoutNegotiation   TimeoutKind = "negotiation"
	TimeoutOverall       TimeoutKind = "overall"
)

// FallbackStrategy is the fixed reaction to a network-class change.
type FallbackStrategy string

const (
	StrategySwitchToRelay     FallbackStrategy = "switch-to-relay"
	StrategyRestartDiscovery  FallbackStrategy = "restart-discovery"
	StrategyKeepCurrent       FallbackStrategy = "keep-current"
	StrategyConservativeRetry FallbackStrategy = "conservative-retry"
)

type networkTransition struct {
	from domain.NetworkClass
	to   domain.NetworkClass
}

// fallbackStrategies maps ordered (from, to) class pairs to their fixed
// strategy. Pairs not listed resolve to the conservative default.
var fallbackStrategies = map[networkTransition]FallbackStrategy{
	{domain.NetworkClassWifi, domain.NetworkClassMobile}:    StrategySwitchToRelay,
	{domain.NetworkClassMobile, domain.NetworkClassWifi}:    StrategyRestartDiscovery,
	{domain.NetworkClassWifi, domain.NetworkClassWifi}:      StrategyKeepCurrent,
	{domain.NetworkClassMobile, domain.NetworkClassMobile}:  StrategyKeepCurrent,
	{domain.NetworkClassUnknown, domain.NetworkClassWifi}:   StrategyRestartDiscovery,
	{domain.NetworkClassUnknown, domain.NetworkClassMobile}: StrategySwitchToRelay,
}

const defaultFallbackStrategy = StrategyConservativeRetry

// StrategyFor resolves the fixed fallback strategy for a class transition.
func StrategyFor(from, to domain.NetworkClass) FallbackStrategy {
	if s, ok := fallbackStrategies[networkTransition{from, to}]; ok {
		return s
	}
	return defaultFallbackStrategy
}

// PhaseChangeFunc observes validated phase transitions.
type PhaseChangeFunc func(from, to domain.AttemptPhase)

// TimeoutFunc observes timer expiries.
type TimeoutFunc func(kind TimeoutKind, fatal bool)

// FallbackStrategyFunc observes applied network-change strategies.
type FallbackStrategyFunc func(strategy FallbackStrategy, from, to domain.NetworkClass)

// TimeoutController drives the attempt phase machine with fixed-duration
// timers. All four timers start in parallel at attempt start; each fires at
// its exact configured delay, never jittered or backed off.
type TimeoutController struct {
	mu        sync.Mutex
	attempt   *domain.ConnectionAttempt
	cfg       domain.TimeoutConfig
	scheduler *schedule.Scheduler
	timers    map[TimeoutKind]schedule.TaskID
	pending   []schedule.TaskID

	// callbacks gathered under the lock, fired after unlock
	notifications []func()

	onPhaseChange PhaseChangeFunc
	onTimeout     TimeoutFunc

	locks      *SequenceLockManager
	attemptSeq int

	logger *zap.SugaredLogger
}

// NewTimeoutController creates a controller bound to the session's lock
// manager for determinism validation.
func NewTimeoutController(scheduler *schedule.Scheduler, locks *SequenceLockManager, logger *zap.SugaredLogger) *TimeoutController {
	return &TimeoutController{
		scheduler: scheduler,
		timers:    make(map[TimeoutKind]schedule.TaskID),
		locks:     locks,
		logger:    logger,
	}
}

// StartConnection begins a new attempt for the given network class. A live
// previous attempt is torn down first: exactly one attempt exists at a time.
func (t *TimeoutController) StartConnection(class domain.NetworkClass, onPhaseChange PhaseChangeFunc, onTimeout TimeoutFunc) *domain.ConnectionAttempt {
	t.mu.Lock()

	if t.attempt != nil && !t.attempt.Phase.Terminal() {
		t.stopLocked(domain.PhaseCompleted)
		// teardown notifications belong to the previous attempt's callbacks
		t.notifications = nil
	}

	t.locks.Reset()

	t.attemptSeq++
	t.cfg = domain.TimeoutConfigFor(class)
	t.attempt = &domain.ConnectionAttempt{
		ID:           domain.AttemptID(uuid.NewString()),
		Number:       t.attemptSeq,
		StartedAt:    time.Now(),
		Phase:        domain.PhaseInitializing,
		NetworkClass: class,
	}
	t.onPhaseChange = onPhaseChange
	t.onTimeout = onTimeout

	t.startTimerLocked(TimeoutDiscovery, t.cfg.Discovery)
	t.startTimerLocked(TimeoutRelayFallback, t.cfg.RelayFallback)
	t.startTimerLocked(TimeoutNegotiation, t.cfg.Negotiation)
	t.startTimerLocked(TimeoutOverall, t.cfg.Overall)

	t.logger.Infow("connection attempt started",
		"attempt", t.attempt.Number,
		"network_class", class,
		"discovery_timeout", t.cfg.Discovery,
		"overall_timeout", t.cfg.Overall,
	)

	attempt := *t.attempt
	t.mu.Unlock()
	return &attempt
}

func (t *TimeoutController) startTimerLocked(kind TimeoutKind, delay time.Duration) {
	t.timers[kind] = t.scheduler.After(delay, func() {
		t.onTimerExpired(kind)
	})
}

// onTimerExpired forces the phase machine forward. Discovery expiry is
// non-fatal: the attempt proceeds to negotiation with whatever paths were
// found. Negotiation and overall expiry fail the attempt. Relay-fallback
// expiry only sets the fallback flag.
func (t *TimeoutController) onTimerExpired(kind TimeoutKind) {
	t.mu.Lock()

	if t.attempt == nil || t.attempt.Phase.Terminal() {
		t.mu.Unlock()
		return
	}
	delete(t.timers, kind)

	switch kind {
	case TimeoutRelayFallback:
		t.attempt.FallbackTriggered = true
		t.logger.Infow("relay fallback timer fired",
			"attempt", t.attempt.Number,
		)
		t.notifyTimeoutLocked(kind, false)

	case TimeoutDiscovery:
		if t.attempt.Phase == domain.PhaseInitializing || t.attempt.Phase == domain.PhaseDiscovery {
			t.forcePhaseLocked(domain.PhaseNegotiation)
			t.logger.Warnw("discovery timeout, proceeding with partial candidate set",
				"attempt", t.attempt.Number,
			)
		}
		t.notifyTimeoutLocked(kind, false)

	case TimeoutNegotiation, TimeoutOverall:
		t.forcePhaseLocked(domain.PhaseFailed)
		t.cancelTimersLocked()
		t.logger.Errorw("fatal timeout, attempt failed",
			"attempt", t.attempt.Number,
			"timer", kind,
		)
		t.notifyTimeoutLocked(kind, true)
	}

	notify := t.drainNotificationsLocked()
	t.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

func (t *TimeoutController) notifyTimeoutLocked(kind TimeoutKind, fatal bool) {
	if fn := t.onTimeout; fn != nil {
		t.notifications = append(t.notifications, func() { fn(kind, fatal) })
	}
}

func (t *TimeoutController) drainNotificationsLocked() []func() {
	notify := t.notifications
	t.notifications = nil
	return notify
}

// forcePhaseLocked moves through intermediate phases so the transition stays
// valid, then lands on the target.
func (t *TimeoutController) forcePhaseLocked(to domain.AttemptPhase) {
	for t.attempt.Phase != to {
		if domain.CanTransition(t.attempt.Phase, to) {
			t.transitionLocked(to)
			return
		}
		next := nextPhaseToward(t.attempt.Phase)
		if next == t.attempt.Phase {
			return
		}
		t.transitionLocked(next)
	}
}

func nextPhaseToward(from domain.AttemptPhase) domain.AttemptPhase {
	switch from {
	case domain.PhaseInitializing:
		return domain.PhaseDiscovery
	case domain.PhaseDiscovery:
		return domain.PhaseNegotiation
	case domain.PhaseNegotiation:
		return domain.PhaseConnecting
	default:
		return from
	}
}

// AdvancePhase applies an explicit, validated transition. An invalid
// transition is rejected and the prior phase kept.
func (t *TimeoutController) AdvancePhase(to domain.AttemptPhase) error {
	t.mu.Lock()

	if t.attempt == nil {
		t.mu.Unlock()
		return domain.ErrAttemptNotLive
	}
	from := t.attempt.Phase
	if !domain.CanTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("phase %s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	t.transitionLocked(to)
	if to.Terminal() {
		t.cancelTimersLocked()
	}
	notify := t.drainNotificationsLocked()
	t.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return nil
}

func (t *TimeoutController) transitionLocked(to domain.AttemptPhase) {
	from := t.attempt.Phase
	t.attempt.Phase = to
	if fn := t.onPhaseChange; fn != nil {
		t.notifications = append(t.notifications, func() { fn(from, to) })
	}
}

// HandleNetworkChange resolves the fixed strategy for the class transition and
// applies it after the stabilization delay, then updates the attempt's class.
func (t *TimeoutController) HandleNetworkChange(newClass domain.NetworkClass, onFallbackStrategy FallbackStrategyFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attempt == nil || t.attempt.Phase.Terminal() {
		return domain.ErrAttemptNotLive
	}

	from := t.attempt.NetworkClass
	strategy := StrategyFor(from, newClass)
	grace := t.cfg.NetworkChangeGrace

	t.logger.Infow("network change detected, waiting for stabilization",
		"attempt", t.attempt.Number,
		"from", from,
		"to", newClass,
		"strategy", strategy,
		"grace", grace,
	)

	task := t.scheduler.After(grace, func() {
		t.mu.Lock()
		if t.attempt == nil || t.attempt.Phase.Terminal() {
			t.mu.Unlock()
			return
		}
		t.attempt.NetworkClass = newClass
		t.attempt.LastNetworkChange = time.Now()
		t.mu.Unlock()

		if onFallbackStrategy != nil {
			onFallbackStrategy(strategy, from, newClass)
		}
	})
	t.pending = append(t.pending, task)
	return nil
}

// StopConnection cancels all timers and marks the attempt completed.
// Idempotent: a second call leaves the terminal state unchanged.
func (t *TimeoutController) StopConnection() {
	t.mu.Lock()
	t.stopLocked(domain.PhaseCompleted)
	notify := t.drainNotificationsLocked()
	t.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// Fail cancels all timers and marks the attempt failed. Idempotent.
func (t *TimeoutController) Fail() {
	t.mu.Lock()
	t.stopLocked(domain.PhaseFailed)
	notify := t.drainNotificationsLocked()
	t.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

func (t *TimeoutController) stopLocked(terminal domain.AttemptPhase) {
	t.cancelTimersLocked()
	if t.attempt == nil || t.attempt.Phase.Terminal() {
		return
	}
	t.forcePhaseLocked(terminal)
}

func (t *TimeoutController) cancelTimersLocked() {
	for kind, id := range t.timers {
		t.scheduler.Cancel(id)
		delete(t.timers, kind)
	}
	for _, id := range t.pending {
		t.scheduler.Cancel(id)
	}
	t.pending = nil
}

// Attempt returns a snapshot of the live attempt, or nil.
func (t *TimeoutController) Attempt() *domain.ConnectionAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempt == nil {
		return nil
	}
	attempt := *t.attempt
	return &attempt
}

// ValidateDeterministicBehavior flags conditions that would make repeated
// attempts behave differently: simultaneous pipeline locks, non-positive
// timer durations, and steps completed out of canonical order.
func (t *TimeoutController) ValidateDeterministicBehavior() []string {
	t.mu.Lock()
	cfg := t.cfg
	live := t.attempt != nil && !t.attempt.Phase.Terminal()
	t.mu.Unlock()

	var issues []string

	held := t.locks.HeldLocks()
	if len(held) > 1 {
		issues = append(issues, fmt.Sprintf("simultaneous locks held: %v", held))
	}

	if live && !cfg.Valid() {
		issues = append(issues, "timeout config contains non-positive durations")
	}

	for _, step := range t.locks.CompletedSteps() {
		if err := t.locks.ValidateSequenceOrder(step); err != nil {
			issues = append(issues, fmt.Sprintf("partially executed sequence: %v", err))
		}
	}

	return issues
}
