package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"go.uber.org/zap"
)

// TelemetryObserver receives attempt lifecycle events. The prometheus
// collector implements it; a nil observer is allowed.
type TelemetryObserver interface {
	AttemptStarted(class domain.NetworkClass)
	AttemptCompleted(metrics *domain.ConnectionMetrics)
	CandidateDiscovered(candidateType domain.CandidateType)
	AlertRaised(alert domain.PerformanceAlert)
}

// TelemetryOptions tunes alert thresholds and buffer sizes.
type TelemetryOptions struct {
	TargetMs             int64
	DiscoveryWarnMs      int64
	FirstCandidateWarnMs int64
	HistorySize          int
	AlertBuffer          int
}

// DefaultTelemetryOptions returns the fixed production thresholds.
func DefaultTelemetryOptions() TelemetryOptions {
	return TelemetryOptions{
		TargetMs:             5000,
		DiscoveryWarnMs:      2000,
		FirstCandidateWarnMs: 3000,
		HistorySize:          100,
		AlertBuffer:          50,
	}
}

// TelemetryCollector records timing milestones per attempt, classifies
// discovered paths, raises alerts and computes aggregate statistics.
// Single-writer: one current record at a time.
type TelemetryCollector struct {
	mu sync.Mutex

	opts    TelemetryOptions
	current *domain.ConnectionMetrics
	history []*domain.ConnectionMetrics
	alerts  []domain.PerformanceAlert

	// last outcomes per user, newest last, capped at 3
	userOutcomes map[domain.UserID][]bool

	repo     ports.MetricsRepository
	observer TelemetryObserver

	// overridable for tests
	now func() time.Time

	logger *zap.SugaredLogger
}

// NewTelemetryCollector creates a collector. repo and observer may be nil.
func NewTelemetryCollector(opts TelemetryOptions, repo ports.MetricsRepository, observer TelemetryObserver, logger *zap.SugaredLogger) *TelemetryCollector {
	return &TelemetryCollector{
		opts:         opts,
		userOutcomes: make(map[domain.UserID][]bool),
		repo:         repo,
		observer:     observer,
		now:          time.Now,
		logger:       logger,
	}
}

// StartTiming opens the current record. A second call before CompleteTiming
// discards the unfinished prior record.
func (t *TelemetryCollector) StartTiming(sessionID domain.SessionID, userID domain.UserID, attemptNumber int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		t.logger.Warnw("discarding unfinished timing record",
			"session_id", t.current.SessionID,
			"attempt", t.current.AttemptNumber,
		)
	}

	t.current = &domain.ConnectionMetrics{
		SessionID:          sessionID,
		UserID:             userID,
		AttemptNumber:      attemptNumber,
		StartedAt:          t.now(),
		MediaReadyMs:       -1,
		ConnectionObjectMs: -1,
		TracksAttachedMs:   -1,
		DiscoveryStartMs:   -1,
		FirstCandidateMs:   -1,
		OfferCreatedMs:     -1,
		AnswerReceivedMs:   -1,
		ConnectedMs:        -1,
		Milestones:         make(map[string]int64),
		CandidateCounts:    make(map[domain.CandidateType]int),
		WinningType:        domain.CandidateUnknown,
	}

	if t.observer != nil {
		t.observer.AttemptStarted(t.current.NetworkClass)
	}
}

// RecordMilestone stamps elapsed time for a named milestone. Well-known names
// populate dedicated fields; unknown names land in the generic map.
func (t *TelemetryCollector) RecordMilestone(name string, extra map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return
	}

	elapsed := t.now().Sub(t.current.StartedAt).Milliseconds()
	t.current.Milestones[name] = elapsed

	switch name {
	case domain.MilestoneMediaReady:
		t.current.MediaReadyMs = elapsed
	case domain.MilestoneConnectionObject:
		t.current.ConnectionObjectMs = elapsed
	case domain.MilestoneTracksAttached:
		t.current.TracksAttachedMs = elapsed
	case domain.MilestoneDiscoveryStart:
		t.current.DiscoveryStartMs = elapsed
	case domain.MilestoneFirstCandidate:
		t.current.FirstCandidateMs = elapsed
	case domain.MilestoneOfferCreated:
		t.current.OfferCreatedMs = elapsed
	case domain.MilestoneAnswerReceived:
		t.current.AnswerReceivedMs = elapsed
	case domain.MilestoneConnected:
		t.current.ConnectedMs = elapsed
	case domain.MilestoneRelayFallback:
		t.current.UsedRelayFallback = true
	case domain.MilestoneNetworkChange:
		t.current.HadNetworkIssues = true
	}

	if class, ok := extra["network_class"].(domain.NetworkClass); ok {
		t.current.NetworkClass = class
	}
	if policy, ok := extra["transport_policy"].(domain.TransportPolicy); ok {
		t.current.TransportPolicy = policy
	}
}

// RecordCandidate classifies one discovered path descriptor.
func (t *TelemetryCollector) RecordCandidate(candidate string, wasSuccessful bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return
	}

	candidateType := domain.ClassifyCandidate(candidate)
	t.current.CandidateCounts[candidateType]++

	switch candidateType {
	case domain.CandidateRelayUDP, domain.CandidateRelayTCP:
		t.current.RelayCandidates++
	case domain.CandidateReflexive:
		t.current.ReflexiveCandidates++
	}

	if t.current.FirstCandidateMs < 0 {
		elapsed := t.now().Sub(t.current.StartedAt).Milliseconds()
		t.current.FirstCandidateMs = elapsed
		t.current.Milestones[domain.MilestoneFirstCandidate] = elapsed
	}

	if wasSuccessful {
		t.current.WinningType = candidateType
	}

	if t.observer != nil {
		t.observer.CandidateDiscovered(candidateType)
	}
}

// CompleteTiming closes the current record, evaluates alert rules and appends
// the record to the bounded history.
func (t *TelemetryCollector) CompleteTiming(success bool, reason, connState, discoveryState string) *domain.ConnectionMetrics {
	t.mu.Lock()

	if t.current == nil {
		t.mu.Unlock()
		return nil
	}

	m := t.current
	t.current = nil

	m.Success = success
	m.FailureReason = reason
	m.ConnectionState = connState
	m.DiscoveryState = discoveryState
	m.TotalDurationMs = t.now().Sub(m.StartedAt).Milliseconds()
	m.ExceededTarget = m.TotalDurationMs > t.opts.TargetMs

	outcomes := append(t.userOutcomes[m.UserID], success)
	if len(outcomes) > 3 {
		outcomes = outcomes[len(outcomes)-3:]
	}
	t.userOutcomes[m.UserID] = outcomes

	t.history = append(t.history, m)
	if len(t.history) > t.opts.HistorySize {
		t.history = t.history[len(t.history)-t.opts.HistorySize:]
	}

	t.evaluateAlertsLocked(m)
	observer := t.observer
	repo := t.repo
	t.mu.Unlock()

	if observer != nil {
		observer.AttemptCompleted(m)
	}
	if repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := repo.SaveMetrics(ctx, m); err != nil {
			t.logger.Warnw("failed to persist attempt metrics",
				"session_id", m.SessionID,
				"error", err,
			)
		}
	}

	return m
}

// evaluateAlertsLocked applies the fixed alert rules to a completed record.
func (t *TelemetryCollector) evaluateAlertsLocked(m *domain.ConnectionMetrics) {
	if m.DiscoveryStartMs > t.opts.DiscoveryWarnMs {
		t.raiseLocked(domain.PerformanceAlert{
			Type:     domain.AlertSlowDiscovery,
			Severity: domain.SeverityWarning,
			Message:  "path discovery started late",
			Metrics:  m,
			Recommendations: []string{
				"check ice server reachability",
				"verify media acquisition is not blocking discovery",
			},
		})
	}

	if m.FirstCandidateMs > t.opts.FirstCandidateWarnMs {
		t.raiseLocked(domain.PerformanceAlert{
			Type:     domain.AlertSlowFirstCandidate,
			Severity: domain.SeverityWarning,
			Message:  "first path was found late",
			Metrics:  m,
			Recommendations: []string{
				"check stun server latency",
				"consider a closer relay region",
			},
		})
	}

	if m.UsedRelayFallback {
		t.raiseLocked(domain.PerformanceAlert{
			Type:     domain.AlertRelayFallback,
			Severity: domain.SeverityWarning,
			Message:  "attempt fell back to relay transport",
			Metrics:  m,
			Recommendations: []string{
				"direct connectivity failed, review nat configuration",
			},
		})
	}

	if m.Success && m.ExceededTarget {
		t.raiseLocked(domain.PerformanceAlert{
			Type:     domain.AlertConnectionTimeout,
			Severity: domain.SeverityError,
			Message:  "connection established past the setup target",
			Metrics:  m,
			Recommendations: []string{
				"review per-class timeout presets",
			},
		})
	}

	if !m.Success {
		severity := domain.SeverityError
		if failureCount(t.userOutcomes[m.UserID]) >= 2 {
			severity = domain.SeverityCritical
		}
		t.raiseLocked(domain.PerformanceAlert{
			Type:     domain.AlertRepeatedFailure,
			Severity: severity,
			Message:  "connection attempt failed: " + m.FailureReason,
			Metrics:  m,
			Recommendations: []string{
				"inspect failure reason and network class",
			},
		})
	}
}

func failureCount(outcomes []bool) int {
	n := 0
	for _, ok := range outcomes {
		if !ok {
			n++
		}
	}
	return n
}

func (t *TelemetryCollector) raiseLocked(alert domain.PerformanceAlert) {
	alert.Timestamp = t.now()
	t.alerts = append(t.alerts, alert)
	if len(t.alerts) > t.opts.AlertBuffer {
		t.alerts = t.alerts[len(t.alerts)-t.opts.AlertBuffer:]
	}

	t.logger.Warnw("performance alert raised",
		"type", alert.Type,
		"severity", alert.Severity,
		"message", alert.Message,
	)

	if t.observer != nil {
		t.observer.AlertRaised(alert)
	}
}

// GetRecentAlerts returns up to limit alerts, newest first.
func (t *TelemetryCollector) GetRecentAlerts(limit int) []domain.PerformanceAlert {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.alerts) {
		limit = len(t.alerts)
	}
	out := make([]domain.PerformanceAlert, 0, limit)
	for i := len(t.alerts) - 1; i >= len(t.alerts)-limit; i-- {
		out = append(out, t.alerts[i])
	}
	return out
}

// GetStatistics derives aggregate statistics from the attempt history,
// including a rolling 24 hour window.
func (t *TelemetryCollector) GetStatistics() domain.ConnectionStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := domain.ConnectionStatistics{
		ByNetworkClass: make(map[domain.NetworkClass]int),
		ByWinningType:  make(map[domain.CandidateType]int),
		GeneratedAt:    t.now(),
	}

	if len(t.history) == 0 {
		return stats
	}

	stats.TotalAttempts = len(t.history)
	windowStart := t.now().Add(-24 * time.Hour)

	durations := make([]float64, 0, len(t.history))
	successes := 0
	targetHits := 0
	windowAttempts := 0
	windowSuccesses := 0

	for _, m := range t.history {
		durations = append(durations, float64(m.TotalDurationMs))
		if m.Success {
			successes++
			if !m.ExceededTarget {
				targetHits++
			}
		}
		stats.ByNetworkClass[m.NetworkClass]++
		if m.WinningType != domain.CandidateUnknown {
			stats.ByWinningType[m.WinningType]++
		}
		if m.StartedAt.After(windowStart) {
			windowAttempts++
			if m.Success {
				windowSuccesses++
			}
		}
	}

	stats.SuccessRate = float64(successes) / float64(len(t.history))
	stats.TargetHitRate = float64(targetHits) / float64(len(t.history))

	sort.Float64s(durations)
	total := 0.0
	for _, d := range durations {
		total += d
	}
	stats.MeanDurationMs = total / float64(len(durations))
	stats.MedianDurationMs = percentile(durations, 50)
	stats.P95DurationMs = percentile(durations, 95)

	stats.WindowAttempts = windowAttempts
	if windowAttempts > 0 {
		stats.WindowSuccessRate = float64(windowSuccesses) / float64(windowAttempts)
	}

	return stats
}

// percentile returns the p-th percentile of sorted values.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
