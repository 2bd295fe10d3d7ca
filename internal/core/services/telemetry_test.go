package services

import (
	"testing"
	"time"

	"pairlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock drives the collector's clock deterministically.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestCollector(t *testing.T) (*TelemetryCollector, *fakeClock) {
	t.Helper()
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tc := NewTelemetryCollector(DefaultTelemetryOptions(), nil, nil, zap.NewNop().Sugar())
	tc.now = clock.now
	return tc, clock
}

func TestFastSuccessfulAttempt(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(100 * time.Millisecond)
	tc.RecordMilestone(domain.MilestoneMediaReady, nil)
	clock.advance(50 * time.Millisecond)
	tc.RecordMilestone(domain.MilestoneConnectionObject, map[string]interface{}{
		"network_class": domain.NetworkClassWifi,
	})
	clock.advance(150 * time.Millisecond)
	tc.RecordCandidate("candidate:1 1 udp 2130706431 10.0.0.1 9 typ host", false)
	clock.advance(700 * time.Millisecond)
	tc.RecordCandidate("candidate:2 1 udp 1694498815 203.0.113.5 61000 typ srflx", true)
	tc.RecordMilestone(domain.MilestoneConnected, nil)
	m := tc.CompleteTiming(true, "", "connected", "complete")

	require.NotNil(t, m)
	assert.True(t, m.Success)
	assert.Equal(t, int64(100), m.MediaReadyMs)
	assert.Equal(t, int64(150), m.ConnectionObjectMs)
	assert.Equal(t, int64(300), m.FirstCandidateMs)
	assert.Equal(t, int64(1000), m.ConnectedMs)
	assert.Equal(t, int64(1000), m.TotalDurationMs)
	assert.False(t, m.ExceededTarget)
	assert.Equal(t, domain.CandidateReflexive, m.WinningType)
	assert.Equal(t, domain.NetworkClassWifi, m.NetworkClass)

	assert.Empty(t, tc.GetRecentAlerts(0), "a fast clean attempt raises no alerts")
}

func TestSlowSuccessRaisesTimeoutAlert(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(7 * time.Second)
	tc.RecordMilestone(domain.MilestoneConnected, nil)
	m := tc.CompleteTiming(true, "", "connected", "complete")

	require.NotNil(t, m)
	assert.True(t, m.ExceededTarget)

	alerts := tc.GetRecentAlerts(0)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertConnectionTimeout, alerts[0].Type)
	assert.Equal(t, domain.SeverityError, alerts[0].Severity)
}

func TestFailureRaisesAlertAndEscalates(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(time.Second)
	tc.CompleteTiming(false, "negotiation timeout", "failed", "incomplete")

	alerts := tc.GetRecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertRepeatedFailure, alerts[0].Type)
	assert.Equal(t, domain.SeverityError, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "negotiation timeout")

	// second failure for the same user escalates
	tc.StartTiming("session-1", "user-1", 2)
	clock.advance(time.Second)
	tc.CompleteTiming(false, "transport failed", "failed", "incomplete")

	alerts = tc.GetRecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
}

func TestFailureEscalationIsPerUser(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(time.Second)
	tc.CompleteTiming(false, "timeout", "failed", "incomplete")

	// a different user's first failure stays at error severity
	tc.StartTiming("session-2", "user-2", 1)
	clock.advance(time.Second)
	tc.CompleteTiming(false, "timeout", "failed", "incomplete")

	alerts := tc.GetRecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityError, alerts[0].Severity)
}

func TestRelayFallbackAttempt(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(2 * time.Second)
	tc.RecordMilestone(domain.MilestoneRelayFallback, nil)
	tc.RecordCandidate("candidate:3 1 udp 41885439 198.51.100.2 3478 typ relay", false)
	tc.RecordCandidate("candidate:4 1 tcp 25108223 198.51.100.2 3478 typ relay tcptype passive", true)
	clock.advance(time.Second)
	m := tc.CompleteTiming(true, "", "connected", "complete")

	require.NotNil(t, m)
	assert.True(t, m.UsedRelayFallback)
	assert.Equal(t, 2, m.RelayCandidates)
	assert.Equal(t, 1, m.CandidateCounts[domain.CandidateRelayUDP])
	assert.Equal(t, 1, m.CandidateCounts[domain.CandidateRelayTCP])
	assert.Equal(t, domain.CandidateRelayTCP, m.WinningType)

	alerts := tc.GetRecentAlerts(0)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertRelayFallback, alerts[0].Type)
	assert.Equal(t, domain.SeverityWarning, alerts[0].Severity)
}

func TestSlowDiscoveryAndFirstCandidateWarnings(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(2500 * time.Millisecond)
	tc.RecordMilestone(domain.MilestoneDiscoveryStart, nil)
	clock.advance(1 * time.Second)
	tc.RecordCandidate("candidate:1 1 udp 2130706431 10.0.0.1 9 typ host", true)
	clock.advance(500 * time.Millisecond)
	tc.CompleteTiming(true, "", "connected", "complete")

	alerts := tc.GetRecentAlerts(0)
	require.Len(t, alerts, 2)
	types := []domain.AlertType{alerts[0].Type, alerts[1].Type}
	assert.Contains(t, types, domain.AlertSlowDiscovery)
	assert.Contains(t, types, domain.AlertSlowFirstCandidate)
}

func TestMilestoneBeforeStartIsIgnored(t *testing.T) {
	tc, _ := newTestCollector(t)

	tc.RecordMilestone(domain.MilestoneMediaReady, nil)
	tc.RecordCandidate("candidate:1 1 udp 2130706431 10.0.0.1 9 typ host", false)
	assert.Nil(t, tc.CompleteTiming(true, "", "connected", "complete"))
}

func TestRestartDiscardsUnfinishedRecord(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(time.Second)
	tc.StartTiming("session-1", "user-1", 2)
	m := tc.CompleteTiming(true, "", "connected", "complete")

	require.NotNil(t, m)
	assert.Equal(t, 2, m.AttemptNumber)

	stats := tc.GetStatistics()
	assert.Equal(t, 1, stats.TotalAttempts, "the discarded record never reaches history")
}

func TestGetStatistics(t *testing.T) {
	tc, clock := newTestCollector(t)

	durations := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		3 * time.Second,
		4 * time.Second,
		6 * time.Second,
	}
	for i, d := range durations {
		tc.StartTiming("session-1", "user-1", i+1)
		tc.RecordMilestone(domain.MilestoneConnectionObject, map[string]interface{}{
			"network_class": domain.NetworkClassWifi,
		})
		if i < 4 {
			tc.RecordCandidate("candidate:1 1 udp 2130706431 10.0.0.1 9 typ host", true)
		}
		clock.advance(d)
		tc.CompleteTiming(i < 4, "", "connected", "complete")
	}

	stats := tc.GetStatistics()
	assert.Equal(t, 5, stats.TotalAttempts)
	assert.InDelta(t, 0.8, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 3200, stats.MeanDurationMs, 1e-9)
	assert.InDelta(t, 3000, stats.MedianDurationMs, 1e-9)
	assert.InDelta(t, 4000, stats.P95DurationMs, 1e-9)
	assert.Equal(t, 5, stats.ByNetworkClass[domain.NetworkClassWifi])
	assert.Equal(t, 4, stats.ByWinningType[domain.CandidateHost])
	assert.Equal(t, 5, stats.WindowAttempts)
}

func TestAlertBufferIsBounded(t *testing.T) {
	opts := DefaultTelemetryOptions()
	opts.AlertBuffer = 3
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tc := NewTelemetryCollector(opts, nil, nil, zap.NewNop().Sugar())
	tc.now = clock.now

	for i := 0; i < 6; i++ {
		tc.StartTiming("session-1", "user-1", i+1)
		clock.advance(time.Second)
		tc.CompleteTiming(false, "timeout", "failed", "incomplete")
	}

	assert.Len(t, tc.GetRecentAlerts(0), 3)
}

func TestGetRecentAlertsNewestFirst(t *testing.T) {
	tc, clock := newTestCollector(t)

	tc.StartTiming("session-1", "user-1", 1)
	clock.advance(time.Second)
	tc.CompleteTiming(false, "first", "failed", "incomplete")

	tc.StartTiming("session-1", "user-1", 2)
	clock.advance(time.Second)
	tc.CompleteTiming(false, "second", "failed", "incomplete")

	alerts := tc.GetRecentAlerts(2)
	require.Len(t, alerts, 2)
	assert.Contains(t, alerts[0].Message, "second")
	assert.Contains(t, alerts[1].Message, "first")
}
