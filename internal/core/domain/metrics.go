package domain

import (
	"strings"
	"time"
)

// CandidateType classifies a discovered network path.
type CandidateType string

const (
	CandidateHost          CandidateType = "host"
	CandidateReflexive     CandidateType = "srflx"
	CandidateRelayUDP      CandidateType = "relay-udp"
	CandidateRelayTCP      CandidateType = "relay-tcp"
	CandidatePeerReflexive CandidateType = "prflx"
	CandidateUnknown       CandidateType = "unknown"
)

// ClassifyCandidate maps a raw candidate descriptor to its path type.
func ClassifyCandidate(candidate string) CandidateType {
	c := strings.ToLower(candidate)
	switch {
	case strings.Contains(c, "typ relay"):
		if strings.Contains(c, "tcp") {
			return CandidateRelayTCP
		}
		return CandidateRelayUDP
	case strings.Contains(c, "typ srflx"):
		return CandidateReflexive
	case strings.Contains(c, "typ prflx"):
		return CandidatePeerReflexive
	case strings.Contains(c, "typ host"):
		return CandidateHost
	default:
		return CandidateUnknown
	}
}

// Well-known milestone names. Unknown names land in the generic map.
const (
	MilestoneMediaReady       = "media_ready"
	MilestoneConnectionObject = "connection_object_created"
	MilestoneTracksAttached   = "tracks_attached"
	MilestoneDiscoveryStart   = "discovery_start"
	MilestoneFirstCandidate   = "first_candidate"
	MilestoneOfferCreated     = "offer_created"
	MilestoneAnswerReceived   = "answer_received"
	MilestoneConnected        = "connected"
	MilestoneRelayFallback    = "relay_fallback"
	MilestoneNetworkChange    = "network_change"
)

// ConnectionMetrics is one record per connection attempt.
type ConnectionMetrics struct {
	SessionID     SessionID `json:"session_id"`
	UserID        UserID    `json:"user_id"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`

	// Well-known milestones, elapsed ms from StartedAt. Negative means unset.
	MediaReadyMs       int64 `json:"media_ready_ms"`
	ConnectionObjectMs int64 `json:"connection_object_ms"`
	TracksAttachedMs   int64 `json:"tracks_attached_ms"`
	DiscoveryStartMs   int64 `json:"discovery_start_ms"`
	FirstCandidateMs   int64 `json:"first_candidate_ms"`
	OfferCreatedMs     int64 `json:"offer_created_ms"`
	AnswerReceivedMs   int64 `json:"answer_received_ms"`
	ConnectedMs        int64 `json:"connected_ms"`

	// Everything else
	Milestones map[string]int64 `json:"milestones,omitempty"`

	CandidateCounts     map[CandidateType]int `json:"candidate_counts,omitempty"`
	WinningType         CandidateType         `json:"winning_type"`
	RelayCandidates     int                   `json:"relay_candidates"`
	ReflexiveCandidates int                   `json:"reflexive_candidates"`

	NetworkClass    NetworkClass    `json:"network_class"`
	TransportPolicy TransportPolicy `json:"transport_policy"`

	Success         bool   `json:"success"`
	FailureReason   string `json:"failure_reason,omitempty"`
	ConnectionState string `json:"connection_state,omitempty"`
	DiscoveryState  string `json:"discovery_state,omitempty"`

	TotalDurationMs   int64 `json:"total_duration_ms"`
	ExceededTarget    bool  `json:"exceeded_target"`
	UsedRelayFallback bool  `json:"used_relay_fallback"`
	HadNetworkIssues  bool  `json:"had_network_issues"`
}

// AlertType names a telemetry alert rule.
type AlertType string

const (
	AlertSlowDiscovery      AlertType = "slow-discovery"
	AlertSlowFirstCandidate AlertType = "slow-first-candidate"
	AlertRelayFallback      AlertType = "relay-fallback"
	AlertConnectionTimeout  AlertType = "connection-timeout"
	AlertRepeatedFailure    AlertType = "repeated-failure"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// PerformanceAlert is raised when an attempt trips an alert rule.
type PerformanceAlert struct {
	Type            AlertType          `json:"type"`
	Severity        AlertSeverity      `json:"severity"`
	Message         string             `json:"message"`
	Metrics         *ConnectionMetrics `json:"metrics,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// ConnectionStatistics aggregates the attempt history.
type ConnectionStatistics struct {
	TotalAttempts    int     `json:"total_attempts"`
	SuccessRate      float64 `json:"success_rate"`
	MeanDurationMs   float64 `json:"mean_duration_ms"`
	MedianDurationMs float64 `json:"median_duration_ms"`
	P95DurationMs    float64 `json:"p95_duration_ms"`
	TargetHitRate    float64 `json:"target_hit_rate"`

	ByNetworkClass map[NetworkClass]int  `json:"by_network_class"`
	ByWinningType  map[CandidateType]int `json:"by_winning_type"`

	// Rolling 24h window
	WindowAttempts    int     `json:"window_attempts"`
	WindowSuccessRate float64 `json:"window_success_rate"`

	GeneratedAt time.Time `json:"generated_at"`
}
