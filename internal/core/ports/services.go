package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
)

// ICEConfigService builds and caches prioritized ICE server configurations.
type ICEConfigService interface {
	GenerateOptimizedConfig(ctx context.Context, class domain.NetworkClass) (domain.ICEConfig, error)
	UpdateCacheSuccessRate(class domain.NetworkClass, success bool, duration time.Duration)
	CleanupCache()
}

// TelemetryService records timing milestones and derives alerts and statistics.
type TelemetryService interface {
	StartTiming(sessionID domain.SessionID, userID domain.UserID, attemptNumber int)
	RecordMilestone(name string, extra map[string]interface{})
	RecordCandidate(candidate string, wasSuccessful bool)
	CompleteTiming(success bool, reason, connState, discoveryState string) *domain.ConnectionMetrics
	GetStatistics() domain.ConnectionStatistics
	GetRecentAlerts(limit int) []domain.PerformanceAlert
}
