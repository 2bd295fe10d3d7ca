package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
)

// MetricsRepository persists completed attempt records.
type MetricsRepository interface {
	SaveMetrics(ctx context.Context, metrics *domain.ConnectionMetrics) error
	RecentMetrics(ctx context.Context, limit int) ([]*domain.ConnectionMetrics, error)
	MetricsSince(ctx context.Context, since time.Time) ([]*domain.ConnectionMetrics, error)
}
