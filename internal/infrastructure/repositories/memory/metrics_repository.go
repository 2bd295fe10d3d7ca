package memory

import (
	"context"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
)

// MetricsRepository keeps completed attempt records in memory, newest first,
// bounded at capacity.
type MetricsRepository struct {
	mu       sync.RWMutex
	records  []*domain.ConnectionMetrics
	capacity int
}

func NewMetricsRepository(capacity int) ports.MetricsRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MetricsRepository{capacity: capacity}
}

func (r *MetricsRepository) SaveMetrics(ctx context.Context, metrics *domain.ConnectionMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *metrics
	r.records = append([]*domain.ConnectionMetrics{&copied}, r.records...)
	if len(r.records) > r.capacity {
		r.records = r.records[:r.capacity]
	}
	return nil
}

func (r *MetricsRepository) RecentMetrics(ctx context.Context, limit int) ([]*domain.ConnectionMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]*domain.ConnectionMetrics, limit)
	for i := 0; i < limit; i++ {
		copied := *r.records[i]
		out[i] = &copied
	}
	return out, nil
}

func (r *MetricsRepository) MetricsSince(ctx context.Context, since time.Time) ([]*domain.ConnectionMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ConnectionMetrics
	for _, record := range r.records {
		if record.StartedAt.Before(since) {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	return out, nil
}
