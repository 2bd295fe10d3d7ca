package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const metricsKey = "pairlink:metrics:history"

// RedisMetricsRepository persists completed attempt records as a capped JSON
// list, newest first.
type RedisMetricsRepository struct {
	client   *redis.Client
	capacity int64
}

func NewRedisMetricsRepository(client *redis.Client, capacity int64) ports.MetricsRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RedisMetricsRepository{
		client:   client,
		capacity: capacity,
	}
}

func (r *RedisMetricsRepository) SaveMetrics(ctx context.Context, metrics *domain.ConnectionMetrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, metricsKey, data)
	pipe.LTrim(ctx, metricsKey, 0, r.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store metrics in Redis: %w", err)
	}
	return nil
}

func (r *RedisMetricsRepository) RecentMetrics(ctx context.Context, limit int) ([]*domain.ConnectionMetrics, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = r.capacity - 1
	}

	raw, err := r.client.LRange(ctx, metricsKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics from Redis: %w", err)
	}

	out := make([]*domain.ConnectionMetrics, 0, len(raw))
	for _, item := range raw {
		var m domain.ConnectionMetrics
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (r *RedisMetricsRepository) MetricsSince(ctx context.Context, since time.Time) ([]*domain.ConnectionMetrics, error) {
	all, err := r.RecentMetrics(ctx, 0)
	if err != nil {
		return nil, err
	}

	var out []*domain.ConnectionMetrics
	for _, m := range all {
		if m.StartedAt.Before(since) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
