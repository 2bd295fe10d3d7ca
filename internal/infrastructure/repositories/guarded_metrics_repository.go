package repositories

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// GuardedMetricsRepository wraps a repository with a circuit breaker so a
// struggling backend cannot stall attempt completion. Writes that hit an open
// circuit are dropped; reads fail fast to the caller.
type GuardedMetricsRepository struct {
	inner   ports.MetricsRepository
	breaker *circuitbreaker.Breaker
	logger  *zap.SugaredLogger
}

func NewGuardedMetricsRepository(inner ports.MetricsRepository, logger *zap.SugaredLogger) *GuardedMetricsRepository {
	breaker := circuitbreaker.New(circuitbreaker.StoreSettings())
	breaker.Notify(func(from, to circuitbreaker.State) {
		logger.Warnw("metrics repository circuit state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return &GuardedMetricsRepository{
		inner:   inner,
		breaker: breaker,
		logger:  logger,
	}
}

func (r *GuardedMetricsRepository) SaveMetrics(ctx context.Context, metrics *domain.ConnectionMetrics) error {
	err := r.breaker.Do(ctx, func() error {
		return r.inner.SaveMetrics(ctx, metrics)
	})
	if err != nil {
		r.logger.Warnw("dropping metrics record, repository unavailable",
			"session_id", metrics.SessionID,
			"error", err,
		)
	}
	return err
}

func (r *GuardedMetricsRepository) RecentMetrics(ctx context.Context, limit int) ([]*domain.ConnectionMetrics, error) {
	var out []*domain.ConnectionMetrics
	err := r.breaker.Do(ctx, func() error {
		var innerErr error
		out, innerErr = r.inner.RecentMetrics(ctx, limit)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GuardedMetricsRepository) MetricsSince(ctx context.Context, since time.Time) ([]*domain.ConnectionMetrics, error) {
	var out []*domain.ConnectionMetrics
	err := r.breaker.Do(ctx, func() error {
		var innerErr error
		out, innerErr = r.inner.MetricsSince(ctx, since)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
