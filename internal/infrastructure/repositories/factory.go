package repositories

import (
	"context"

	"pairlink/internal/core/ports"
	"pairlink/internal/infrastructure/repositories/memory"
	redisrepo "pairlink/internal/infrastructure/repositories/redis"
	"pairlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories, falling back to memory when Redis
// is disabled or unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	historySize int
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a repository factory from configuration.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis:    cfg.Redis.Enabled,
		historySize: cfg.Telemetry.HistorySize,
		logger:      logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateMetricsRepository creates the attempt-history repository.
func (f *RepositoryFactory) CreateMetricsRepository() ports.MetricsRepository {
	if f.useRedis && f.redisClient != nil {
		repo := redisrepo.NewRedisMetricsRepository(f.redisClient, int64(f.historySize)*10)
		return NewGuardedMetricsRepository(repo, f.logger)
	}
	return memory.NewMetricsRepository(f.historySize * 10)
}

// Healthy reports whether the backing store is reachable. Memory
// repositories are always healthy.
func (f *RepositoryFactory) Healthy(ctx context.Context) error {
	if f.redisClient == nil {
		return nil
	}
	return f.redisClient.Ping(ctx).Err()
}

// Close releases the underlying connections.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
