package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RelaySource describes one configured relay endpoint.
type RelaySource struct {
	ID       string
	URLs     []string
	Priority int
}

// ReflexiveSource describes one configured reflexive endpoint.
type ReflexiveSource struct {
	URLs []string
}

// CredentialFunc supplies a username/credential pair for a relay endpoint.
// Credentials are externally assigned; this function is the collaborator seam.
type CredentialFunc func(serverID string) (username, credential string, err error)

// ICEConfigOptions tunes cache behavior. Thresholds are empirically chosen
// and deliberately configurable.
type ICEConfigOptions struct {
	RelayServers     []RelaySource
	ReflexiveServers []ReflexiveSource
	ConfigTTL        time.Duration
	CredentialTTL    time.Duration
	ReuseThreshold   float64
	EvictThreshold   float64
	SuccessRateAlpha float64
	Credentials      CredentialFunc
}

// classPreset selects pool size and transport policy per network class.
type classPreset struct {
	poolSize int
	policy   domain.TransportPolicy
}

var classPresets = map[domain.NetworkClass]classPreset{
	domain.NetworkClassMobile:  {poolSize: 2, policy: domain.TransportPolicyRelayOnly},
	domain.NetworkClassWifi:    {poolSize: 8, policy: domain.TransportPolicyAll},
	domain.NetworkClassUnknown: {poolSize: 4, policy: domain.TransportPolicyAll},
}

// ICEConfigManager builds prioritized server configurations and caches them
// per network class, with credential reuse and success-rate driven eviction.
// Caches are shared across attempts within a session.
type ICEConfigManager struct {
	mu   sync.RWMutex
	opts ICEConfigOptions

	configCache map[domain.NetworkClass]*domain.ICEConfigCacheEntry
	credCache   map[string]*domain.CredentialCacheEntry

	logger *zap.SugaredLogger
}

// NewICEConfigManager creates a manager with empty caches.
func NewICEConfigManager(opts ICEConfigOptions, logger *zap.SugaredLogger) *ICEConfigManager {
	if opts.Credentials == nil {
		opts.Credentials = staticCredentials
	}
	return &ICEConfigManager{
		opts:        opts,
		configCache: make(map[domain.NetworkClass]*domain.ICEConfigCacheEntry),
		credCache:   make(map[string]*domain.CredentialCacheEntry),
		logger:      logger,
	}
}

// staticCredentials stands in when no external credential source is wired.
func staticCredentials(serverID string) (string, string, error) {
	return fmt.Sprintf("pl-%s", serverID), uuid.NewString(), nil
}

// GenerateOptimizedConfig returns a cached, non-expired, non-degraded config
// for the class if present, otherwise builds and caches a new one.
func (m *ICEConfigManager) GenerateOptimizedConfig(ctx context.Context, class domain.NetworkClass) (domain.ICEConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.configCache[class]; ok {
		if !entry.IsExpired(m.opts.ConfigTTL) && entry.SuccessRate >= m.opts.ReuseThreshold {
			entry.LastUsedAt = time.Now()
			entry.UseCount++
			m.logger.Debugw("reusing cached ice config",
				"network_class", class,
				"use_count", entry.UseCount,
				"success_rate", entry.SuccessRate,
			)
			return entry.Config, nil
		}
		// expired or degraded entries are rebuilt, not served
		delete(m.configCache, class)
	}

	cfg, degraded := m.buildConfigLocked(class)

	m.configCache[class] = &domain.ICEConfigCacheEntry{
		Config:      cfg,
		CreatedAt:   time.Now(),
		LastUsedAt:  time.Now(),
		UseCount:    1,
		SuccessRate: 1.0,
	}

	if degraded != nil {
		m.logger.Warnw("generated ice config is degraded",
			"network_class", class,
			"relay_count", cfg.RelayCount(),
			"reflexive_count", cfg.ReflexiveCount(),
			"error", degraded,
		)
		return cfg, degraded
	}
	return cfg, nil
}

// buildConfigLocked assembles relay entries sorted by priority and reflexive
// entries in the same server list. Reflexive servers are a parallel tier, not
// a sequential fallback.
func (m *ICEConfigManager) buildConfigLocked(class domain.NetworkClass) (domain.ICEConfig, error) {
	preset, ok := classPresets[class]
	if !ok {
		preset = classPresets[domain.NetworkClassUnknown]
	}

	servers := make([]domain.ICEServerEntry, 0, len(m.opts.RelayServers)+len(m.opts.ReflexiveServers))

	relays := make([]RelaySource, len(m.opts.RelayServers))
	copy(relays, m.opts.RelayServers)
	sort.Slice(relays, func(i, j int) bool { return relays[i].Priority > relays[j].Priority })

	for _, src := range relays {
		username, credential, err := m.credentialForLocked(src.ID)
		if err != nil {
			m.logger.Warnw("skipping relay server, credential assignment failed",
				"server_id", src.ID,
				"error", err,
			)
			continue
		}
		servers = append(servers, domain.ICEServerEntry{
			ID:         src.ID,
			URLs:       src.URLs,
			Username:   username,
			Credential: credential,
			Priority:   src.Priority,
			Kind:       domain.ServerKindRelay,
		})
	}

	for i, src := range m.opts.ReflexiveServers {
		servers = append(servers, domain.ICEServerEntry{
			ID:       fmt.Sprintf("stun-%d", i),
			URLs:     src.URLs,
			Priority: 0,
			Kind:     domain.ServerKindReflexive,
		})
	}

	cfg := domain.ICEConfig{
		Servers:           servers,
		TransportPolicy:   preset.policy,
		CandidatePoolSize: preset.poolSize,
		NetworkClass:      class,
		GeneratedAt:       time.Now(),
	}

	if cfg.RelayCount() == 0 || cfg.ReflexiveCount() == 0 {
		return cfg, errors.NewConfigDegraded(fmt.Sprintf(
			"config for %s has %d relay and %d reflexive entries, need at least one of each",
			class, cfg.RelayCount(), cfg.ReflexiveCount(),
		))
	}
	return cfg, nil
}

// credentialForLocked reuses an unexpired cached credential pair for the
// endpoint, otherwise assigns and caches a new one with fixed TTL.
func (m *ICEConfigManager) credentialForLocked(serverID string) (string, string, error) {
	if entry, ok := m.credCache[serverID]; ok && !entry.IsExpired() {
		entry.ReuseCount++
		return entry.Username, entry.Credential, nil
	}

	username, credential, err := m.opts.Credentials(serverID)
	if err != nil {
		return "", "", err
	}

	m.credCache[serverID] = &domain.CredentialCacheEntry{
		ServerID:   serverID,
		Username:   username,
		Credential: credential,
		ExpiresAt:  time.Now().Add(m.opts.CredentialTTL),
	}
	return username, credential, nil
}

// UpdateCacheSuccessRate folds an attempt outcome into the class entry with an
// exponential moving average. Entries falling below the eviction threshold are
// removed immediately.
func (m *ICEConfigManager) UpdateCacheSuccessRate(class domain.NetworkClass, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.configCache[class]
	if !ok {
		return
	}

	alpha := m.opts.SuccessRateAlpha
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	entry.SuccessRate = alpha*outcome + (1-alpha)*entry.SuccessRate
	entry.AvgDuration = time.Duration(alpha*float64(duration) + (1-alpha)*float64(entry.AvgDuration))

	if entry.SuccessRate < m.opts.EvictThreshold {
		delete(m.configCache, class)
		m.logger.Infow("evicted ice config entry, success rate below threshold",
			"network_class", class,
			"success_rate", entry.SuccessRate,
		)
	}
}

// CleanupCache purges TTL-expired configs and credentials.
func (m *ICEConfigManager) CleanupCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for class, entry := range m.configCache {
		if entry.IsExpired(m.opts.ConfigTTL) {
			delete(m.configCache, class)
		}
	}
	for id, entry := range m.credCache {
		if entry.IsExpired() {
			delete(m.credCache, id)
		}
	}
}

// CacheSize returns the number of cached config entries.
func (m *ICEConfigManager) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.configCache)
}
