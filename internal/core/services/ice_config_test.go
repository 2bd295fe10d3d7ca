package services

import (
	"context"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	pkgerrors "pairlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testICEOptions() ICEConfigOptions {
	return ICEConfigOptions{
		RelayServers: []RelaySource{
			{ID: "turn-eu", URLs: []string{"turn:turn-eu.example.com:3478"}, Priority: 10},
			{ID: "turn-us", URLs: []string{"turn:turn-us.example.com:3478"}, Priority: 20},
		},
		ReflexiveServers: []ReflexiveSource{
			{URLs: []string{"stun:stun.example.com:19302"}},
		},
		ConfigTTL:        time.Minute,
		CredentialTTL:    time.Minute,
		ReuseThreshold:   0.7,
		EvictThreshold:   0.3,
		SuccessRateAlpha: 0.3,
		Credentials: func(serverID string) (string, string, error) {
			return "user-" + serverID, "secret-" + serverID, nil
		},
	}
}

func newTestICEManager(t *testing.T, opts ICEConfigOptions) *ICEConfigManager {
	t.Helper()
	return NewICEConfigManager(opts, zap.NewNop().Sugar())
}

func TestGenerateConfigOrdersRelaysByPriority(t *testing.T) {
	m := newTestICEManager(t, testICEOptions())

	cfg, err := m.GenerateOptimizedConfig(context.Background(), domain.NetworkClassWifi)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 3)
	assert.Equal(t, "turn-us", cfg.Servers[0].ID, "highest priority relay first")
	assert.Equal(t, "turn-eu", cfg.Servers[1].ID)
	assert.Equal(t, domain.ServerKindReflexive, cfg.Servers[2].Kind)
}

func TestGenerateConfigClassPresets(t *testing.T) {
	m := newTestICEManager(t, testICEOptions())
	ctx := context.Background()

	wifi, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassWifi)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportPolicyAll, wifi.TransportPolicy)
	assert.Equal(t, 8, wifi.CandidatePoolSize)

	mobile, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassMobile)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportPolicyRelayOnly, mobile.TransportPolicy)
	assert.Equal(t, 2, mobile.CandidatePoolSize)

	unknown, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassUnknown)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportPolicyAll, unknown.TransportPolicy)
	assert.Equal(t, 4, unknown.CandidatePoolSize)
}

func TestRepeatedConfigsForSameClassAreStructurallyEqual(t *testing.T) {
	m := newTestICEManager(t, testICEOptions())
	ctx := context.Background()

	first, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassWifi)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		next, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassWifi)
		require.NoError(t, err)
		assert.Equal(t, first.Servers, next.Servers)
		assert.Equal(t, first.TransportPolicy, next.TransportPolicy)
		assert.Equal(t, first.CandidatePoolSize, next.CandidatePoolSize)
	}

	assert.Equal(t, 1, m.CacheSize(), "one entry per class")
}

func TestCredentialsAreReusedWithinTTL(t *testing.T) {
	opts := testICEOptions()
	calls := 0
	opts.Credentials = func(serverID string) (string, string, error) {
		calls++
		return "u-" + serverID, "c-" + serverID, nil
	}
	m := newTestICEManager(t, opts)
	ctx := context.Background()

	_, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassWifi)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "one assignment per relay endpoint")

	// a different class rebuilds the config but reuses cached credentials
	_, err = m.GenerateOptimizedConfig(ctx, domain.NetworkClassMobile)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDegradedConfigIsStillReturned(t *testing.T) {
	opts := testICEOptions()
	opts.ReflexiveServers = nil
	m := newTestICEManager(t, opts)

	cfg, err := m.GenerateOptimizedConfig(context.Background(), domain.NetworkClassWifi)

	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrCodeConfigDegraded))
	assert.NotEmpty(t, cfg.Servers, "degraded config still usable")
	assert.Equal(t, 2, cfg.RelayCount())
	assert.Equal(t, 0, cfg.ReflexiveCount())
}

func TestSuccessRateEMA(t *testing.T) {
	m := newTestICEManager(t, testICEOptions())
	ctx := context.Background()

	_, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassWifi)
	require.NoError(t, err)

	// one failure: 0.3*0 + 0.7*1.0 = 0.7, still at the reuse threshold
	m.UpdateCacheSuccessRate(domain.NetworkClassWifi, false, 2*time.Second)

	entry := m.configCache[domain.NetworkClassWifi]
	require.NotNil(t, entry)
	assert.InDelta(t, 0.7, entry.SuccessRate, 1e-9)
}

func TestRepeatedFailuresEvictEntry(t *testing.T) {
	m := newTestICEManager(t, testICEOptions())
	ctx := context.Background()

	_, err := m.GenerateOptimizedConfig(ctx, domain.NetworkClassWifi)
	require.NoError(t, err)

	// 0.7 -> 0.49 -> 0.343 -> 0.2401, crossing the eviction threshold
	for i := 0; i < 4; i++ {
		m.UpdateCacheSuccessRate(domain.NetworkClassWifi, false, 2*time.Second)
	}
	assert.Equal(t, 0, m.CacheSize(), "entry below eviction threshold must go")

	// next request regenerates a fresh entry with full confidence
	_, err = m.GenerateOptimizedConfig(ctx, domain.NetworkClassWifi)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CacheSize())
	assert.InDelta(t, 1.0, m.configCache[domain.NetworkClassWifi].SuccessRate, 1e-9)
}

func TestUpdateSuccessRateForUnknownClassIsNoop(t *testing.T) {
	m := newTestICEManager(t, testICEOptions())
	m.UpdateCacheSuccessRate(domain.NetworkClassMobile, true, time.Second)
	assert.Equal(t, 0, m.CacheSize())
}

func TestCleanupCachePurgesExpiredEntries(t *testing.T) {
	opts := testICEOptions()
	opts.ConfigTTL = time.Nanosecond
	m := newTestICEManager(t, opts)

	_, err := m.GenerateOptimizedConfig(context.Background(), domain.NetworkClassWifi)
	require.NoError(t, err)
	require.Equal(t, 1, m.CacheSize())

	time.Sleep(time.Millisecond)
	m.CleanupCache()
	assert.Equal(t, 0, m.CacheSize())
}
