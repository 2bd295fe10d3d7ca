package config

import (
	"fmt"
	"os"
	"time"

	"pairlink/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signaling struct {
		URL               string        `yaml:"url"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		TokenSecret       string        `yaml:"token_secret"`
		TokenTTL          time.Duration `yaml:"token_ttl"`
		MessagesPerSecond float64       `yaml:"messages_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"signaling"`

	ICE struct {
		RelayServers []struct {
			ID       string   `yaml:"id"`
			URLs     []string `yaml:"urls"`
			Priority int      `yaml:"priority"`
		} `yaml:"relay_servers"`
		ReflexiveServers []struct {
			URLs []string `yaml:"urls"`
		} `yaml:"reflexive_servers"`
		ConfigTTL        time.Duration `yaml:"config_ttl"`
		CredentialTTL    time.Duration `yaml:"credential_ttl"`
		ReuseThreshold   float64       `yaml:"reuse_threshold"`
		EvictThreshold   float64       `yaml:"evict_threshold"`
		SuccessRateAlpha float64       `yaml:"success_rate_alpha"`
	} `yaml:"ice"`

	WebRTC struct {
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Telemetry struct {
		TargetMs             int64 `yaml:"target_ms"`
		DiscoveryWarnMs      int64 `yaml:"discovery_warn_ms"`
		FirstCandidateWarnMs int64 `yaml:"first_candidate_warn_ms"`
		HistorySize          int   `yaml:"history_size"`
		AlertBuffer          int   `yaml:"alert_buffer"`
	} `yaml:"telemetry"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signaling
	if err := validation.ValidateSignalingURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= 0 {
		return fmt.Errorf("signaling.pong_timeout must be > 0")
	}
	if c.Signaling.TokenSecret == "" {
		return fmt.Errorf("signaling.token_secret must not be empty")
	}
	if c.Signaling.TokenTTL <= 0 {
		return fmt.Errorf("signaling.token_ttl must be > 0")
	}
	if c.Signaling.MessagesPerSecond <= 0 {
		return fmt.Errorf("signaling.messages_per_second must be > 0")
	}
	if c.Signaling.Burst <= 0 {
		return fmt.Errorf("signaling.burst must be > 0")
	}

	// ICE
	for _, server := range c.ICE.RelayServers {
		for _, u := range server.URLs {
			if err := validation.ValidateRelayURL(u); err != nil {
				return fmt.Errorf("ice.relay_servers[%s]: %w", server.ID, err)
			}
		}
	}
	for i, server := range c.ICE.ReflexiveServers {
		for _, u := range server.URLs {
			if err := validation.ValidateReflexiveURL(u); err != nil {
				return fmt.Errorf("ice.reflexive_servers[%d]: %w", i, err)
			}
		}
	}
	if c.ICE.ConfigTTL <= 0 {
		return fmt.Errorf("ice.config_ttl must be > 0")
	}
	if c.ICE.CredentialTTL <= 0 {
		return fmt.Errorf("ice.credential_ttl must be > 0")
	}
	if c.ICE.ReuseThreshold <= 0 || c.ICE.ReuseThreshold > 1 {
		return fmt.Errorf("ice.reuse_threshold must be in (0, 1]")
	}
	if c.ICE.EvictThreshold < 0 || c.ICE.EvictThreshold >= c.ICE.ReuseThreshold {
		return fmt.Errorf("ice.evict_threshold must be >= 0 and < reuse_threshold")
	}
	if c.ICE.SuccessRateAlpha <= 0 || c.ICE.SuccessRateAlpha > 1 {
		return fmt.Errorf("ice.success_rate_alpha must be in (0, 1]")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Telemetry
	if c.Telemetry.TargetMs <= 0 {
		return fmt.Errorf("telemetry.target_ms must be > 0")
	}
	if c.Telemetry.DiscoveryWarnMs <= 0 {
		return fmt.Errorf("telemetry.discovery_warn_ms must be > 0")
	}
	if c.Telemetry.FirstCandidateWarnMs <= 0 {
		return fmt.Errorf("telemetry.first_candidate_warn_ms must be > 0")
	}
	if c.Telemetry.HistorySize <= 0 {
		return fmt.Errorf("telemetry.history_size must be > 0")
	}
	if c.Telemetry.AlertBuffer <= 0 {
		return fmt.Errorf("telemetry.alert_buffer must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when enabled")
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signaling.URL = "ws://localhost:8081/ws"
	cfg.Signaling.PingInterval = 30 * time.Second
	cfg.Signaling.PongTimeout = 60 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.TokenSecret = "change-me-in-production"
	cfg.Signaling.TokenTTL = 15 * time.Minute
	cfg.Signaling.MessagesPerSecond = 50
	cfg.Signaling.Burst = 100

	cfg.ICE.ConfigTTL = 5 * time.Minute
	cfg.ICE.CredentialTTL = 10 * time.Minute
	// Empirically chosen; tunable, see ice.* keys.
	cfg.ICE.ReuseThreshold = 0.7
	cfg.ICE.EvictThreshold = 0.3
	cfg.ICE.SuccessRateAlpha = 0.3

	cfg.Telemetry.TargetMs = 5000
	cfg.Telemetry.DiscoveryWarnMs = 2000
	cfg.Telemetry.FirstCandidateWarnMs = 3000
	cfg.Telemetry.HistorySize = 100
	cfg.Telemetry.AlertBuffer = 50

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 100
	cfg.RateLimiting.Burst = 200
	cfg.RateLimiting.MaxConcurrent = 256

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "pairlink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PAIRLINK_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("PAIRLINK_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if level := os.Getenv("PAIRLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("PAIRLINK_TOKEN_SECRET"); secret != "" {
		c.Signaling.TokenSecret = secret
	}
	if addr := os.Getenv("PAIRLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
