package domain

import "time"

// TransportPolicy restricts which candidate transports a connection may use.
type TransportPolicy string

const (
	TransportPolicyAll       TransportPolicy = "all"
	TransportPolicyRelayOnly TransportPolicy = "relay"
)

// ServerKind distinguishes relay (TURN) from reflexive (STUN) entries.
type ServerKind string

const (
	ServerKindRelay     ServerKind = "relay"
	ServerKindReflexive ServerKind = "reflexive"
)

// ICEServerEntry is one prioritized server in a generated configuration.
type ICEServerEntry struct {
	ID         string
	URLs       []string
	Username   string
	Credential string
	Priority   int
	Kind       ServerKind
}

// ICEConfig is a generated, prioritized server configuration for one attempt.
type ICEConfig struct {
	Servers           []ICEServerEntry
	TransportPolicy   TransportPolicy
	CandidatePoolSize int
	NetworkClass      NetworkClass
	GeneratedAt       time.Time
}

// RelayCount returns the number of relay-capable entries.
func (c ICEConfig) RelayCount() int {
	n := 0
	for _, s := range c.Servers {
		if s.Kind == ServerKindRelay {
			n++
		}
	}
	return n
}

// ReflexiveCount returns the number of reflexive entries.
func (c ICEConfig) ReflexiveCount() int {
	n := 0
	for _, s := range c.Servers {
		if s.Kind == ServerKindReflexive {
			n++
		}
	}
	return n
}

// ICEConfigCacheEntry is a cached generated config keyed by network class,
// with a rolling success rate and duration maintained by EMA updates.
type ICEConfigCacheEntry struct {
	Config      ICEConfig
	CreatedAt   time.Time
	LastUsedAt  time.Time
	UseCount    int
	SuccessRate float64
	AvgDuration time.Duration
}

// IsExpired checks the entry against its TTL.
func (e *ICEConfigCacheEntry) IsExpired(ttl time.Duration) bool {
	return time.Since(e.CreatedAt) > ttl
}

// CredentialCacheEntry is a cached relay credential pair for one endpoint.
type CredentialCacheEntry struct {
	ServerID   string
	Username   string
	Credential string
	ExpiresAt  time.Time
	ReuseCount int
}

// IsExpired reports whether the credential pair may no longer be reused.
func (e *CredentialCacheEntry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}
