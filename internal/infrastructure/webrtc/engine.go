package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig holds the engine-level knobs that are independent of any one
// attempt's ICE configuration.
type EngineConfig struct {
	PortRange struct {
		Min uint16
		Max uint16
	}
}

// Engine is the pion-backed connection engine. A lifecycle gate, when set, may
// refuse connection-object creation before any resource is allocated.
type Engine struct {
	config EngineConfig
	gate   ports.LifecycleGate

	logger *zap.SugaredLogger
}

// NewEngine creates a connection engine. gate may be nil.
func NewEngine(config EngineConfig, gate ports.LifecycleGate, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		config: config,
		gate:   gate,
		logger: logger,
	}
}

// CreateConnection builds a peer connection from the optimized ICE
// configuration. Relay-only configurations map to the relay transport policy.
func (e *Engine) CreateConnection(ctx context.Context, cfg domain.ICEConfig) (*webrtc.PeerConnection, error) {
	if e.gate != nil {
		if err := e.gate(); err != nil {
			return nil, fmt.Errorf("connection refused by lifecycle gate: %w", err)
		}
	}

	servers := make([]webrtc.ICEServer, 0, len(cfg.Servers))
	for _, entry := range cfg.Servers {
		server := webrtc.ICEServer{URLs: entry.URLs}
		if entry.Username != "" {
			server.Username = entry.Username
			server.Credential = entry.Credential
		}
		servers = append(servers, server)
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.TransportPolicy == domain.TransportPolicyRelayOnly {
		policy = webrtc.ICETransportPolicyRelay
	}

	config := webrtc.Configuration{
		ICEServers:           servers,
		ICETransportPolicy:   policy,
		ICECandidatePoolSize: uint8(cfg.CandidatePoolSize),
		SDPSemantics:         webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if e.config.PortRange.Min > 0 && e.config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(e.config.PortRange.Min, e.config.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e.logger.Infow("connection object created",
		"servers", len(servers),
		"transport_policy", cfg.TransportPolicy,
	)
	return pc, nil
}

// candidateSubscription fans discovered paths out over a channel. The channel
// is unbounded through a goroutine-owned queue so a slow consumer never blocks
// the engine's gathering callback.
type candidateSubscription struct {
	events chan ports.CandidateEvent
	done   chan struct{}

	mu     sync.Mutex
	queue  []ports.CandidateEvent
	wake   chan struct{}
	closed bool
}

// SubscribeCandidates registers the discovered-path handler on pc. Every
// candidate is delivered the instant pion reports it; the end of gathering is
// a nil-candidate event.
func (e *Engine) SubscribeCandidates(pc *webrtc.PeerConnection) ports.CandidateSubscription {
	sub := &candidateSubscription{
		events: make(chan ports.CandidateEvent),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		sub.push(ports.CandidateEvent{Candidate: c, At: time.Now()})
	})

	go sub.drain()
	return sub
}

func (s *candidateSubscription) push(event ports.CandidateEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *candidateSubscription) drain() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}

func (s *candidateSubscription) Events() <-chan ports.CandidateEvent {
	return s.events
}

// Unsubscribe stops delivery. Events queued but not yet consumed are dropped.
// The wake channel is deliberately left open: a handler racing this call may
// still send on it, and only done signals shutdown.
func (s *candidateSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}
