package domain

import "time"

// TimeoutConfig holds the fixed timer durations for one attempt. Durations are
// selected once from the network class and never randomized or backed off.
type TimeoutConfig struct {
	Discovery          time.Duration
	RelayFallback      time.Duration
	Negotiation        time.Duration
	Overall            time.Duration
	RetryDelay         time.Duration
	NetworkChangeGrace time.Duration
}

// Valid reports whether every duration is positive.
func (c TimeoutConfig) Valid() bool {
	return c.Discovery > 0 &&
		c.RelayFallback > 0 &&
		c.Negotiation > 0 &&
		c.Overall > 0 &&
		c.RetryDelay > 0 &&
		c.NetworkChangeGrace > 0
}

// TimeoutConfigFor returns the fixed timeout preset for a network class.
// Pure function: the same class always yields a structurally equal config.
func TimeoutConfigFor(class NetworkClass) TimeoutConfig {
	switch class {
	case NetworkClassWifi:
		return TimeoutConfig{
			Discovery:          3 * time.Second,
			RelayFallback:      2 * time.Second,
			Negotiation:        5 * time.Second,
			Overall:            10 * time.Second,
			RetryDelay:         2 * time.Second,
			NetworkChangeGrace: 1 * time.Second,
		}
	case NetworkClassMobile:
		return TimeoutConfig{
			Discovery:          5 * time.Second,
			RelayFallback:      1500 * time.Millisecond,
			Negotiation:        8 * time.Second,
			Overall:            15 * time.Second,
			RetryDelay:         3 * time.Second,
			NetworkChangeGrace: 2 * time.Second,
		}
	default:
		return TimeoutConfig{
			Discovery:          4 * time.Second,
			RelayFallback:      2 * time.Second,
			Negotiation:        6 * time.Second,
			Overall:            12 * time.Second,
			RetryDelay:         2500 * time.Millisecond,
			NetworkChangeGrace: 1500 * time.Millisecond,
		}
	}
}
