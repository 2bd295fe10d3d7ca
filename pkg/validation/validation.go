package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// IdentifierRegex validates peer, session and user identifiers
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidatePeerID validates a peer identifier
func ValidatePeerID(peerID string) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 64 {
		return fmt.Errorf("peer ID is too long (max 64 characters)")
	}
	if !IdentifierRegex.MatchString(peerID) {
		return fmt.Errorf("peer ID contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateSessionID validates a session identifier
func ValidateSessionID(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > 64 {
		return fmt.Errorf("session ID is too long (max 64 characters)")
	}
	if !IdentifierRegex.MatchString(sessionID) {
		return fmt.Errorf("session ID contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateNetworkClass validates a network class name
func ValidateNetworkClass(class string) error {
	switch class {
	case "wifi", "mobile", "unknown":
		return nil
	default:
		return fmt.Errorf("invalid network class %q (expected wifi, mobile or unknown)", class)
	}
}

// ValidateSignalingURL validates a signaling endpoint URL
func ValidateSignalingURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("signaling URL is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid signaling URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signaling URL must use ws or wss scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("signaling URL is missing a host")
	}
	return nil
}

// ValidateRelayURL validates a TURN server URL
func ValidateRelayURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("relay URL is required")
	}
	if !strings.HasPrefix(raw, "turn:") && !strings.HasPrefix(raw, "turns:") {
		return fmt.Errorf("relay URL must use turn or turns scheme")
	}
	return nil
}

// ValidateReflexiveURL validates a STUN server URL
func ValidateReflexiveURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("reflexive URL is required")
	}
	if !strings.HasPrefix(raw, "stun:") && !strings.HasPrefix(raw, "stuns:") {
		return fmt.Errorf("reflexive URL must use stun or stuns scheme")
	}
	return nil
}
