package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/pkg/retry"
	"pairlink/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig configures the signaling connection.
type ClientConfig struct {
	URL               string
	TokenSecret       string
	TokenTTL          time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
}

// SignalMessage is the wire envelope for every signaling exchange.
type SignalMessage struct {
	Type    string          `json:"type"`
	PeerID  domain.PeerID   `json:"peer_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sdpPayload struct {
	SDP        string        `json:"sdp"`
	SDPType    string        `json:"sdp_type"`
	TargetPeer domain.PeerID `json:"target_peer,omitempty"`
}

type candidatePayload struct {
	Candidate     string        `json:"candidate"`
	SDPMid        *string       `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16       `json:"sdp_mline_index,omitempty"`
	TargetPeer    domain.PeerID `json:"target_peer,omitempty"`
}

type sessionClaims struct {
	SessionID string `json:"session_id"`
	PeerID    string `json:"peer_id"`
	jwt.RegisteredClaims
}

// WebSocketClient is the gorilla-backed signaling transport. All sends pass a
// rate limiter; handlers registered via OnAnswer and OnRemoteCandidate run on
// the read loop goroutine.
type WebSocketClient struct {
	config ClientConfig

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	readDone chan struct{}

	limiter *rate.Limiter

	onAnswer    func(from domain.PeerID, answer webrtc.SessionDescription)
	onCandidate func(from domain.PeerID, candidate webrtc.ICECandidateInit)

	logger *zap.SugaredLogger
}

// NewWebSocketClient creates a signaling client. Connect must be called before
// any send.
func NewWebSocketClient(config ClientConfig, logger *zap.SugaredLogger) *WebSocketClient {
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = 20
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	return &WebSocketClient{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.Burst),
		logger:  logger,
	}
}

// Connect dials the signaling endpoint with a session-scoped token and starts
// the read loop.
func (c *WebSocketClient) Connect(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	if err := validation.ValidateSessionID(string(sessionID)); err != nil {
		return err
	}
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		return err
	}

	token, err := c.mintToken(sessionID, peerID)
	if err != nil {
		return fmt.Errorf("failed to mint signaling token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	var conn *websocket.Conn
	err = retry.Do(ctx, retry.SignalingPolicy(), func() error {
		var resp *http.Response
		var dialErr error
		conn, resp, dialErr = websocket.DefaultDialer.DialContext(ctx, c.config.URL, header)
		if dialErr != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// a rejected token will not heal on redial
			return retry.Abort(dialErr)
		}
		return dialErr
	})
	if err != nil {
		return fmt.Errorf("failed to dial signaling server: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrSubscriptionClosed
	}
	c.conn = conn
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		return nil
	})

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Infow("signaling connected",
		"url", c.config.URL,
		"session_id", sessionID,
	)
	return nil
}

// mintToken signs a short-lived HS256 token carrying the session identity.
func (c *WebSocketClient) mintToken(sessionID domain.SessionID, peerID domain.PeerID) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		SessionID: string(sessionID),
		PeerID:    string(peerID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.config.TokenSecret))
}

// SendOffer forwards the local offer to the target peer.
func (c *WebSocketClient) SendOffer(ctx context.Context, target domain.PeerID, offer webrtc.SessionDescription) error {
	return c.send(ctx, "offer", sdpPayload{
		SDP:        offer.SDP,
		SDPType:    offer.Type.String(),
		TargetPeer: target,
	})
}

// SendAnswer forwards the local answer to the target peer.
func (c *WebSocketClient) SendAnswer(ctx context.Context, target domain.PeerID, answer webrtc.SessionDescription) error {
	return c.send(ctx, "answer", sdpPayload{
		SDP:        answer.SDP,
		SDPType:    answer.Type.String(),
		TargetPeer: target,
	})
}

// SendCandidate forwards one discovered path. Fire-and-forget: the server
// gives no delivery acknowledgment.
func (c *WebSocketClient) SendCandidate(ctx context.Context, target domain.PeerID, candidate webrtc.ICECandidateInit) error {
	return c.send(ctx, "ice_candidate", candidatePayload{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
		TargetPeer:    target,
	})
}

// OnAnswer registers the remote-answer handler.
func (c *WebSocketClient) OnAnswer(fn func(from domain.PeerID, answer webrtc.SessionDescription)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAnswer = fn
}

// OnRemoteCandidate registers the remote-candidate handler.
func (c *WebSocketClient) OnRemoteCandidate(fn func(from domain.PeerID, candidate webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *WebSocketClient) send(ctx context.Context, msgType string, payload interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait canceled: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return domain.ErrTransportNotReady
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(SignalMessage{Type: msgType, Payload: raw})
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn) {
	defer close(c.readDone)

	for {
		var msg SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("signaling read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		c.dispatch(msg)
	}
}

func (c *WebSocketClient) dispatch(msg SignalMessage) {
	switch msg.Type {
	case "answer":
		var payload sdpPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warnw("invalid answer payload", "error", err)
			return
		}
		c.mu.Lock()
		fn := c.onAnswer
		c.mu.Unlock()
		if fn != nil {
			fn(msg.PeerID, webrtc.SessionDescription{
				Type: webrtc.NewSDPType(payload.SDPType),
				SDP:  payload.SDP,
			})
		}

	case "ice_candidate":
		var payload candidatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warnw("invalid candidate payload", "error", err)
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(msg.PeerID, webrtc.ICECandidateInit{
				Candidate:     payload.Candidate,
				SDPMid:        payload.SDPMid,
				SDPMLineIndex: payload.SDPMLineIndex,
			})
		}

	case "error":
		c.logger.Warnw("signaling server error", "payload", string(msg.Payload))

	default:
		c.logger.Debugw("ignoring signaling message", "type", msg.Type)
	}
}

func (c *WebSocketClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.readDone:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.logger.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}

// Close shuts the transport down. Idempotent.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
