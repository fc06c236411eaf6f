package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/matching"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// inboundMessage is the envelope for every event the matching socket
// accepts.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outboundMessage is the envelope for every event the matching socket emits.
type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type joinQueuePayload struct {
	DisplayName     string              `json:"display_name"`
	Bio             string              `json:"bio"`
	Age             int                 `json:"age"`
	Country         string              `json:"country"`
	Kinks           []string            `json:"kinks"`
	ProfilePhotoURL string              `json:"profile_photo_url"`
	Filters         domain.MatchFilters `json:"filters"`
	Latitude        *float64            `json:"latitude,omitempty"`
	Longitude       *float64            `json:"longitude,omitempty"`
}

type endCallPayload struct {
	Reason string `json:"reason"`
}

// conn is one connected matching-socket peer: its live websocket, the
// currently-active match ID if any, and the write lock gorilla/websocket
// requires for concurrent senders.
type conn struct {
	userID  string
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	matchID string
}

func (c *conn) send(msg outboundMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *conn) setMatch(id string) {
	c.mu.Lock()
	c.matchID = id
	c.mu.Unlock()
}

func (c *conn) currentMatch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

// MatchRecorder receives match lifecycle counts; monitoring.PrometheusCollector
// satisfies this.
type MatchRecorder interface {
	RecordMatchCreated()
	RecordMatchEnded(durationSecs int64)
}

// MatchingServer is the matching socket's dispatch hub: one persistent
// bidirectional connection per authenticated user, wired to the matching
// engine for queue membership and pairing, and used directly for
// partner-to-partner relay since both sides of an active match are always
// local to this process (Redis only carries the durable/queryable state).
type MatchingServer struct {
	engine  *matching.Engine
	auth    services.AuthService
	logger  *zap.SugaredLogger
	Metrics MatchRecorder

	mu    sync.RWMutex
	conns map[string]*conn
}

func NewMatchingServer(engine *matching.Engine, auth services.AuthService, logger *zap.SugaredLogger) *MatchingServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MatchingServer{
		engine: engine,
		auth:   auth,
		logger: logger,
		conns:  make(map[string]*conn),
	}
}

// HandleWebSocket upgrades the connection, authenticates it via the bearer
// token passed as a query parameter, and runs its read loop until
// disconnect.
func (s *MatchingServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token query parameter required", http.StatusUnauthorized)
		return
	}

	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	userID := claims.PeerID

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("matching socket upgrade failed", "user_id", userID, "err", err)
		return
	}
	defer ws.Close()

	c := &conn{userID: userID, ws: ws}
	s.register(c)
	defer s.unregister(c)

	s.logger.Infow("matching socket connected", "user_id", userID)

	ctx := context.Background()
	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		s.dispatch(ctx, c, msg)
	}

	s.handleDisconnect(ctx, c)
	s.logger.Infow("matching socket disconnected", "user_id", userID)
}

func (s *MatchingServer) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.userID] = c
}

func (s *MatchingServer) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conns[c.userID]; ok && existing == c {
		delete(s.conns, c.userID)
	}
}

func (s *MatchingServer) connFor(userID string) (*conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[userID]
	return c, ok
}

func (s *MatchingServer) dispatch(ctx context.Context, c *conn, msg inboundMessage) {
	switch msg.Type {
	case "join-queue":
		s.handleJoinQueue(ctx, c, msg.Payload)
	case "leave-queue":
		s.handleLeaveQueue(ctx, c)
	case "next-match":
		s.handleNextMatch(ctx, c)
	case "end-call":
		s.handleEndCall(ctx, c, msg.Payload)
	case "chat-message":
		s.handleChatMessage(ctx, c, msg.Payload)
	case "send-like":
		s.handleLike(ctx, c)
	case "send-follow-request":
		s.handleSendFollowRequest(ctx, c, msg.Payload)
	case "respond-follow-request":
		s.handleFollowResponse(ctx, c, msg.Payload)
	case "webrtc-signal":
		s.handleRelay(ctx, c, "webrtc-signal", msg.Payload)
	case "heartbeat":
		// accepted and ignored: no presence record is kept, and queue
		// entries carry no TTL, so there is nothing to refresh.
	default:
		_ = c.send(outboundMessage{Type: "error", Payload: H{"message": "unknown event type: " + msg.Type}})
	}
}

// H is a plain JSON object literal, used for ad hoc outbound payload shapes.
type H = map[string]interface{}

func (s *MatchingServer) handleJoinQueue(ctx context.Context, c *conn, raw json.RawMessage) {
	var payload joinQueuePayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}

	user := domain.QueueUser{
		UserID:          c.userID,
		DisplayName:     payload.DisplayName,
		Bio:             payload.Bio,
		Age:             payload.Age,
		Country:         payload.Country,
		Kinks:           payload.Kinks,
		ProfilePhotoURL: payload.ProfilePhotoURL,
		Filters:         payload.Filters,
		Latitude:        payload.Latitude,
		Longitude:       payload.Longitude,
		JoinedAtMs:      time.Now().UnixMilli(),
	}

	if err := s.engine.Join(ctx, user); err != nil {
		s.logger.Errorw("join-queue failed", "user_id", c.userID, "err", err)
		_ = c.send(outboundMessage{Type: "error", Payload: H{"message": "failed to join queue"}})
		return
	}

	_ = c.send(outboundMessage{Type: "queue-joined"})
	s.attemptMatch(ctx, c)
}

func (s *MatchingServer) handleLeaveQueue(ctx context.Context, c *conn) {
	if _, err := s.engine.Leave(ctx, c.userID); err != nil {
		s.logger.Warnw("leave-queue failed", "user_id", c.userID, "err", err)
	}
}

func (s *MatchingServer) handleNextMatch(ctx context.Context, c *conn) {
	if matchID := c.currentMatch(); matchID != "" {
		s.endMatch(ctx, c, matchID, "next")
	}
	s.attemptMatch(ctx, c)
}

// attemptMatch calls the engine's race-free pairing attempt and, on success,
// notifies both local connections; on a "keep waiting" result it tells the
// caller to keep searching.
func (s *MatchingServer) attemptMatch(ctx context.Context, c *conn) {
	result, err := s.engine.TryMatch(ctx, c.userID)
	if err != nil {
		s.logger.Errorw("try-match failed", "user_id", c.userID, "err", err)
		_ = c.send(outboundMessage{Type: "error", Payload: H{"message": "matching attempt failed"}})
		return
	}
	if result == nil || result.Outcome != matching.OutcomeMatched {
		_ = c.send(outboundMessage{Type: "searching"})
		return
	}

	c.setMatch(result.Session.ID)
	if s.Metrics != nil {
		s.Metrics.RecordMatchCreated()
	}
	_ = c.send(outboundMessage{Type: "match-found", Payload: H{
		"match_id": result.Session.ID,
		"partner":  result.Partner,
	}})

	if partner, ok := s.connFor(result.Partner.UserID); ok {
		partner.setMatch(result.Session.ID)
		_ = partner.send(outboundMessage{Type: "match-found", Payload: H{
			"match_id": result.Session.ID,
			"partner":  H{"user_id": c.userID},
		}})
	}
}

func (s *MatchingServer) handleEndCall(ctx context.Context, c *conn, raw json.RawMessage) {
	matchID := c.currentMatch()
	if matchID == "" {
		return
	}
	var payload endCallPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	reason := payload.Reason
	if reason == "" {
		reason = "ended"
	}
	s.endMatch(ctx, c, matchID, reason)
}

func (s *MatchingServer) endMatch(ctx context.Context, c *conn, matchID, reason string) {
	session, partnerID, err := s.engine.EndMatch(ctx, matchID, c.userID, reason)
	if err != nil {
		s.logger.Warnw("end-match failed", "user_id", c.userID, "match_id", matchID, "err", err)
	} else if s.Metrics != nil && session.DurationSecs != nil {
		s.Metrics.RecordMatchEnded(*session.DurationSecs)
	}
	c.setMatch("")

	_ = c.send(outboundMessage{Type: "call-ended", Payload: H{"match_id": matchID, "reason": reason}})

	if partner, ok := s.connFor(partnerID); ok {
		partner.setMatch("")
		_ = partner.send(outboundMessage{Type: "partner-left", Payload: H{"match_id": matchID, "reason": reason}})
	}
}

// handleChatMessage increments the session's message counter before
// relaying, so RecordMatchEnd has a real count to fold into PairHistory.
func (s *MatchingServer) handleChatMessage(ctx context.Context, c *conn, raw json.RawMessage) {
	if matchID := c.currentMatch(); matchID != "" {
		if err := s.engine.History.IncrMessage(ctx, matchID); err != nil {
			s.logger.Warnw("failed to record session message count", "match_id", matchID, "err", err)
		}
	}
	s.handleRelay(ctx, c, "new_message", raw)
}

// handleLike increments the session's like counter before relaying.
func (s *MatchingServer) handleLike(ctx context.Context, c *conn) {
	if matchID := c.currentMatch(); matchID != "" {
		if err := s.engine.History.IncrLike(ctx, matchID); err != nil {
			s.logger.Warnw("failed to record session like count", "match_id", matchID, "err", err)
		}
	}
	s.handleRelay(ctx, c, "send-like", nil)
}

// handleSendFollowRequest marks the session as having a follow before
// relaying the request to the caller's partner.
func (s *MatchingServer) handleSendFollowRequest(ctx context.Context, c *conn, raw json.RawMessage) {
	if matchID := c.currentMatch(); matchID != "" {
		if err := s.engine.History.SetFollow(ctx, matchID); err != nil {
			s.logger.Warnw("failed to record session follow flag", "match_id", matchID, "err", err)
		}
	}
	s.handleRelay(ctx, c, "send-follow-request", raw)
}

func (s *MatchingServer) handleFollowResponse(ctx context.Context, c *conn, raw json.RawMessage) {
	s.handleRelay(ctx, c, "respond-follow-request", raw)
}

// handleRelay forwards a payload-agnostic event verbatim to the caller's
// current partner, tagging it with sender_id — covers chat-message,
// send-like, send-follow-request, respond-follow-request, and
// webrtc-signal.
func (s *MatchingServer) handleRelay(ctx context.Context, c *conn, outType string, raw json.RawMessage) {
	matchID := c.currentMatch()
	if matchID == "" {
		return
	}

	partnerID, ok, err := s.partnerOf(ctx, matchID, c.userID)
	if err != nil || !ok {
		return
	}
	partner, ok := s.connFor(partnerID)
	if !ok {
		return
	}

	var payload interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}

	_ = partner.send(outboundMessage{Type: outType, Payload: H{
		"sender_id": c.userID,
		"payload":   payload,
	}})
}

func (s *MatchingServer) partnerOf(ctx context.Context, matchID, userID string) (string, bool, error) {
	return s.engine.ActivePairs.GetPartner(ctx, matchID, userID)
}

func (s *MatchingServer) handleDisconnect(ctx context.Context, c *conn) {
	_, _ = s.engine.Leave(ctx, c.userID)
	if matchID := c.currentMatch(); matchID != "" {
		s.endMatch(ctx, c, matchID, "disconnect")
	}
}
