// Package signal exposes the wire-level entry points onto the SFU core and
// the matching engine: gin JSON routes for SDP exchange and room
// provisioning, and a gorilla/websocket handler for the matching socket.
package signal

import (
	"net/http"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/webrtc"
	"rillnet/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SFUHandler wires the gin routes for the SFU signalling surface onto the
// webrtc.SFU core.
type SFUHandler struct {
	sfu      *webrtc.SFU
	auth     services.AuthService
	tokenTTL time.Duration
	logger   *zap.SugaredLogger
}

func NewSFUHandler(sfu *webrtc.SFU, auth services.AuthService, tokenTTL time.Duration, logger *zap.SugaredLogger) *SFUHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	return &SFUHandler{sfu: sfu, auth: auth, tokenTTL: tokenTTL, logger: logger}
}

// RegisterRoutes mounts every route of the SFU signalling (HTTP+JSON)
// surface. The /sfu/* group requires the bearer-JWT AuthMiddleware (mounted
// by the caller); /v1/rooms is bootstrap-key authenticated inline and
// deliberately sits outside that group.
func (h *SFUHandler) RegisterRoutes(router gin.IRouter, authMiddleware gin.HandlerFunc) {
	sfu := router.Group("/sfu", authMiddleware)
	sfu.POST("/publish", h.publish)
	sfu.POST("/subscribe", h.subscribe)
	sfu.POST("/call", h.call)
	sfu.POST("/conference", h.conference)
	sfu.POST("/conference/subscribe", h.conferenceSubscribe)

	rooms := router.Group("/v1/rooms")
	rooms.POST("", h.createRoom)
	rooms.DELETE("/:id", h.deleteRoom)
}

type sdpRequest struct {
	SDP    string `json:"sdp" binding:"required"`
	Type   string `json:"type"`
	Screen bool   `json:"screen"`
}

type sdpResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type conferenceResponse struct {
	SDP          string   `json:"sdp"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

func (h *SFUHandler) claims(c *gin.Context) *services.Claims {
	val, _ := c.Get("claims")
	claims, _ := val.(*services.Claims)
	return claims
}

// publish handles POST /sfu/publish: role-gated, capacity-checked ingest of
// one peer's media into its room.
func (h *SFUHandler) publish(c *gin.Context) {
	claims := h.claims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_header_missing", "message": "authentication required"}})
		return
	}
	if err := h.auth.RequireRole(claims, domain.RolePublish, domain.RoleCall, domain.RoleConference); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "role_insufficient", "message": err.Error()}})
		return
	}

	var req sdpRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_sdp", "message": err.Error()}})
		return
	}

	answer, err := h.sfu.Publish(c.Request.Context(), webrtc.PublishRequest{
		RoomID:   claims.RoomID,
		RoomType: domain.RoomBroadcast,
		PeerID:   claims.PeerID,
		Screen:   req.Screen,
		Offer:    req.SDP,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sdpResponse{SDP: answer, Type: "answer"})
}

// subscribe handles POST /sfu/subscribe.
func (h *SFUHandler) subscribe(c *gin.Context) {
	claims := h.claims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_header_missing", "message": "authentication required"}})
		return
	}
	if err := h.auth.RequireRole(claims, domain.RoleSubscribe, domain.RoleCall, domain.RoleConference); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "role_insufficient", "message": err.Error()}})
		return
	}

	var req sdpRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_sdp", "message": err.Error()}})
		return
	}

	answer, err := h.sfu.Subscribe(c.Request.Context(), webrtc.SubscribeRequest{
		RoomID:       claims.RoomID,
		SubscriberID: claims.PeerID,
		Offer:        req.SDP,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sdpResponse{SDP: answer, Type: "answer"})
}

// call handles POST /sfu/call: a call-topology peer publishes its own media
// and, in the same request, subscribes to whichever peer is already present
// (a fused publisher+subscriber flow).
func (h *SFUHandler) call(c *gin.Context) {
	claims := h.claims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_header_missing", "message": "authentication required"}})
		return
	}
	if err := h.auth.RequireRole(claims, domain.RoleCall); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "role_insufficient", "message": err.Error()}})
		return
	}

	var req sdpRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_sdp", "message": err.Error()}})
		return
	}

	answer, err := h.sfu.Call(c.Request.Context(), webrtc.CallRequest{
		RoomID: claims.RoomID,
		PeerID: claims.PeerID,
		Offer:  req.SDP,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sdpResponse{SDP: answer, Type: "answer"})
}

// conference handles POST /sfu/conference: a conference-topology publish,
// joining the caller's media alongside every other present participant and
// receiving a track from each of them on the same connection.
func (h *SFUHandler) conference(c *gin.Context) {
	claims := h.claims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_header_missing", "message": "authentication required"}})
		return
	}
	if err := h.auth.RequireRole(claims, domain.RoleConference); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "role_insufficient", "message": err.Error()}})
		return
	}

	var req sdpRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_sdp", "message": err.Error()}})
		return
	}

	join, err := h.sfu.Conference(c.Request.Context(), webrtc.ConferenceRequest{
		RoomID: claims.RoomID,
		PeerID: claims.PeerID,
		Offer:  req.SDP,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conferenceResponse{SDP: join.SDP, Type: "answer", Participants: join.Participants})
}

// conferenceSubscribe handles POST /sfu/conference/subscribe: the
// supplementary subscribe-only peer connection a late joiner uses to reach
// every already-present publisher without renegotiating its own.
func (h *SFUHandler) conferenceSubscribe(c *gin.Context) {
	claims := h.claims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_header_missing", "message": "authentication required"}})
		return
	}
	if err := h.auth.RequireRole(claims, domain.RoleConference); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "role_insufficient", "message": err.Error()}})
		return
	}

	var req sdpRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_sdp", "message": err.Error()}})
		return
	}

	answer, err := h.sfu.Subscribe(c.Request.Context(), webrtc.SubscribeRequest{
		RoomID:       claims.RoomID,
		SubscriberID: claims.PeerID,
		Offer:        req.SDP,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sdpResponse{SDP: answer, Type: "answer"})
}

type createRoomRequest struct {
	RoomType string `json:"room_type" binding:"required,oneof=broadcast call conference"`
}

type createRoomResponse struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Tokens map[string]string `json:"tokens"`
}

// createRoom handles POST /v1/rooms: mints a room ID and a set of
// role-scoped JWTs bound to it, authenticated by the caller's bootstrap API
// key rather than an existing token.
func (h *SFUHandler) createRoom(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "api_key_invalid", "message": "X-API-Key header required"}})
		return
	}

	var req createRoomRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}

	roomID := "room_" + uuid.NewString()
	slots := slotsFor(domain.RoomType(req.RoomType))

	tokens := make(map[string]string, len(slots))
	for key, role := range slots {
		peerID := "peer_" + uuid.NewString()
		token, err := h.auth.IssueToken(peerID, roomID, role, apiKey, h.tokenTTL)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "api_key_invalid", "message": err.Error()}})
			return
		}
		tokens[key] = token
	}

	c.JSON(http.StatusCreated, createRoomResponse{ID: roomID, Type: req.RoomType, Tokens: tokens})
}

// slotsFor maps each room topology to the named token slots a caller needs
// to bootstrap it. Call rooms mint two independently-keyed "call" role
// tokens, one per participant, since both sides fuse publish+subscribe on
// the same peer connection.
func slotsFor(roomType domain.RoomType) map[string]domain.Role {
	switch roomType {
	case domain.RoomCall:
		return map[string]domain.Role{"caller": domain.RoleCall, "callee": domain.RoleCall}
	case domain.RoomConference:
		return map[string]domain.Role{"participant": domain.RoleConference}
	default:
		return map[string]domain.Role{"publish": domain.RolePublish, "subscribe": domain.RoleSubscribe}
	}
}

// deleteRoom handles DELETE /v1/rooms/:id: forcibly closes every publisher
// in the room, an operator action gated by the same bootstrap API key.
func (h *SFUHandler) deleteRoom(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "api_key_invalid", "message": "X-API-Key header required"}})
		return
	}
	if _, err := h.auth.ValidateAPIKey(apiKey); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "api_key_invalid", "message": err.Error()}})
		return
	}

	roomID := c.Param("id")
	if err := validation.ValidateStreamID(roomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_room_id", "message": err.Error()}})
		return
	}
	if !h.sfu.DeleteRoom(roomID) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "room_not_found", "message": "room not found"}})
		return
	}

	c.Status(http.StatusNoContent)
}
