package signal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/middleware"
	"rillnet/internal/infrastructure/webrtc"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter() (*gin.Engine, services.AuthService) {
	sfu := webrtc.New(webrtc.DefaultConfig(), nil)
	auth := services.NewAuthService("test-secret", []string{"lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	handler := NewSFUHandler(sfu, auth, 15*time.Minute, nil)

	router := gin.New()
	handler.RegisterRoutes(router, middleware.AuthMiddleware(auth))
	return router, auth
}

func TestCreateRoom_MintsRoleScopedTokens(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(map[string]string{"room_type": "broadcast"})
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "broadcast", resp.Type)
	assert.Contains(t, resp.Tokens, "publish")
	assert.Contains(t, resp.Tokens, "subscribe")
}

func TestCreateRoom_RejectsMissingAPIKey(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(map[string]string{"room_type": "broadcast"})
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRoom_CallTopologyMintsTwoDistinctTokens(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(map[string]string{"room_type": "call"})
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Tokens, "caller")
	assert.Contains(t, resp.Tokens, "callee")
	assert.NotEqual(t, resp.Tokens["caller"], resp.Tokens["callee"])
}

func TestDeleteRoom_NotFoundWhenRoomNeverCreated(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodDelete, "/v1/rooms/room_nonexistent", nil)
	req.Header.Set("X-API-Key", "lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublish_RejectsMissingAuth(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(map[string]string{"sdp": "v=0", "type": "offer"})
	req := httptest.NewRequest(http.MethodPost, "/sfu/publish", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublish_RejectsWrongRole(t *testing.T) {
	router, auth := newTestRouter()

	token, err := auth.IssueToken("peer-1", "room-1", domain.RoleSubscribe, "lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", time.Minute)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"sdp": "v=0", "type": "offer"})
	req := httptest.NewRequest(http.MethodPost, "/sfu/publish", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
