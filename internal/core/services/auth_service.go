package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"rillnet/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAPIKeyInvalid     = errors.New("api key invalid")
	ErrRoleInsufficient  = errors.New("role insufficient")
)

// APIKeyPrefix is the bootstrap credential prefix, per spec: "lr_" + 32 hex chars.
const APIKeyPrefix = "lr_"

// Claims is the SFU signalling JWT shape: peer identity, the room it is
// scoped to, the signalling role it grants, and which API key minted it.
type Claims struct {
	PeerID string      `json:"sub"`
	RoomID string      `json:"room_id"`
	Role   domain.Role `json:"role"`
	KeyID  string      `json:"key_id"`
	jwt.RegisteredClaims
}

// AuthService issues and validates SFU signalling tokens, and verifies the
// static bootstrap API keys used to mint them.
type AuthService interface {
	IssueToken(peerID, roomID string, role domain.Role, apiKey string, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	ValidateAPIKey(apiKey string) (keyID string, err error)
	RequireRole(claims *Claims, allowed ...domain.Role) error
	GetUserFromContext(ctx context.Context) (string, error)
}

type authService struct {
	jwtSecret []byte
	apiKeys   map[string]struct{} // full key -> present
}

// NewAuthService constructs the auth service; apiKeys is the configured set
// of static bootstrap credentials (each prefixed "lr_").
func NewAuthService(jwtSecret string, apiKeys []string) AuthService {
	keys := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = struct{}{}
	}
	return &authService{
		jwtSecret: []byte(jwtSecret),
		apiKeys:   keys,
	}
}

func (s *authService) ValidateAPIKey(apiKey string) (string, error) {
	if !strings.HasPrefix(apiKey, APIKeyPrefix) {
		return "", ErrAPIKeyInvalid
	}
	if _, ok := s.apiKeys[apiKey]; !ok {
		return "", ErrAPIKeyInvalid
	}
	rest := strings.TrimPrefix(apiKey, APIKeyPrefix)
	if len(rest) < 8 {
		return "", ErrAPIKeyInvalid
	}
	return rest[:8], nil
}

func (s *authService) IssueToken(peerID, roomID string, role domain.Role, apiKey string, ttl time.Duration) (string, error) {
	keyID, err := s.ValidateAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	claims := &Claims{
		PeerID: peerID,
		RoomID: roomID,
		Role:   role,
		KeyID:  keyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   peerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) RequireRole(claims *Claims, allowed ...domain.Role) error {
	for _, r := range allowed {
		if claims.Role == r {
			return nil
		}
	}
	return ErrRoleInsufficient
}

func (s *authService) GetUserFromContext(ctx context.Context) (string, error) {
	peerID, ok := ctx.Value(ctxKeyPeerID).(string)
	if !ok || peerID == "" {
		return "", ErrUnauthorized
	}
	return peerID, nil
}

type ctxKey string

const ctxKeyPeerID ctxKey = "peer_id"

// WithPeerID returns a context carrying the authenticated peer ID, the shape
// middleware stashes after ValidateToken succeeds.
func WithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerID, peerID)
}

// GenerateAPIKey mints a new "lr_"-prefixed bootstrap credential.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}
