package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/matching"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// In-memory port implementations, grounded on matching/engine_test.go's
// fakes but kept local since those are unexported in another package.

type memQueue struct {
	mu    sync.Mutex
	users map[string]domain.QueueUser
}

func newMemQueue() *memQueue { return &memQueue{users: map[string]domain.QueueUser{}} }

func (q *memQueue) Add(_ context.Context, u domain.QueueUser) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.users[u.UserID] = u
	return nil
}

func (q *memQueue) Remove(_ context.Context, userID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.users[userID]; !ok {
		return false, nil
	}
	delete(q.users, userID)
	return true, nil
}

func (q *memQueue) List(_ context.Context) ([]domain.QueueUser, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueueUser, 0, len(q.users))
	for _, u := range q.users {
		out = append(out, u)
	}
	return out, nil
}

func (q *memQueue) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.users)), nil
}

func (q *memQueue) IsQueued(_ context.Context, userID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.users[userID]
	return ok, nil
}

type memCooldowns struct{}

func (memCooldowns) Has(context.Context, string, string) (bool, error) { return false, nil }
func (memCooldowns) HasBatch(_ context.Context, _ string, candidateIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(candidateIDs))
	for _, c := range candidateIDs {
		out[c] = false
	}
	return out, nil
}
func (memCooldowns) Set(context.Context, string, string, time.Duration) error { return nil }

type memHistory struct{}

func (memHistory) Get(context.Context, string, string) (domain.PairHistory, error) {
	return domain.PairHistory{}, nil
}
func (memHistory) GetBatch(_ context.Context, _ string, candidateIDs []string) (map[string]domain.PairHistory, error) {
	out := make(map[string]domain.PairHistory, len(candidateIDs))
	for _, c := range candidateIDs {
		out[c] = domain.PairHistory{}
	}
	return out, nil
}
func (memHistory) Save(context.Context, string, string, domain.PairHistory) error     { return nil }
func (memHistory) RecordMatchEnd(context.Context, string, string, string, int64) error { return nil }
func (memHistory) IncrLike(context.Context, string) error                             { return nil }
func (memHistory) SetFollow(context.Context, string) error                            { return nil }
func (memHistory) IncrMessage(context.Context, string) error                          { return nil }

type memActivePairs struct {
	mu    sync.Mutex
	pairs map[string][2]string
}

func newMemActivePairs() *memActivePairs { return &memActivePairs{pairs: map[string][2]string{}} }

func (p *memActivePairs) Set(_ context.Context, matchID, a, b string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs[matchID] = [2]string{a, b}
	return nil
}

func (p *memActivePairs) Remove(_ context.Context, matchID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pairs, matchID)
	return nil
}

func (p *memActivePairs) Get(_ context.Context, matchID string) (string, string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pair, ok := p.pairs[matchID]
	return pair[0], pair[1], ok, nil
}

func (p *memActivePairs) GetUserActiveMatch(_ context.Context, userID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for matchID, pair := range p.pairs {
		if pair[0] == userID || pair[1] == userID {
			return matchID, true, nil
		}
	}
	return "", false, nil
}

func (p *memActivePairs) GetPartner(_ context.Context, matchID, userID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pair, ok := p.pairs[matchID]
	if !ok {
		return "", false, nil
	}
	switch userID {
	case pair[0]:
		return pair[1], true, nil
	case pair[1]:
		return pair[0], true, nil
	default:
		return "", false, nil
	}
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.MatchSession
}

func newMemSessions() *memSessions { return &memSessions{sessions: map[string]domain.MatchSession{}} }

func (s *memSessions) Create(_ context.Context, session domain.MatchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *memSessions) Get(_ context.Context, matchID string) (domain.MatchSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[matchID]
	return session, ok, nil
}

func (s *memSessions) End(_ context.Context, matchID string, endedAtMs int64, reason string) (domain.MatchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[matchID]
	if !ok {
		return domain.MatchSession{}, domain.ErrMatchNotFound
	}
	duration := (endedAtMs - session.StartedAtMs) / 1000
	session.EndedAtMs = &endedAtMs
	session.EndReason = &reason
	session.DurationSecs = &duration
	s.sessions[matchID] = session
	return session, nil
}

type memLock struct{}

func (memLock) TryLock(context.Context) (bool, error) { return true, nil }
func (memLock) Unlock(context.Context) error           { return nil }

type memLocker struct{}

func (memLocker) ForUser(string) ports.MatchLock { return memLock{} }

func newTestEngine() *matching.Engine {
	return &matching.Engine{
		Queue:       newMemQueue(),
		Cooldowns:   memCooldowns{},
		History:     memHistory{},
		ActivePairs: newMemActivePairs(),
		Sessions:    newMemSessions(),
		Locker:      memLocker{},
		CooldownTTL: 5 * time.Second,
	}
}

func newWSTestServer(t *testing.T, engine *matching.Engine, auth services.AuthService) (*httptest.Server, func(token string) *websocket.Conn) {
	t.Helper()
	server := NewMatchingServer(engine, auth, nil)
	httpServer := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(httpServer.Close)

	dial := func(token string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "?token=" + token
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		return conn
	}
	return httpServer, dial
}

func TestMatchingSocket_RejectsMissingToken(t *testing.T) {
	engine := newTestEngine()
	auth := services.NewAuthService("secret", []string{"lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	httpServer, _ := newWSTestServer(t, engine, auth)

	resp, err := http.Get(httpServer.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMatchingSocket_TwoUsersJoinQueueAndMatch(t *testing.T) {
	engine := newTestEngine()
	auth := services.NewAuthService("secret", []string{"lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	_, dial := newWSTestServer(t, engine, auth)

	tokenA, err := auth.IssueToken("user-a", "", domain.RoleSubscribe, "lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", time.Minute)
	require.NoError(t, err)
	tokenB, err := auth.IssueToken("user-b", "", domain.RoleSubscribe, "lr_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", time.Minute)
	require.NoError(t, err)

	connA := dial(tokenA)
	defer connA.Close()
	connB := dial(tokenB)
	defer connB.Close()

	require.NoError(t, connA.WriteJSON(inboundMessage{Type: "join-queue"}))
	require.NoError(t, readUntilType(t, connA, "queue-joined", 2*time.Second))
	require.NoError(t, readUntilType(t, connA, "searching", 2*time.Second))

	require.NoError(t, connB.WriteJSON(inboundMessage{Type: "join-queue"}))
	require.NoError(t, readUntilType(t, connB, "queue-joined", 2*time.Second))

	require.NoError(t, readUntilType(t, connA, "match-found", 2*time.Second))
	require.NoError(t, readUntilType(t, connB, "match-found", 2*time.Second))
}

func readUntilType(t *testing.T, conn *websocket.Conn, wantType string, timeout time.Duration) error {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		var msg outboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == wantType {
			return nil
		}
	}
}
