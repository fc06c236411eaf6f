package matching_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/internal/infrastructure/matching"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memQueue struct {
	mu    sync.Mutex
	users map[string]domain.QueueUser
	// afterList, when set, runs after List has taken its snapshot, letting a
	// test change the queue between the snapshot and the double-remove.
	afterList func()
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
	out := make([]domain.QueueUser, 0, len(q.users))
	for _, u := range q.users {
		out = append(out, u)
	}
	q.mu.Unlock()
	if q.afterList != nil {
		q.afterList()
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
func (memHistory) Save(context.Context, string, string, domain.PairHistory) error    { return nil }
func (memHistory) RecordMatchEnd(context.Context, string, string, string, int64) error { return nil }
func (memHistory) IncrLike(context.Context, string) error                            { return nil }
func (memHistory) SetFollow(context.Context, string) error                           { return nil }
func (memHistory) IncrMessage(context.Context, string) error                         { return nil }

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

// memLock is an always-available lock — these tests exercise the queue
// race-handling at the Engine level directly, not Redis SETNX semantics.
type memLock struct{}

func (memLock) TryLock(context.Context) (bool, error) { return true, nil }
func (memLock) Unlock(context.Context) error           { return nil }

type memLocker struct{}

func (memLocker) ForUser(string) ports.MatchLock { return memLock{} }

func newTestEngine() (*matching.Engine, *memQueue) {
	q := newMemQueue()
	return &matching.Engine{
		Queue:       q,
		Cooldowns:   memCooldowns{},
		History:     memHistory{},
		ActivePairs: newMemActivePairs(),
		Sessions:    newMemSessions(),
		Locker:      memLocker{},
		CooldownTTL: 5 * time.Second,
	}, q
}

func TestTryMatch_PairsTwoCompatibleWaiters(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u1", Age: 25, Country: "US", JoinedAtMs: time.Now().UnixMilli()}))
	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u2", Age: 27, Country: "US", JoinedAtMs: time.Now().UnixMilli()}))

	result, err := engine.TryMatch(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, matching.OutcomeMatched, result.Outcome)
	assert.Equal(t, "u2", result.Partner.UserID)
	assert.Equal(t, "u1", result.Session.UserA)
}

func TestTryMatch_ReturnsNilWhenAlone(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "solo", JoinedAtMs: time.Now().UnixMilli()}))

	result, err := engine.TryMatch(ctx, "solo")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestTryMatch_RemovesBothUsersFromQueueOnMatch(t *testing.T) {
	engine, q := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u1", JoinedAtMs: time.Now().UnixMilli()}))
	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u2", JoinedAtMs: time.Now().UnixMilli()}))

	result, err := engine.TryMatch(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, result)

	size, _ := q.Size(ctx)
	assert.Equal(t, int64(0), size)
}

func TestTryMatch_RollsBackSelfWhenCandidateAlreadyRemoved(t *testing.T) {
	engine, q := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u1", JoinedAtMs: time.Now().UnixMilli()}))
	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u2", JoinedAtMs: time.Now().UnixMilli()}))

	// Simulate a concurrent attempt stealing u2 out from under us right
	// before the double-remove commits.
	q.afterList = func() { _, _ = q.Remove(ctx, "u2") }

	result, err := engine.TryMatch(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, result, "candidate vanished mid-match, caller should retry")

	queued, _ := q.IsQueued(ctx, "u1")
	assert.True(t, queued, "self must be rolled back into the queue")
}

func TestEndMatch_ComputesDurationAndReturnsPartner(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u1", JoinedAtMs: time.Now().UnixMilli()}))
	require.NoError(t, engine.Join(ctx, domain.QueueUser{UserID: "u2", JoinedAtMs: time.Now().UnixMilli()}))

	result, err := engine.TryMatch(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, result)

	session, partner, err := engine.EndMatch(ctx, result.Session.ID, "u1", "disconnect")
	require.NoError(t, err)
	assert.Equal(t, "u2", partner)
	require.NotNil(t, session.DurationSecs)
	assert.GreaterOrEqual(t, *session.DurationSecs, int64(0))
}
