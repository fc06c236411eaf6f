package ports

import (
	"context"
	"time"

	"rillnet/internal/core/domain"
)

// QueueRepository persists the ordered pool of users waiting for a match.
type QueueRepository interface {
	Add(ctx context.Context, user domain.QueueUser) error
	Remove(ctx context.Context, userID string) (bool, error)
	List(ctx context.Context) ([]domain.QueueUser, error)
	Size(ctx context.Context) (int64, error)
	IsQueued(ctx context.Context, userID string) (bool, error)
}

// CooldownRepository tracks the short refractory period between repeat
// pairings of the same two users.
type CooldownRepository interface {
	Has(ctx context.Context, userA, userB string) (bool, error)
	HasBatch(ctx context.Context, userID string, candidateIDs []string) (map[string]bool, error)
	Set(ctx context.Context, userA, userB string, ttl time.Duration) error
}

// HistoryRepository persists the long-lived per-pair affinity signal and the
// ephemeral per-session counters (likes/follow/messages) that feed it.
type HistoryRepository interface {
	Get(ctx context.Context, userA, userB string) (domain.PairHistory, error)
	GetBatch(ctx context.Context, userID string, candidateIDs []string) (map[string]domain.PairHistory, error)
	Save(ctx context.Context, userA, userB string, history domain.PairHistory) error
	RecordMatchEnd(ctx context.Context, userA, userB string, matchID string, durationSecs int64) error
	IncrLike(ctx context.Context, matchID string) error
	SetFollow(ctx context.Context, matchID string) error
	IncrMessage(ctx context.Context, matchID string) error
}

// ActivePairRepository tracks which users are currently paired and in which
// match, using independent keys rather than a transaction (per the accepted
// design tradeoff: a crash between writes leaves an orphaned lookup that
// self-heals on TTL expiry, never a phantom match).
type ActivePairRepository interface {
	Set(ctx context.Context, matchID, userA, userB string) error
	Remove(ctx context.Context, matchID string) error
	Get(ctx context.Context, matchID string) (userA, userB string, ok bool, err error)
	GetUserActiveMatch(ctx context.Context, userID string) (matchID string, ok bool, err error)
	GetPartner(ctx context.Context, matchID, userID string) (partnerID string, ok bool, err error)
}

// SessionRepository persists MatchSession records, replacing the reference
// implementation's relational table with Redis-backed, TTL-bounded storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.MatchSession) error
	Get(ctx context.Context, matchID string) (domain.MatchSession, bool, error)
	End(ctx context.Context, matchID string, endedAtMs int64, reason string) (domain.MatchSession, error)
}

// MatchLock is the per-user mutual-exclusion handle taken for the duration
// of one matching attempt, preventing two concurrent attempts from pairing
// the same user twice.
type MatchLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// MatchLocker mints a MatchLock scoped to a single user.
type MatchLocker interface {
	ForUser(userID string) MatchLock
}
