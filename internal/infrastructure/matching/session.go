package matching

import (
	"context"
	"encoding/json"
	"time"

	"rillnet/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// RedisSessions persists MatchSession records. The reference implementation
// stores these rows in Postgres via diesel; no SQL driver appears anywhere
// in this stack, so sessions live in Redis with a TTL long enough to outlast
// any plausible match duration (see SPEC_FULL.md §4.D).
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessions{client: client, ttl: ttl}
}

func (s *RedisSessions) Create(ctx context.Context, session domain.MatchSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionPrefix+":"+session.ID, data, s.ttl).Err()
}

func (s *RedisSessions) Get(ctx context.Context, matchID string) (domain.MatchSession, bool, error) {
	val, err := s.client.Get(ctx, sessionPrefix+":"+matchID).Result()
	if err == redis.Nil {
		return domain.MatchSession{}, false, nil
	}
	if err != nil {
		return domain.MatchSession{}, false, err
	}
	var session domain.MatchSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return domain.MatchSession{}, false, nil
	}
	return session, true, nil
}

func (s *RedisSessions) End(ctx context.Context, matchID string, endedAtMs int64, reason string) (domain.MatchSession, error) {
	session, ok, err := s.Get(ctx, matchID)
	if err != nil {
		return domain.MatchSession{}, err
	}
	if !ok {
		return domain.MatchSession{}, domain.ErrMatchNotFound
	}

	duration := (endedAtMs - session.StartedAtMs) / 1000
	if duration < 0 {
		duration = 0
	}

	session.EndedAtMs = &endedAtMs
	session.EndReason = &reason
	session.DurationSecs = &duration

	if err := s.Create(ctx, session); err != nil {
		return domain.MatchSession{}, err
	}
	return session, nil
}
