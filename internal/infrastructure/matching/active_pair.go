package matching

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const activePairTTL = time.Hour

type pairRecord struct {
	UserA string `json:"user_a"`
	UserB string `json:"user_b"`
}

// RedisActivePairs tracks which match a user currently belongs to. Per the
// accepted design tradeoff, the three keys (pair record + two user->match
// reverse lookups) are written with three independent SET calls rather than
// a transaction: a crash between writes leaves an orphaned reverse lookup
// that self-heals at TTL expiry rather than ever producing a phantom match.
type RedisActivePairs struct {
	client *redis.Client
}

func NewRedisActivePairs(client *redis.Client) *RedisActivePairs {
	return &RedisActivePairs{client: client}
}

func (p *RedisActivePairs) Set(ctx context.Context, matchID, userA, userB string) error {
	data, err := json.Marshal(pairRecord{UserA: userA, UserB: userB})
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, pairPrefix+":"+matchID, data, activePairTTL).Err(); err != nil {
		return err
	}
	if err := p.client.Set(ctx, userMatchPrefix+":"+userA, matchID, activePairTTL).Err(); err != nil {
		return err
	}
	return p.client.Set(ctx, userMatchPrefix+":"+userB, matchID, activePairTTL).Err()
}

func (p *RedisActivePairs) Remove(ctx context.Context, matchID string) error {
	userA, userB, ok, err := p.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if ok {
		p.client.Del(ctx, userMatchPrefix+":"+userA)
		p.client.Del(ctx, userMatchPrefix+":"+userB)
	}
	return p.client.Del(ctx, pairPrefix+":"+matchID).Err()
}

func (p *RedisActivePairs) Get(ctx context.Context, matchID string) (string, string, bool, error) {
	val, err := p.client.Get(ctx, pairPrefix+":"+matchID).Result()
	if err == redis.Nil {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	var rec pairRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return "", "", false, nil
	}
	return rec.UserA, rec.UserB, true, nil
}

func (p *RedisActivePairs) GetUserActiveMatch(ctx context.Context, userID string) (string, bool, error) {
	matchID, err := p.client.Get(ctx, userMatchPrefix+":"+userID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return matchID, true, nil
}

func (p *RedisActivePairs) GetPartner(ctx context.Context, matchID, userID string) (string, bool, error) {
	userA, userB, ok, err := p.Get(ctx, matchID)
	if err != nil || !ok {
		return "", false, err
	}
	switch userID {
	case userA:
		return userB, true, nil
	case userB:
		return userA, true, nil
	default:
		return "", false, nil
	}
}
