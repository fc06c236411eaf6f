package matching

import (
	"context"
	"encoding/json"
	"time"

	"rillnet/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const historyTTL = 7 * 24 * time.Hour
const sessionCounterTTL = time.Hour

// RedisHistory persists the per-pair affinity signal (PairHistory) across
// matches, plus the short-lived per-session counters that feed it.
type RedisHistory struct {
	client *redis.Client
}

func NewRedisHistory(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client}
}

func (h *RedisHistory) Get(ctx context.Context, userA, userB string) (domain.PairHistory, error) {
	val, err := h.client.Get(ctx, pairKey(historyPrefix, userA, userB)).Result()
	if err == redis.Nil {
		return domain.PairHistory{}, nil
	}
	if err != nil {
		return domain.PairHistory{}, err
	}
	var hist domain.PairHistory
	if err := json.Unmarshal([]byte(val), &hist); err != nil {
		return domain.PairHistory{}, nil
	}
	return hist, nil
}

func (h *RedisHistory) GetBatch(ctx context.Context, userID string, candidateIDs []string) (map[string]domain.PairHistory, error) {
	result := make(map[string]domain.PairHistory, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return result, nil
	}

	keys := make([]string, len(candidateIDs))
	for i, cid := range candidateIDs {
		keys[i] = pairKey(historyPrefix, userID, cid)
	}

	values, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, cid := range candidateIDs {
		var hist domain.PairHistory
		if s, ok := values[i].(string); ok {
			_ = json.Unmarshal([]byte(s), &hist)
		}
		result[cid] = hist
	}
	return result, nil
}

func (h *RedisHistory) Save(ctx context.Context, userA, userB string, history domain.PairHistory) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return h.client.Set(ctx, pairKey(historyPrefix, userA, userB), data, historyTTL).Err()
}

// RecordMatchEnd rolls the session's like/follow/message counters into the
// durable PairHistory, applies the skip penalty for very short sessions, and
// clears the session-scoped counters.
func (h *RedisHistory) RecordMatchEnd(ctx context.Context, userA, userB, matchID string, durationSecs int64) error {
	likesKey := sessionLikesPrefix + ":" + matchID
	followKey := sessionFollowPrefix + ":" + matchID
	msgsKey := sessionMsgsPrefix + ":" + matchID

	likes, _ := h.client.Get(ctx, likesKey).Int64()
	follow, _ := h.client.Get(ctx, followKey).Result()
	msgs, _ := h.client.Get(ctx, msgsKey).Int64()

	history, err := h.Get(ctx, userA, userB)
	if err != nil {
		return err
	}

	history.TimesMatched++
	history.LastMatchedAtMs = time.Now().UnixMilli()
	history.TotalDurationSecs += durationSecs
	history.Likes = saturatingAddU8(history.Likes, uint8(clampInt64(likes, 0, 255)))
	history.Follows = history.Follows || follow == "1"
	history.Messages += int(msgs)
	if durationSecs < 15 {
		history.Skips++
	}

	if err := h.Save(ctx, userA, userB, history); err != nil {
		return err
	}

	h.client.Del(ctx, likesKey, followKey, msgsKey)
	return nil
}

func (h *RedisHistory) IncrLike(ctx context.Context, matchID string) error {
	key := sessionLikesPrefix + ":" + matchID
	if err := h.client.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return h.client.Expire(ctx, key, sessionCounterTTL).Err()
}

func (h *RedisHistory) SetFollow(ctx context.Context, matchID string) error {
	key := sessionFollowPrefix + ":" + matchID
	return h.client.Set(ctx, key, "1", sessionCounterTTL).Err()
}

func (h *RedisHistory) IncrMessage(ctx context.Context, matchID string) error {
	key := sessionMsgsPrefix + ":" + matchID
	if err := h.client.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return h.client.Expire(ctx, key, sessionCounterTTL).Err()
}

func saturatingAddU8(a, b uint8) uint8 {
	sum := int(a) + int(b)
	if sum > 255 {
		return 255
	}
	return uint8(sum)
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
