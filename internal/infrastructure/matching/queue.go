package matching

import (
	"context"
	"encoding/json"
	"time"

	"rillnet/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the sorted-set-backed candidate pool, scored by join time so
// the oldest waiter is always first.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Add(ctx context.Context, user domain.QueueUser) error {
	if user.JoinedAtMs == 0 {
		user.JoinedAtMs = time.Now().UnixMilli()
	}
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(user.JoinedAtMs),
		Member: string(data),
	}).Err()
}

func (q *RedisQueue) Remove(ctx context.Context, userID string) (bool, error) {
	members, err := q.client.ZRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return false, err
	}
	for _, m := range members {
		var u domain.QueueUser
		if json.Unmarshal([]byte(m), &u) != nil {
			continue
		}
		if u.UserID == userID {
			if err := q.client.ZRem(ctx, queueKey, m).Err(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (q *RedisQueue) List(ctx context.Context) ([]domain.QueueUser, error) {
	members, err := q.client.ZRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	users := make([]domain.QueueUser, 0, len(members))
	for _, m := range members {
		var u domain.QueueUser
		if json.Unmarshal([]byte(m), &u) != nil {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, queueKey).Result()
}

func (q *RedisQueue) IsQueued(ctx context.Context, userID string) (bool, error) {
	users, err := q.List(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}
