package matching

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldowns guards against immediately re-pairing the same two users.
type RedisCooldowns struct {
	client *redis.Client
}

func NewRedisCooldowns(client *redis.Client) *RedisCooldowns {
	return &RedisCooldowns{client: client}
}

func (c *RedisCooldowns) Has(ctx context.Context, userA, userB string) (bool, error) {
	n, err := c.client.Exists(ctx, pairKey(cooldownPrefix, userA, userB)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasBatch checks cooldown membership for userID against every candidate in
// one round trip, grounded on the reference implementation's exists_multi.
func (c *RedisCooldowns) HasBatch(ctx context.Context, userID string, candidateIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return result, nil
	}

	pipe := c.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(candidateIDs))
	for _, cid := range candidateIDs {
		cmds[cid] = pipe.Exists(ctx, pairKey(cooldownPrefix, userID, cid))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for cid, cmd := range cmds {
		n, _ := cmd.Result()
		result[cid] = n > 0
	}
	return result, nil
}

func (c *RedisCooldowns) Set(ctx context.Context, userA, userB string, ttl time.Duration) error {
	return c.client.Set(ctx, pairKey(cooldownPrefix, userA, userB), "1", ttl).Err()
}
