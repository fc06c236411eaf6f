package matching

import (
	"time"

	"rillnet/internal/core/ports"
	"rillnet/pkg/distributed"
)

// UserLocker adapts the general-purpose DistributedLock manager to the
// per-user match-attempt lock, replacing a raw SETNX with a renewal-aware
// lock primitive.
type UserLocker struct {
	manager *distributed.LockManager
	ttl     time.Duration
}

func NewUserLocker(manager *distributed.LockManager, ttl time.Duration) *UserLocker {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &UserLocker{manager: manager, ttl: ttl}
}

func (l *UserLocker) ForUser(userID string) ports.MatchLock {
	return l.manager.AcquireLock(userID, l.ttl)
}
