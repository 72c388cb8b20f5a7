package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const chainLockKeyPattern = "chainlock:%s:%d"

// Locker serializes chain walks per (flow, user) with a Redis SetNX lock.
// Holding the lock is the design-level guarantee that no two chain walks for
// the same session run concurrently.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewLocker creates a Redis-backed execution locker.
func NewLocker(client *redis.Client, ttl time.Duration, log *slog.Logger) *Locker {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Locker{client: client, ttl: ttl, log: log}
}

// Acquire takes the per-user execution lock, returning ErrSessionLocked when
// another chain walk already holds it.
func (l *Locker) Acquire(ctx context.Context, flowID string, userID int64) error {
	if l.client == nil {
		l.log.Warn("redis client not configured for chain locks; skipping",
			slog.String("flow_id", flowID), slog.Int64("user_id", userID))
		return nil
	}

	key := fmt.Sprintf(chainLockKeyPattern, flowID, userID)
	acquired, err := l.client.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		l.log.Error("failed to acquire chain lock",
			slog.String("flow_id", flowID), slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}

	if !acquired {
		return ErrSessionLocked
	}

	return nil
}

// Release drops the per-user execution lock.
func (l *Locker) Release(ctx context.Context, flowID string, userID int64) {
	if l.client == nil {
		return
	}

	key := fmt.Sprintf(chainLockKeyPattern, flowID, userID)
	if err := l.client.Del(ctx, key).Err(); err != nil {
		l.log.Error("failed to release chain lock",
			slog.String("flow_id", flowID), slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
