package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes reports process health against the backing stores.
type Probes struct {
	db    *sql.DB
	redis *redis.Client
	log   *slog.Logger
}

// NewProbes creates a new Probes instance.
func NewProbes(db *sql.DB, redisClient *redis.Client, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{db: db, redis: redisClient, log: log}
}

// Liveness reports whether the process itself is responsive.
func (p *Probes) Liveness(ctx context.Context) error {
	return nil
}

// Readiness verifies the backing stores answer before the bot accepts load.
func (p *Probes) Readiness(ctx context.Context) error {
	if p.db != nil {
		if err := p.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres not ready: %w", err)
		}
	}

	if p.redis != nil {
		if err := p.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
	}

	return nil
}
