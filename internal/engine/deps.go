package engine

import (
	"context"
	"math/rand"
	"time"
)

// RandomSource supplies the engine's randomness. Injected so tests can pin
// draws to fixed values.
type RandomSource interface {
	Float64() float64
}

// Clock supplies current time and suspension. Injected so tests run delay
// nodes instantly and time-of-day conditions deterministically.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// NewRand returns a RandomSource seeded from the given seed.
func NewRand(seed int64) RandomSource {
	return rand.New(rand.NewSource(seed))
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Product is a catalog entry used by commerce nodes.
type Product struct {
	ID    string
	Name  string
	Price float64
	Stock int
}

// SubscriptionChecker verifies channel membership through the Telegram API.
type SubscriptionChecker interface {
	IsSubscribed(ctx context.Context, channel string, userID int64) (bool, error)
}

// StockChecker exposes the external product catalog.
type StockChecker interface {
	InStock(ctx context.Context, productID string, minQty int) (bool, error)
	Product(ctx context.Context, productID string) (*Product, error)
}

// RoleResolver reports role membership for a user.
type RoleResolver interface {
	HasRole(ctx context.Context, userID int64, role string) (bool, error)
}

// PromoResolver resolves promo codes to a discount fraction in [0, 1].
type PromoResolver interface {
	Discount(ctx context.Context, code string) (float64, error)
}

// PaymentProvider charges the user's cart total. Provider integration is an
// external concern; the engine only routes on success or failure.
type PaymentProvider interface {
	Charge(ctx context.Context, userID int64, amount float64, currency string) error
}

// Messenger delivers side-channel and deferred messages: notifications,
// scheduled messages, broadcasts, and wait-timeout callbacks.
type Messenger interface {
	Notify(ctx context.Context, text string) error
	ScheduleMessage(ctx context.Context, flowID string, userID int64, text string, delay time.Duration) error
	Broadcast(ctx context.Context, flowID, tag, text string) error
	ScheduleWaitTimeout(ctx context.Context, flowID string, userID int64, nodeID string, generation int64, delay time.Duration) error
}

// SpamGuard rate-limits a key; spam_protection nodes consult it.
type SpamGuard interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LeaderboardSource supplies score rankings for leaderboard nodes.
type LeaderboardSource interface {
	TopScores(ctx context.Context, flowID string, limit int) ([]Score, error)
}

// Score is one leaderboard row.
type Score struct {
	UserID int64
	Points float64
}
