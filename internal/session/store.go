package session

import (
	"context"
	"errors"
)

var (
	// ErrSessionLocked indicates another chain walk holds the user's lock.
	ErrSessionLocked = errors.New("session is locked by another execution")
)

// Store is the persistence contract for sessions. Load creates a
// default-empty session marked first-visit when no record exists; the engine
// treats the store as the sole source of truth between invocations.
type Store interface {
	Load(ctx context.Context, flowID string, userID int64) (*Session, error)
	Save(ctx context.Context, sess *Session) error
}
