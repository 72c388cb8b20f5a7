package external

import (
	"context"
	"fmt"

	"github.com/flowbot-app/flowbot/internal/engine"
	"github.com/flowbot-app/flowbot/internal/session"
)

// PointsRanker exposes the session store's score ranking.
type PointsRanker interface {
	TopByPoints(ctx context.Context, flowID string, limit int) ([]*session.Session, error)
}

// SessionLeaderboard adapts the session store to the engine's leaderboard
// dependency.
type SessionLeaderboard struct {
	ranker PointsRanker
}

var _ engine.LeaderboardSource = (*SessionLeaderboard)(nil)

// NewSessionLeaderboard wraps a session store ranking.
func NewSessionLeaderboard(ranker PointsRanker) *SessionLeaderboard {
	return &SessionLeaderboard{ranker: ranker}
}

// TopScores returns the flow's highest-scoring sessions.
func (l *SessionLeaderboard) TopScores(ctx context.Context, flowID string, limit int) ([]engine.Score, error) {
	sessions, err := l.ranker.TopByPoints(ctx, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("rank sessions by points: %w", err)
	}

	scores := make([]engine.Score, 0, len(sessions))
	for _, sess := range sessions {
		scores = append(scores, engine.Score{UserID: sess.UserID, Points: sess.Points})
	}

	return scores, nil
}
