package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/flowbot-app/flowbot/internal/errors"
)

// PostgresStore persists sessions in a single sessions table keyed by
// (flow_id, telegram_id).
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a SQL-backed session store.
func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}

	return &PostgresStore{db: db, log: log}
}

// Load fetches the session for (flowID, userID), creating a default
// first-visit session when no record exists.
func (s *PostgresStore) Load(ctx context.Context, flowID string, userID int64) (*Session, error) {
	const query = `
		SELECT current_menu_id, variables, tags, points, cart_data, await, await_generation, created_at, updated_at
		FROM sessions
		WHERE flow_id = $1 AND telegram_id = $2
	`

	row := s.db.QueryRowContext(ctx, query, flowID, userID)

	var (
		sess         = New(flowID, userID)
		variablesRaw []byte
		cartRaw      []byte
		awaitRaw     []byte
	)

	err := row.Scan(
		&sess.CurrentMenuID,
		&variablesRaw,
		pq.Array(&sess.Tags),
		&sess.Points,
		&cartRaw,
		&awaitRaw,
		&sess.AwaitGeneration,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sess, nil
		}

		s.log.Error("failed to load session",
			slog.String("flow_id", flowID), slog.Int64("telegram_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("select session: %w", err)
	}

	sess.FirstVisit = false

	if len(variablesRaw) > 0 {
		if err := json.Unmarshal(variablesRaw, &sess.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal session variables: %w", err)
		}
	}
	if len(cartRaw) > 0 {
		if err := json.Unmarshal(cartRaw, &sess.Cart); err != nil {
			return nil, fmt.Errorf("unmarshal session cart: %w", err)
		}
	}
	if len(awaitRaw) > 0 && string(awaitRaw) != "null" {
		sess.Await = &Await{}
		if err := json.Unmarshal(awaitRaw, sess.Await); err != nil {
			return nil, fmt.Errorf("unmarshal session await marker: %w", err)
		}
	}

	return sess, nil
}

// Save upserts the session record.
func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}

	variablesRaw, err := json.Marshal(sess.Variables)
	if err != nil {
		return fmt.Errorf("marshal session variables: %w", err)
	}

	cartRaw, err := json.Marshal(sess.Cart)
	if err != nil {
		return fmt.Errorf("marshal session cart: %w", err)
	}

	awaitRaw, err := json.Marshal(sess.Await)
	if err != nil {
		return fmt.Errorf("marshal session await marker: %w", err)
	}

	const query = `
		INSERT INTO sessions (flow_id, telegram_id, current_menu_id, variables, tags, points, cart_data, await, await_generation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (flow_id, telegram_id) DO UPDATE SET
			current_menu_id = EXCLUDED.current_menu_id,
			variables = EXCLUDED.variables,
			tags = EXCLUDED.tags,
			points = EXCLUDED.points,
			cart_data = EXCLUDED.cart_data,
			await = EXCLUDED.await,
			await_generation = EXCLUDED.await_generation,
			updated_at = EXCLUDED.updated_at
	`

	err = appErrors.WithRetry(ctx, func() error {
		if _, err := s.db.ExecContext(
			ctx,
			query,
			sess.FlowID,
			sess.UserID,
			sess.CurrentMenuID,
			variablesRaw,
			pq.Array(sess.Tags),
			sess.Points,
			cartRaw,
			awaitRaw,
			sess.AwaitGeneration,
			sess.CreatedAt,
			time.Now().UTC(),
		); err != nil {
			return appErrors.NewStorageError(err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("failed to save session",
			slog.String("flow_id", sess.FlowID), slog.Int64("telegram_id", sess.UserID), slog.Any("error", err))
		return fmt.Errorf("upsert session: %w", err)
	}

	return nil
}

// CountAwaiting returns the number of sessions currently suspended on input,
// used by the metrics poller.
func (s *PostgresStore) CountAwaiting(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE await IS NOT NULL AND await::text <> 'null'`

	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count awaiting sessions: %w", err)
	}

	return count, nil
}

// TopByPoints returns the highest-scoring sessions of a flow for leaderboard
// rendering.
func (s *PostgresStore) TopByPoints(ctx context.Context, flowID string, limit int) ([]*Session, error) {
	const query = `
		SELECT telegram_id, points
		FROM sessions
		WHERE flow_id = $1
		ORDER BY points DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{FlowID: flowID}
		if err := rows.Scan(&sess.UserID, &sess.Points); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// UsersByTag returns the telegram ids of sessions carrying the tag, or every
// session of the flow when tag is empty. Used for broadcast fan-out.
func (s *PostgresStore) UsersByTag(ctx context.Context, flowID, tag string) ([]int64, error) {
	query := `SELECT telegram_id FROM sessions WHERE flow_id = $1`
	args := []any{flowID}
	if tag != "" {
		query += ` AND $2 = ANY(tags)`
		args = append(args, tag)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select broadcast recipients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
