package external

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// SQLRoleResolver answers role membership from the user_roles table.
type SQLRoleResolver struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLRoleResolver creates a SQL-backed role resolver.
func NewSQLRoleResolver(db *sql.DB, log *slog.Logger) *SQLRoleResolver {
	if log == nil {
		log = slog.Default()
	}

	return &SQLRoleResolver{db: db, log: log}
}

// HasRole reports whether the user carries the role.
func (r *SQLRoleResolver) HasRole(ctx context.Context, userID int64, role string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM user_roles WHERE telegram_id = $1 AND role = $2
		)
	`

	var has bool
	if err := r.db.QueryRowContext(ctx, query, userID, role).Scan(&has); err != nil {
		return false, fmt.Errorf("select user role: %w", err)
	}

	return has, nil
}
