package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends audit events to the audit_events table.
//
// Expected schema:
//
//	CREATE TABLE audit_events (
//	    id            TEXT PRIMARY KEY,
//	    type          TEXT NOT NULL,
//	    actor_user_id TEXT NOT NULL DEFAULT '',
//	    call_id       TEXT NOT NULL,
//	    reason        TEXT NOT NULL DEFAULT '',
//	    metadata      TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_user_id, call_id, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Type, e.ActorUserID, e.CallID, e.Reason, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append event: %w", err)
	}
	return nil
}
