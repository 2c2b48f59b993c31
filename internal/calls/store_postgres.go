package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chat-platform/internal/identity"
	"chat-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists call records in the calls table.
//
// Expected schema:
//
//	CREATE TABLE calls (
//	    call_id        TEXT PRIMARY KEY,
//	    caller_id      TEXT NOT NULL,
//	    receiver_id    TEXT NOT NULL,
//	    call_type      TEXT NOT NULL,
//	    status         TEXT NOT NULL,
//	    start_time     TIMESTAMPTZ,
//	    end_time       TIMESTAMPTZ,
//	    duration       INT NOT NULL DEFAULT 0,
//	    failure_reason TEXT NOT NULL DEFAULT '',
//	    metadata       TEXT NOT NULL DEFAULT '',
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX calls_caller_created_idx   ON calls (caller_id, created_at DESC);
//	CREATE INDEX calls_receiver_created_idx ON calls (receiver_id, created_at DESC);
//	CREATE INDEX calls_status_idx           ON calls (status);
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `call_id, caller_id, receiver_id, call_type, status, start_time, end_time, duration, failure_reason, metadata, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c Call) (Call, error) {
	caller, err := identity.Resolve(c.CallerID)
	if err != nil {
		return Call{}, err
	}
	receiver, err := identity.Resolve(c.ReceiverID)
	if err != nil {
		return Call{}, err
	}
	c.CallerID = caller
	c.ReceiverID = receiver

	now := s.clock().UTC()
	if c.CallID == "" {
		c.CallID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CallStatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls (`+callColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.CallID, c.CallerID, c.ReceiverID, c.CallType, c.Status,
		c.StartTime, c.EndTime, c.DurationSeconds, c.FailureReason, c.Metadata,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return Call{}, storageErr("insert call", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, callID string) (Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrCallNotFound
	}
	if err != nil {
		return Call{}, storageErr("find call", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, callID string, next CallStatus, upd StatusUpdate) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		current, err := lockCallRow(ctx, tx, callID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(next) {
			return ErrInvalidState
		}

		now := s.clock().UTC()
		current.Status = next
		if upd.StartTime != nil {
			t := upd.StartTime.UTC()
			current.StartTime = &t
		}
		if upd.FailureReason != "" {
			current.FailureReason = upd.FailureReason
		}
		current.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			UPDATE calls SET status = $2, start_time = $3, failure_reason = $4, updated_at = $5
			WHERE call_id = $1`,
			callID, current.Status, current.StartTime, current.FailureReason, current.UpdatedAt,
		)
		if err != nil {
			return storageErr("update call status", err)
		}
		out = current
		return nil
	})
	if err != nil {
		return Call{}, txErr(err)
	}
	return out, nil
}

func (s *PostgresStore) MarkEnded(ctx context.Context, callID string, endTime time.Time, durationSeconds int, reason string) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		current, err := lockCallRow(ctx, tx, callID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(CallStatusEnded) {
			return ErrInvalidState
		}

		now := s.clock().UTC()
		t := endTime.UTC()
		current.Status = CallStatusEnded
		current.EndTime = &t
		current.DurationSeconds = durationSeconds
		if reason != "" {
			current.FailureReason = reason
		}
		current.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			UPDATE calls SET status = $2, end_time = $3, duration = $4, failure_reason = $5, updated_at = $6
			WHERE call_id = $1`,
			callID, current.Status, current.EndTime, current.DurationSeconds, current.FailureReason, current.UpdatedAt,
		)
		if err != nil {
			return storageErr("mark call ended", err)
		}
		out = current
		return nil
	})
	if err != nil {
		return Call{}, txErr(err)
	}
	return out, nil
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID string) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE (caller_id = $1 OR receiver_id = $1)
		  AND status IN ('pending', 'ringing', 'accepted')
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, storageErr("list active calls", err)
	}
	return collectCalls(rows)
}

func (s *PostgresStore) ListStaleActive(ctx context.Context, before time.Time) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE status IN ('pending', 'ringing', 'accepted')
		  AND created_at < $1
		ORDER BY created_at DESC`,
		before.UTC(),
	)
	if err != nil {
		return nil, storageErr("list stale calls", err)
	}
	return collectCalls(rows)
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit, offset int) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, storageErr("list call history", err)
	}
	return collectCalls(rows)
}

func (s *PostgresStore) Statistics(ctx context.Context, userID string) (Statistics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(duration), 0),
			COUNT(*) FILTER (WHERE status = 'ended'),
			COUNT(*) FILTER (WHERE status IN ('failed', 'rejected', 'missed'))
		FROM calls
		WHERE caller_id = $1 OR receiver_id = $1`,
		userID,
	)

	var out Statistics
	if err := row.Scan(&out.TotalCalls, &out.TotalDurationSeconds, &out.SuccessfulCalls, &out.FailedCalls); err != nil {
		return Statistics{}, storageErr("call statistics", err)
	}
	if out.SuccessfulCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.SuccessfulCalls
	}
	return out, nil
}

// lockCallRow reads a call under FOR UPDATE so racing transitions serialize
// on the row; the loser re-reads a terminal status and fails validation.
func lockCallRow(ctx context.Context, tx *sql.Tx, callID string) (Call, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = $1 FOR UPDATE`, callID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrCallNotFound
	}
	if err != nil {
		return Call{}, storageErr("lock call row", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var start, end sql.NullTime
	err := row.Scan(
		&c.CallID, &c.CallerID, &c.ReceiverID, &c.CallType, &c.Status,
		&start, &end, &c.DurationSeconds, &c.FailureReason, &c.Metadata,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	if start.Valid {
		t := start.Time.UTC()
		c.StartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		c.EndTime = &t
	}
	return c, nil
}

func collectCalls(rows *sql.Rows) ([]Call, error) {
	defer rows.Close()
	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, storageErr("scan call row", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate call rows", err)
	}
	return out, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// txErr keeps sentinel errors from inside a transaction intact while
// wrapping anything unexpected (begin/commit failures) as storage trouble.
func txErr(err error) error {
	if errors.Is(err, ErrCallNotFound) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
