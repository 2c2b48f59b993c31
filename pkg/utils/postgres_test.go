package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync/atomic"
	"testing"
)

// Minimal driver stub so WithTx semantics are testable without a database.

var (
	commits   atomic.Int64
	rollbacks atomic.Int64
)

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return stubConn{}, nil }

type stubConn struct{}

func (stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (stubConn) Close() error                        { return nil }
func (stubConn) Begin() (driver.Tx, error)           { return stubTx{}, nil }

type stubTx struct{}

func (stubTx) Commit() error   { commits.Add(1); return nil }
func (stubTx) Rollback() error { rollbacks.Add(1); return nil }

func init() {
	sql.Register("txstub", stubDriver{})
}

func openStub(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("txstub", "")
	if err != nil {
		t.Fatalf("open stub: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db := openStub(t)
	before := commits.Load()

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if commits.Load() != before+1 {
		t.Fatalf("expected one commit")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openStub(t)
	before := rollbacks.Load()
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if rollbacks.Load() != before+1 {
		t.Fatalf("expected one rollback")
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := openStub(t)
	before := rollbacks.Load()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic to propagate")
		}
		if rollbacks.Load() != before+1 {
			t.Fatalf("expected one rollback")
		}
	}()
	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		panic("boom")
	})
}
