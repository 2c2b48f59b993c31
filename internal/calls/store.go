package calls

import (
	"context"
	"time"
)

// StatusUpdate carries the optional field changes that ride along with a
// status transition.
type StatusUpdate struct {
	StartTime     *time.Time
	FailureReason string
}

// Store is the durable persistence contract for call records.
//
// Transition guarantees every implementation must provide:
//   - UpdateStatus and MarkEnded refuse to touch a record whose current
//     status does not allow the transition, and report ErrInvalidState.
//     The durable record is the arbiter when two transitions race.
//   - Terminal records are never re-opened.
//
// Unexpected failures are wrapped in ErrStorageUnavailable.
type Store interface {
	Create(ctx context.Context, c Call) (Call, error)
	FindByID(ctx context.Context, callID string) (Call, error)
	UpdateStatus(ctx context.Context, callID string, next CallStatus, upd StatusUpdate) (Call, error)
	MarkEnded(ctx context.Context, callID string, endTime time.Time, durationSeconds int, reason string) (Call, error)

	// ListActiveByUser returns the user's non-terminal calls, as caller or
	// receiver. Backs the one-active-call-per-user invariant.
	ListActiveByUser(ctx context.Context, userID string) ([]Call, error)

	// ListStaleActive returns non-terminal calls created before the cutoff,
	// regardless of registry state. Lets the reaper recover sessions leaked
	// across a process restart.
	ListStaleActive(ctx context.Context, before time.Time) ([]Call, error)

	History(ctx context.Context, userID string, limit, offset int) ([]Call, error)
	Statistics(ctx context.Context, userID string) (Statistics, error)
}
