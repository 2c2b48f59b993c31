package audit

import "time"

// Event is an immutable, append-only audit log record of a call lifecycle
// transition.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor capture is best-effort; do not block call flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the lifecycle transition being recorded.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event. Empty for
	// transitions synthesized by the reaper.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	CallID string `json:"call_id" db:"call_id"`

	// Reason carries a reject/end reason or a reap cause.
	Reason string `json:"reason,omitempty" db:"reason"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallInitiated EventType = "call_initiated"
	EventTypeCallAccepted  EventType = "call_accepted"
	EventTypeCallRejected  EventType = "call_rejected"
	EventTypeCallEnded     EventType = "call_ended"
	EventTypeCallReaped    EventType = "call_reaped"
)
