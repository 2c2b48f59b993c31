package calls

import "time"

// Call is the durable record of one voice/video session attempt between a
// caller and a receiver. It is owned by the Store; the coordinator only ever
// obtains and mutates it through the Store interface.
//
// Identity invariant: CallerID and ReceiverID are canonical id strings
// (see internal/identity); stores normalize on write.
type Call struct {
	CallID     string `json:"call_id" db:"call_id"`
	CallerID   string `json:"caller_id" db:"caller_id"`
	ReceiverID string `json:"receiver_id" db:"receiver_id"`

	CallType CallType   `json:"call_type" db:"call_type"`
	Status   CallStatus `json:"status" db:"status"`

	// StartTime is set when the call is accepted; nil for calls that never
	// connected.
	StartTime *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds is endTime - startTime, zero when the call never
	// reached accepted. Keep as an int for JSON friendliness; store as INT.
	DurationSeconds int `json:"duration" db:"duration"`

	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	// Metadata carries optional quality/network/device info as opaque JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
	CallStatusMissed   CallStatus = "missed"
	CallStatusFailed   CallStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusFailed, CallStatusMissed:
		return true
	default:
		return false
	}
}

var transitions = map[CallStatus]map[CallStatus]struct{}{
	CallStatusPending: {
		CallStatusRinging:  {},
		CallStatusAccepted: {},
		CallStatusRejected: {},
		CallStatusEnded:    {},
		CallStatusMissed:   {},
		CallStatusFailed:   {},
	},
	CallStatusRinging: {
		CallStatusAccepted: {},
		CallStatusRejected: {},
		CallStatusEnded:    {},
		CallStatusMissed:   {},
		CallStatusFailed:   {},
	},
	CallStatusAccepted: {
		CallStatusEnded:  {},
		CallStatusFailed: {},
	},
}

// CanTransitionTo reports whether the status machine allows s -> next.
// Terminal statuses allow nothing.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// MediaStatus tracks which tracks a participant currently has enabled.
type MediaStatus struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// Participant is the live-connection view of one side of an active call.
// ConnectionID and Ready have no durable meaning.
type Participant struct {
	UserID       string      `json:"user_id"`
	ConnectionID string      `json:"connection_id,omitempty"`
	Username     string      `json:"username,omitempty"`
	Ready        bool        `json:"ready"`
	Media        MediaStatus `json:"media"`
}

// ActiveCall is the in-memory working-set mirror of a non-terminal call:
// the durable record plus live-connection metadata. Created when a call
// reaches pending, destroyed on any terminal transition.
type ActiveCall struct {
	CallID       string        `json:"call_id"`
	Participants []Participant `json:"participants"`
	CallType     CallType      `json:"call_type"`
	Status       CallStatus    `json:"status"`
	StartTime    time.Time     `json:"start_time"`
}

// Participant returns a copy of the participant with the given canonical id.
func (a ActiveCall) Participant(userID string) (Participant, bool) {
	for _, p := range a.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Other returns the canonical id of the participant that is not userID.
func (a ActiveCall) Other(userID string) (string, bool) {
	for _, p := range a.Participants {
		if p.UserID != userID {
			return p.UserID, true
		}
	}
	return "", false
}

func (a ActiveCall) clone() ActiveCall {
	out := a
	out.Participants = make([]Participant, len(a.Participants))
	copy(out.Participants, a.Participants)
	return out
}

// Statistics aggregates a user's call history. A call counts as successful
// once it ended normally; rejected, missed and failed calls count as failed.
type Statistics struct {
	TotalCalls             int `json:"total_calls"`
	TotalDurationSeconds   int `json:"total_duration_seconds"`
	SuccessfulCalls        int `json:"successful_calls"`
	FailedCalls            int `json:"failed_calls"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
