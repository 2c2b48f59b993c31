package calls

import "testing"

func TestCallStatusTerminality(t *testing.T) {
	terminal := []CallStatus{CallStatusEnded, CallStatusRejected, CallStatusFailed, CallStatusMissed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusPending, CallStatusRinging, CallStatusAccepted} {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to CallStatus
		want     bool
	}{
		{CallStatusPending, CallStatusRinging, true},
		{CallStatusPending, CallStatusAccepted, true},
		{CallStatusRinging, CallStatusRejected, true},
		{CallStatusRinging, CallStatusRinging, false},
		{CallStatusAccepted, CallStatusEnded, true},
		{CallStatusAccepted, CallStatusRejected, false},
		{CallStatusAccepted, CallStatusAccepted, false},
		{CallStatusEnded, CallStatusFailed, false},
		{CallStatusRejected, CallStatusAccepted, false},
		{CallStatusFailed, CallStatusEnded, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestActiveCallOtherAndParticipant(t *testing.T) {
	a := ActiveCall{
		CallID: "c1",
		Participants: []Participant{
			{UserID: "alice"},
			{UserID: "bob"},
		},
	}
	other, ok := a.Other("alice")
	if !ok || other != "bob" {
		t.Fatalf("expected bob, got %q ok=%v", other, ok)
	}
	if _, ok := a.Participant("carol"); ok {
		t.Fatalf("carol is not a participant")
	}
}
