package signaling

import (
	"errors"
	"sync"
	"testing"

	"chat-platform/internal/calls"
)

type fakeSender struct {
	mu     sync.Mutex
	frames map[string][]Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[string][]Envelope)}
}

func (f *fakeSender) SendToUser(userID string, env Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[userID] = append(f.frames[userID], env)
}

func (f *fakeSender) sentTo(userID string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[userID]
}

func newTestRelay() (*Relay, *calls.Registry, *fakeSender) {
	reg := calls.NewRegistry()
	reg.Put(calls.ActiveCall{
		CallID: "c1",
		Participants: []calls.Participant{
			{UserID: "alice"},
			{UserID: "bob"},
		},
		CallType: calls.CallTypeVideo,
		Status:   calls.CallStatusAccepted,
	})
	sender := newFakeSender()
	return NewRelay(reg, sender, nil), reg, sender
}

func TestForwardImplicitTarget(t *testing.T) {
	relay, _, sender := newTestRelay()

	payload := map[string]any{"sdp": "v=0..."}
	if err := relay.Forward(SignalOffer, "c1", "alice", nil, payload); err != nil {
		t.Fatalf("forward: %v", err)
	}

	got := sender.sentTo("bob")
	if len(got) != 1 {
		t.Fatalf("expected one frame for bob, got %d", len(got))
	}
	if got[0].Event != EventWebRTCOffer {
		t.Fatalf("unexpected event %q", got[0].Event)
	}
	frame, ok := got[0].Data.(SignalFrame)
	if !ok {
		t.Fatalf("unexpected data type %T", got[0].Data)
	}
	if frame.CallID != "c1" || frame.From != "alice" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if len(sender.sentTo("alice")) != 0 {
		t.Fatalf("sender must not receive its own signal")
	}
}

func TestForwardExplicitTargetRepresentations(t *testing.T) {
	relay, _, sender := newTestRelay()

	// Expanded profile object as target.
	if err := relay.Forward(SignalAnswer, "c1", "bob", map[string]any{"_id": "alice"}, "x"); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(sender.sentTo("alice")) != 1 {
		t.Fatalf("expected frame for alice")
	}

	// Empty string target falls back to the other participant.
	if err := relay.Forward(SignalCandidate, "c1", "alice", "", "y"); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(sender.sentTo("bob")) != 1 {
		t.Fatalf("expected frame for bob")
	}
}

func TestForwardRejectsNonParticipantSender(t *testing.T) {
	relay, _, _ := newTestRelay()
	if err := relay.Forward(SignalOffer, "c1", "mallory", nil, "x"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestForwardRejectsTargetOutsideCall(t *testing.T) {
	relay, _, sender := newTestRelay()
	if err := relay.Forward(SignalOffer, "c1", "alice", "carol", "x"); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
	if len(sender.sentTo("carol")) != 0 {
		t.Fatalf("nothing may be delivered outside the call")
	}
}

func TestForwardUnknownCall(t *testing.T) {
	relay, _, _ := newTestRelay()
	if err := relay.Forward(SignalOffer, "nope", "alice", nil, "x"); !errors.Is(err, calls.ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestForwardAfterCallEnds(t *testing.T) {
	relay, reg, _ := newTestRelay()
	reg.Remove("c1")
	if err := relay.Forward(SignalCandidate, "c1", "alice", nil, "x"); !errors.Is(err, calls.ErrCallNotFound) {
		t.Fatalf("late candidate must fail with ErrCallNotFound, got %v", err)
	}
}
