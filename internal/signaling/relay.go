package signaling

import (
	"errors"
	"log/slog"

	"chat-platform/internal/calls"
	"chat-platform/internal/identity"
	"chat-platform/pkg/utils"
)

// ErrNoTarget means the relay could not resolve a recipient: the call has
// no other participant, or the explicit target is not part of the call.
var ErrNoTarget = errors.New("signaling: no target participant")

// ErrNotParticipant means the sender is not part of the call it is
// signaling into.
var ErrNotParticipant = errors.New("signaling: sender is not a call participant")

// SignalKind is the payload class being relayed. The relay never parses
// the payload itself.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

func (k SignalKind) event() string {
	switch k {
	case SignalOffer:
		return EventWebRTCOffer
	case SignalAnswer:
		return EventWebRTCAnswer
	default:
		return EventWebRTCCandidate
	}
}

// Sender delivers an envelope to every live connection of a user.
// Delivery is fire and forget; slow consumers are dropped, not awaited.
type Sender interface {
	SendToUser(userID string, env Envelope)
}

// SignalFrame is what the receiving peer sees: the payload tagged with the
// call and the canonical sender id.
type SignalFrame struct {
	CallID string `json:"callId"`
	From   string `json:"from"`
	Data   any    `json:"data"`
}

// Relay forwards WebRTC negotiation payloads between the participants of
// an active call. Payloads are opaque; the relay only authorizes and
// addresses them.
type Relay struct {
	registry *calls.Registry
	sender   Sender
	log      *slog.Logger
}

func NewRelay(registry *calls.Registry, sender Sender, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{registry: registry, sender: sender, log: log}
}

// Forward relays a signaling payload within callID from the sender to the
// target. target may be empty or any accepted identity representation; an
// empty target resolves to the other participant. The sender must be a
// participant, and the target must be one too.
func (r *Relay) Forward(kind SignalKind, callID string, from string, target any, payload any) error {
	sender, err := identity.Resolve(from)
	if err != nil {
		return err
	}

	active, ok := r.registry.Get(callID)
	if !ok {
		return calls.ErrCallNotFound
	}
	if _, ok := active.Participant(sender); !ok {
		return ErrNotParticipant
	}

	to, err := r.resolveTarget(active, sender, target)
	if err != nil {
		return err
	}

	r.sender.SendToUser(to, Envelope{
		Event: kind.event(),
		Data:  SignalFrame{CallID: callID, From: sender, Data: payload},
	})
	utils.SignalsRelayedTotal.WithLabelValues(string(kind)).Inc()
	return nil
}

func (r *Relay) resolveTarget(active calls.ActiveCall, sender string, target any) (string, error) {
	if target == nil {
		return r.otherOf(active, sender)
	}
	if s, ok := target.(string); ok && s == "" {
		return r.otherOf(active, sender)
	}
	to, err := identity.Resolve(target)
	if err != nil {
		return "", err
	}
	// An explicit target outside the call would let a participant use the
	// relay as an arbitrary message channel.
	if _, ok := active.Participant(to); !ok {
		return "", ErrNoTarget
	}
	return to, nil
}

func (r *Relay) otherOf(active calls.ActiveCall, sender string) (string, error) {
	to, ok := active.Other(sender)
	if !ok {
		return "", ErrNoTarget
	}
	return to, nil
}
