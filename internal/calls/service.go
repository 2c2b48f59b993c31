package calls

import (
	"context"
	"log/slog"
	"time"

	"chat-platform/internal/audit"
	"chat-platform/internal/identity"
	"chat-platform/pkg/utils"
)

// PresenceChecker is the slice of the presence registry the lifecycle
// service needs: whether a user has at least one live connection.
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// UserReaper clears a user's stuck sessions before the one-active-call
// precondition is re-checked. Implemented by the Reaper.
type UserReaper interface {
	ReapUser(ctx context.Context, userID string) int
}

// ServiceOptions carries the optional collaborators.
type ServiceOptions struct {
	// Guard reserves per-user session slots across instances. Nil disables
	// cross-instance guarding.
	Guard SessionGuard
	// Audit records lifecycle transitions, best-effort. Nil disables.
	Audit *audit.Service
	Log   *slog.Logger
}

// Service is the call lifecycle state machine. It validates and executes
// initiate/accept/reject/end transitions, enforces the one-active-call-per-
// user invariant, writes through to the durable store and keeps the active
// call registry in sync.
//
// Ordering invariant: for every transition the durable record is updated
// first, then the registry. Readers needing strong consistency re-check the
// durable record.
type Service struct {
	store    Store
	registry *Registry
	presence PresenceChecker
	guard    SessionGuard
	audit    *audit.Service
	log      *slog.Logger
	reaper   UserReaper

	// callLocks serializes read-then-write cycles per call id; userLocks
	// serializes initiate against the per-user invariant. Shared with the
	// reaper so forced transitions serialize with client transitions.
	callLocks *keyedMutex
	userLocks *keyedMutex

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store, registry *Registry, presence PresenceChecker, opts ServiceOptions) *Service {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     store,
		registry:  registry,
		presence:  presence,
		guard:     opts.Guard,
		audit:     opts.Audit,
		log:       log,
		callLocks: newKeyedMutex(),
		userLocks: newKeyedMutex(),
		clock:     time.Now,
	}
}

// SetReaper wires the defensive stale-session sweep into Initiate.
// Called once by the composition root; NewReaper does this automatically.
func (s *Service) SetReaper(r UserReaper) { s.reaper = r }

// Registry exposes the active call registry for collaborators that resolve
// live-call state (signaling relay, gateway).
func (s *Service) Registry() *Registry { return s.registry }

// Initiate validates and creates a new pending call from caller to
// receiver. receiverID accepts any identity representation the resolver
// understands; clients send anything from a bare id to an expanded
// profile object.
func (s *Service) Initiate(ctx context.Context, callerID string, receiverID any, callType CallType, metadata string) (Call, error) {
	caller, err := identity.Resolve(callerID)
	if err != nil {
		return Call{}, err
	}
	receiver, err := identity.Resolve(receiverID)
	if err != nil {
		return Call{}, err
	}
	if caller == receiver {
		return Call{}, ErrSelfCall
	}
	if !callType.Valid() {
		callType = CallTypeVoice
	}

	// Clear the caller's own stuck sessions before re-checking the
	// one-active-call precondition.
	if s.reaper != nil {
		s.reaper.ReapUser(ctx, caller)
	}

	unlock := s.userLocks.LockPair(caller, receiver)
	defer unlock()

	if !s.presence.IsOnline(receiver) {
		return Call{}, ErrReceiverUnavailable
	}

	if active, err := s.store.ListActiveByUser(ctx, caller); err != nil {
		return Call{}, err
	} else if len(active) > 0 {
		return Call{}, ErrAlreadyActive
	}
	if active, err := s.store.ListActiveByUser(ctx, receiver); err != nil {
		return Call{}, err
	} else if len(active) > 0 {
		return Call{}, ErrAlreadyActive
	}

	if !s.acquireSlots(ctx, caller, receiver) {
		return Call{}, ErrAlreadyActive
	}

	now := s.clock().UTC()
	created, err := s.store.Create(ctx, Call{
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   callType,
		Status:     CallStatusPending,
		Metadata:   metadata,
		CreatedAt:  now,
	})
	if err != nil {
		s.releaseSlots(ctx, caller, receiver)
		return Call{}, err
	}

	media := MediaStatus{Audio: true, Video: callType == CallTypeVideo}
	s.registry.Put(ActiveCall{
		CallID: created.CallID,
		Participants: []Participant{
			{UserID: caller, Media: media},
			{UserID: receiver, Media: media},
		},
		CallType:  callType,
		Status:    CallStatusPending,
		StartTime: now,
	})
	utils.ActiveCallsGauge.Inc()
	utils.CallEventsTotal.WithLabelValues("initiate", "ok").Inc()

	s.logAudit(ctx, audit.EventTypeCallInitiated, caller, created.CallID, "")
	s.log.Info("call initiated", "call_id", created.CallID, "caller", caller, "receiver", receiver, "type", callType)
	return created, nil
}

// MarkRinging records that the receiver's devices have been notified of a
// pending call. Best-effort: if the call already moved on, the transition
// is silently skipped.
func (s *Service) MarkRinging(ctx context.Context, callID string) {
	unlock := s.callLocks.Lock(callID)
	defer unlock()

	if _, err := s.store.UpdateStatus(ctx, callID, CallStatusRinging, StatusUpdate{}); err != nil {
		return
	}
	s.registry.Update(callID, func(a *ActiveCall) {
		a.Status = CallStatusRinging
	})
}

// Accept transitions a pending or ringing call to accepted. Only the
// canonical receiver may accept.
func (s *Service) Accept(ctx context.Context, userID, callID string) (Call, error) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return Call{}, err
	}

	unlock := s.callLocks.Lock(callID)
	defer unlock()

	call, err := s.store.FindByID(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if call.ReceiverID != user {
		return Call{}, ErrUnauthorized
	}
	if call.Status != CallStatusPending && call.Status != CallStatusRinging {
		return Call{}, ErrInvalidState
	}

	now := s.clock().UTC()
	updated, err := s.store.UpdateStatus(ctx, callID, CallStatusAccepted, StatusUpdate{StartTime: &now})
	if err != nil {
		return Call{}, err
	}

	s.registry.Update(callID, func(a *ActiveCall) {
		a.Status = CallStatusAccepted
		for i := range a.Participants {
			if a.Participants[i].UserID == user {
				a.Participants[i].Ready = true
			}
		}
	})

	utils.CallEventsTotal.WithLabelValues("accept", "ok").Inc()
	s.logAudit(ctx, audit.EventTypeCallAccepted, user, callID, "")
	s.log.Info("call accepted", "call_id", callID, "by", user)
	return updated, nil
}

// Reject declines a pending or ringing call. Only the canonical receiver
// may reject.
func (s *Service) Reject(ctx context.Context, userID, callID, reason string) (Call, error) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return Call{}, err
	}

	unlock := s.callLocks.Lock(callID)
	defer unlock()

	call, err := s.store.FindByID(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if call.ReceiverID != user {
		return Call{}, ErrUnauthorized
	}
	if call.Status != CallStatusPending && call.Status != CallStatusRinging {
		return Call{}, ErrInvalidState
	}

	updated, err := s.store.UpdateStatus(ctx, callID, CallStatusRejected, StatusUpdate{FailureReason: reason})
	if err != nil {
		return Call{}, err
	}

	if s.registry.Remove(callID) {
		utils.ActiveCallsGauge.Dec()
	}
	s.releaseSlots(ctx, call.CallerID, call.ReceiverID)

	utils.CallEventsTotal.WithLabelValues("reject", "ok").Inc()
	s.logAudit(ctx, audit.EventTypeCallRejected, user, callID, reason)
	s.log.Info("call rejected", "call_id", callID, "by", user, "reason", reason)
	return updated, nil
}

// End terminates a non-terminal call. Either participant may end it; the
// duration is zero when the call never reached accepted.
func (s *Service) End(ctx context.Context, userID, callID, reason string) (Call, error) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return Call{}, err
	}

	unlock := s.callLocks.Lock(callID)
	defer unlock()

	call, err := s.store.FindByID(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if call.CallerID != user && call.ReceiverID != user {
		return Call{}, ErrUnauthorized
	}
	if call.Status.IsTerminal() {
		return Call{}, ErrInvalidState
	}

	now := s.clock().UTC()
	duration := 0
	if call.StartTime != nil && now.After(*call.StartTime) {
		duration = int(now.Sub(*call.StartTime) / time.Second)
	}

	updated, err := s.store.MarkEnded(ctx, callID, now, duration, reason)
	if err != nil {
		return Call{}, err
	}

	if s.registry.Remove(callID) {
		utils.ActiveCallsGauge.Dec()
	}
	s.releaseSlots(ctx, call.CallerID, call.ReceiverID)

	utils.CallEventsTotal.WithLabelValues("end", "ok").Inc()
	s.logAudit(ctx, audit.EventTypeCallEnded, user, callID, reason)
	s.log.Info("call ended", "call_id", callID, "by", user, "duration_s", duration)
	return updated, nil
}

// UpdateParticipantStatus marks a participant ready or not ready in the
// active call entry. Silent no-op when the call or participant is gone: a
// departed participant's late update must not resurrect state.
func (s *Service) UpdateParticipantStatus(callID, userID string, ready bool) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return
	}
	s.registry.Update(callID, func(a *ActiveCall) {
		for i := range a.Participants {
			if a.Participants[i].UserID == user {
				a.Participants[i].Ready = ready
			}
		}
	})
}

// UpdateMediaStatus updates a participant's enabled tracks. Nil fields are
// left untouched. Silent no-op when the call or participant is absent.
func (s *Service) UpdateMediaStatus(callID, userID string, audio, video *bool) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return
	}
	s.registry.Update(callID, func(a *ActiveCall) {
		for i := range a.Participants {
			if a.Participants[i].UserID != user {
				continue
			}
			if audio != nil {
				a.Participants[i].Media.Audio = *audio
			}
			if video != nil {
				a.Participants[i].Media.Video = *video
			}
		}
	})
}

// ActiveCall returns a snapshot of the in-memory entry for callID.
func (s *Service) ActiveCall(callID string) (ActiveCall, bool) {
	return s.registry.Get(callID)
}

// UserActiveCalls lists the user's non-terminal calls from the durable
// store.
func (s *Service) UserActiveCalls(ctx context.Context, userID string) ([]Call, error) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListActiveByUser(ctx, user)
}

// History pages through the user's call records, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]Call, error) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.History(ctx, user, limit, offset)
}

// CallForUser fetches one durable call record, in any state. Only the two
// participants may see it.
func (s *Service) CallForUser(ctx context.Context, userID, callID string) (Call, error) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return Call{}, err
	}
	call, err := s.store.FindByID(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if call.CallerID != user && call.ReceiverID != user {
		return Call{}, ErrUnauthorized
	}
	return call, nil
}

// Statistics aggregates the user's call history.
func (s *Service) Statistics(ctx context.Context, userID string) (Statistics, error) {
	user, err := identity.Resolve(userID)
	if err != nil {
		return Statistics{}, err
	}
	return s.store.Statistics(ctx, user)
}

func (s *Service) acquireSlots(ctx context.Context, caller, receiver string) bool {
	if s.guard == nil {
		return true
	}
	ok, err := s.guard.Acquire(ctx, caller)
	if err != nil {
		// Guard is advisory; redis trouble must not block calls.
		s.log.Warn("session guard acquire failed", "user", caller, "err", err)
		return true
	}
	if !ok {
		return false
	}
	ok, err = s.guard.Acquire(ctx, receiver)
	if err != nil {
		s.log.Warn("session guard acquire failed", "user", receiver, "err", err)
		return true
	}
	if !ok {
		_ = s.guard.Release(ctx, caller)
		return false
	}
	return true
}

func (s *Service) releaseSlots(ctx context.Context, caller, receiver string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Release(ctx, caller); err != nil {
		s.log.Warn("session guard release failed", "user", caller, "err", err)
	}
	if err := s.guard.Release(ctx, receiver); err != nil {
		s.log.Warn("session guard release failed", "user", receiver, "err", err)
	}
}

func (s *Service) logAudit(ctx context.Context, typ audit.EventType, actor, callID, reason string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogCallEvent(ctx, typ, actor, callID, reason); err != nil {
		s.log.Warn("audit append failed", "call_id", callID, "type", typ, "err", err)
	}
}
