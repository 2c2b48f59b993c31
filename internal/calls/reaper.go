package calls

import (
	"context"
	"log/slog"
	"time"

	"chat-platform/internal/audit"
	"chat-platform/pkg/utils"
)

// Reap causes, recorded as the failure reason on the forced transition.
const (
	ReapCauseRingTimeout = "ring_timeout"
	ReapCauseOrphaned    = "orphaned_session"
)

// Reaper force-fails calls that outlived their window: pending calls that
// nobody answered within the grace period, and any non-terminal call older
// than the orphan ceiling. It shares the service's store, registry and lock
// manager so forced transitions serialize with client transitions and
// happen exactly once.
type Reaper struct {
	svc            *Service
	pendingTimeout time.Duration
	maxCallAge     time.Duration
	interval       time.Duration
	log            *slog.Logger

	// OnReaped, when set, is invoked after a call is force-failed so the
	// gateway can notify surviving participants. Called outside the
	// per-call lock.
	OnReaped func(call Call, participants []Participant, cause string)
}

// ReaperConfig carries the reaper timing knobs.
type ReaperConfig struct {
	PendingTimeout time.Duration
	MaxCallAge     time.Duration
	Interval       time.Duration
}

func NewReaper(svc *Service, cfg ReaperConfig, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	r := &Reaper{
		svc:            svc,
		pendingTimeout: cfg.PendingTimeout,
		maxCallAge:     cfg.MaxCallAge,
		interval:       cfg.Interval,
		log:            log,
	}
	svc.SetReaper(r)
	return r
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep examines every known non-terminal call and reaps the expired ones.
// The candidate set is the union of the registry and the store's stale
// rows, so sessions leaked across a restart are still recovered.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.svc.clock().UTC()

	seen := make(map[string]struct{})
	reaped := 0
	for _, id := range r.svc.registry.IDs() {
		seen[id] = struct{}{}
		if r.reapIfExpired(ctx, id, now) {
			reaped++
		}
	}

	stale, err := r.svc.store.ListStaleActive(ctx, now.Add(-r.pendingTimeout))
	if err != nil {
		r.log.Warn("stale scan failed", "err", err)
		return reaped
	}
	for _, c := range stale {
		if _, ok := seen[c.CallID]; ok {
			continue
		}
		if r.reapIfExpired(ctx, c.CallID, now) {
			reaped++
		}
	}
	return reaped
}

// ReapUser reaps the expired calls a single user participates in. Invoked
// defensively from Initiate so a stuck session never blocks a fresh call
// for a full sweep interval.
func (r *Reaper) ReapUser(ctx context.Context, userID string) int {
	now := r.svc.clock().UTC()
	active, err := r.svc.store.ListActiveByUser(ctx, userID)
	if err != nil {
		r.log.Warn("user stale scan failed", "user", userID, "err", err)
		return 0
	}
	reaped := 0
	for _, c := range active {
		if r.reapIfExpired(ctx, c.CallID, now) {
			reaped++
		}
	}
	return reaped
}

// reapIfExpired re-reads the call under its lock, decides whether it is
// expired, and forces the FAILED transition. The store's transition guard
// makes the force idempotent: a concurrent client transition wins and the
// reap becomes a no-op.
func (r *Reaper) reapIfExpired(ctx context.Context, callID string, now time.Time) bool {
	unlock := r.svc.callLocks.Lock(callID)

	call, err := r.svc.store.FindByID(ctx, callID)
	if err != nil {
		// Row gone or storage down; drop any registry leftover.
		if r.svc.registry.Remove(callID) {
			utils.ActiveCallsGauge.Dec()
		}
		unlock()
		return false
	}
	if call.Status.IsTerminal() {
		if r.svc.registry.Remove(callID) {
			utils.ActiveCallsGauge.Dec()
		}
		unlock()
		return false
	}

	cause := r.expiryCause(call, now)
	if cause == "" {
		unlock()
		return false
	}

	if _, err := r.svc.store.UpdateStatus(ctx, callID, CallStatusFailed, StatusUpdate{FailureReason: cause}); err != nil {
		// Lost the race to a client transition, or storage is down.
		// Either way this reap did not happen.
		unlock()
		return false
	}

	var participants []Participant
	if entry, ok := r.svc.registry.Get(callID); ok {
		participants = entry.Participants
	}
	if r.svc.registry.Remove(callID) {
		utils.ActiveCallsGauge.Dec()
	}
	r.svc.releaseSlots(ctx, call.CallerID, call.ReceiverID)
	unlock()

	utils.ReapedCallsTotal.WithLabelValues(cause).Inc()
	r.svc.logAudit(ctx, audit.EventTypeCallReaped, "", callID, cause)
	r.log.Info("call reaped", "call_id", callID, "cause", cause, "status_was", call.Status)

	if r.OnReaped != nil {
		r.OnReaped(call, participants, cause)
	}
	return true
}

// expiryCause reports why a non-terminal call should be reaped, or "" when
// it is still within its window. Age is measured from creation so a long
// ring cannot extend the ceiling.
func (r *Reaper) expiryCause(call Call, now time.Time) string {
	age := now.Sub(call.CreatedAt)
	if age > r.maxCallAge {
		return ReapCauseOrphaned
	}
	if (call.Status == CallStatusPending || call.Status == CallStatusRinging) && age > r.pendingTimeout {
		return ReapCauseRingTimeout
	}
	return ""
}
