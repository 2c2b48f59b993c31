package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-platform/pkg/utils"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakePresence(users ...string) *fakePresence {
	p := &fakePresence{online: make(map[string]bool)}
	for _, u := range users {
		p.online[u] = true
	}
	return p
}

func (p *fakePresence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *fakePresence) set(userID string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = on
}

func newTestService(t *testing.T, online ...string) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	fixed := time.Unix(1700000000, 0).UTC()
	store.SetClock(func() time.Time { return fixed })
	svc := NewService(store, NewRegistry(), newFakePresence(online...), ServiceOptions{})
	svc.clock = func() time.Time { return fixed }
	return svc, store
}

func TestInitiateCreatesPendingCall(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")

	call, err := svc.Initiate(context.Background(), "alice", "bob", CallTypeVideo, "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if call.Status != CallStatusPending {
		t.Fatalf("expected pending, got %s", call.Status)
	}
	if call.CallerID != "alice" || call.ReceiverID != "bob" {
		t.Fatalf("unexpected parties: %+v", call)
	}

	active, ok := svc.ActiveCall(call.CallID)
	if !ok {
		t.Fatalf("expected registry entry")
	}
	if len(active.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(active.Participants))
	}
	for _, p := range active.Participants {
		if p.Ready {
			t.Fatalf("participants must start not ready")
		}
		if !p.Media.Audio || !p.Media.Video {
			t.Fatalf("video call should start with both tracks enabled: %+v", p.Media)
		}
	}
}

func TestInitiateRejectsSelfCall(t *testing.T) {
	svc, _ := newTestService(t, "alice")
	if _, err := svc.Initiate(context.Background(), "alice", `{"_id":"alice"}`, CallTypeVoice, ""); !errors.Is(err, ErrSelfCall) {
		t.Fatalf("expected ErrSelfCall, got %v", err)
	}
}

func TestInitiateOfflineReceiverLeavesNoRecord(t *testing.T) {
	svc, store := newTestService(t, "alice")

	_, err := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")
	if !errors.Is(err, ErrReceiverUnavailable) {
		t.Fatalf("expected ErrReceiverUnavailable, got %v", err)
	}
	if calls, _ := store.History(context.Background(), "alice", 10, 0); len(calls) != 0 {
		t.Fatalf("rejected initiate must leave no record, found %d", len(calls))
	}
	if svc.registry.Len() != 0 {
		t.Fatalf("registry must be empty")
	}
}

func TestInitiateSecondCallBlocked(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob", "carol")

	if _, err := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, ""); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	if _, err := svc.Initiate(context.Background(), "alice", "carol", CallTypeVoice, ""); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("busy caller: expected ErrAlreadyActive, got %v", err)
	}
	if _, err := svc.Initiate(context.Background(), "carol", "bob", CallTypeVoice, ""); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("busy receiver: expected ErrAlreadyActive, got %v", err)
	}
}

func TestAcceptOnlyReceiver(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")

	if _, err := svc.Accept(context.Background(), "alice", call.CallID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("caller accept: expected ErrUnauthorized, got %v", err)
	}

	// Receiver identity may arrive as an expanded object.
	updated, err := svc.Accept(context.Background(), `{"_id":"bob","username":"bob"}`, call.CallID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if updated.Status != CallStatusAccepted {
		t.Fatalf("expected accepted, got %s", updated.Status)
	}
	if updated.StartTime == nil {
		t.Fatalf("accept must set start time")
	}

	active, _ := svc.ActiveCall(call.CallID)
	p, _ := active.Participant("bob")
	if !p.Ready {
		t.Fatalf("accepting participant must be marked ready")
	}
}

func TestAcceptRejectRaceExactlyOneWins(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(context.Background(), "bob", call.CallID)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Reject(context.Background(), "bob", call.CallID, "busy")
		results <- err
	}()
	wg.Wait()
	close(results)

	var okCount, invalidCount int
	for err := range results {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrInvalidState):
			invalidCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || invalidCount != 1 {
		t.Fatalf("expected exactly one winner, ok=%d invalid=%d", okCount, invalidCount)
	}
}

func TestRejectClearsActiveState(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")

	updated, err := svc.Reject(context.Background(), "bob", call.CallID, "busy")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.Status != CallStatusRejected || updated.FailureReason != "busy" {
		t.Fatalf("unexpected record: %+v", updated)
	}
	if _, ok := svc.ActiveCall(call.CallID); ok {
		t.Fatalf("rejected call must leave the registry")
	}

	// Both parties are free again.
	if _, err := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, ""); err != nil {
		t.Fatalf("re-initiate after reject: %v", err)
	}
	active, _ := store.ListActiveByUser(context.Background(), "alice")
	if len(active) != 1 {
		t.Fatalf("expected one active call, got %d", len(active))
	}
}

func TestRejectAfterAcceptIsInvalid(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")
	if _, err := svc.Accept(context.Background(), "bob", call.CallID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Reject(context.Background(), "bob", call.CallID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEndNeverAcceptedHasZeroDuration(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")

	ended, err := svc.End(context.Background(), "alice", call.CallID, "changed my mind")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != CallStatusEnded {
		t.Fatalf("expected ended, got %s", ended.Status)
	}
	if ended.DurationSeconds != 0 {
		t.Fatalf("never-accepted call must have zero duration, got %d", ended.DurationSeconds)
	}
}

func TestEndAcceptedComputesDuration(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	base := time.Unix(1700000000, 0).UTC()
	now := base
	clock := func() time.Time { return now }
	svc.clock = clock
	store.SetClock(clock)

	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")
	if _, err := svc.Accept(context.Background(), "bob", call.CallID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	now = base.Add(95 * time.Second)
	ended, err := svc.End(context.Background(), "bob", call.CallID, "")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.DurationSeconds != 95 {
		t.Fatalf("expected 95s duration, got %d", ended.DurationSeconds)
	}
	if ended.EndTime == nil || !ended.EndTime.Equal(now) {
		t.Fatalf("unexpected end time: %v", ended.EndTime)
	}
}

func TestEndByStranger(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")
	if _, err := svc.End(context.Background(), "mallory", call.CallID, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEndTwiceIsInvalid(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")
	if _, err := svc.End(context.Background(), "alice", call.CallID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := svc.End(context.Background(), "bob", call.CallID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAcceptUnknownCall(t *testing.T) {
	svc, _ := newTestService(t, "bob")
	if _, err := svc.Accept(context.Background(), "bob", "no-such-call"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestMediaAndParticipantUpdatesAreSilentWhenGone(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob")
	call, _ := svc.Initiate(context.Background(), "alice", "bob", CallTypeVoice, "")

	off := false
	svc.UpdateMediaStatus(call.CallID, "alice", &off, nil)
	active, _ := svc.ActiveCall(call.CallID)
	p, _ := active.Participant("alice")
	if p.Media.Audio {
		t.Fatalf("audio should be off")
	}

	// After the call ends, late updates must not resurrect state.
	if _, err := svc.End(context.Background(), "alice", call.CallID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	svc.UpdateParticipantStatus(call.CallID, "bob", true)
	svc.UpdateMediaStatus(call.CallID, "bob", &off, &off)
	if _, ok := svc.ActiveCall(call.CallID); ok {
		t.Fatalf("terminal call must stay out of the registry")
	}
}

func TestHistoryPagination(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	base := time.Unix(1700000000, 0).UTC()
	i := 0
	clock := func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	}
	svc.clock = clock
	store.SetClock(clock)

	ctx := context.Background()
	for n := 0; n < 5; n++ {
		call, err := svc.Initiate(ctx, "alice", "bob", CallTypeVoice, "")
		if err != nil {
			t.Fatalf("initiate %d: %v", n, err)
		}
		if _, err := svc.End(ctx, "alice", call.CallID, ""); err != nil {
			t.Fatalf("end %d: %v", n, err)
		}
	}

	page, err := svc.History(ctx, "alice", 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page))
	}
	rest, _ := svc.History(ctx, "alice", 10, 2)
	if len(rest) != 3 {
		t.Fatalf("expected 3 remaining records, got %d", len(rest))
	}
	// Newest first.
	if !page[0].CreatedAt.After(page[1].CreatedAt) {
		t.Fatalf("history must be newest first")
	}
}

func TestStatisticsAggregation(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	base := time.Unix(1700000000, 0).UTC()
	now := base
	clock := func() time.Time { return now }
	svc.clock = clock
	store.SetClock(clock)

	ctx := context.Background()

	// One successful 60s call.
	call, _ := svc.Initiate(ctx, "alice", "bob", CallTypeVoice, "")
	if _, err := svc.Accept(ctx, "bob", call.CallID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	now = now.Add(60 * time.Second)
	if _, err := svc.End(ctx, "alice", call.CallID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}

	// One rejected call.
	now = now.Add(time.Minute)
	call2, _ := svc.Initiate(ctx, "alice", "bob", CallTypeVoice, "")
	if _, err := svc.Reject(ctx, "bob", call2.CallID, "busy"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	stats, err := svc.Statistics(ctx, "alice")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalCalls != 2 || stats.SuccessfulCalls != 1 || stats.FailedCalls != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalDurationSeconds != 60 || stats.AverageDurationSeconds != 60 {
		t.Fatalf("unexpected durations: %+v", stats)
	}
}

func TestEndStoreOnlyCallKeepsGaugeBalanced(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	ctx := context.Background()

	// A durable row with no registry entry, as after a process restart.
	created, err := store.Create(ctx, Call{CallerID: "alice", ReceiverID: "bob", CallType: CallTypeVoice, Status: CallStatusPending})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	before := testutil.ToFloat64(utils.ActiveCallsGauge)
	if _, err := svc.End(ctx, "alice", created.CallID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	if after := testutil.ToFloat64(utils.ActiveCallsGauge); after != before {
		t.Fatalf("gauge moved from %v to %v ending a call that was not in the registry", before, after)
	}

	got, err := store.FindByID(ctx, created.CallID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != CallStatusEnded {
		t.Fatalf("expected ended, got %s", got.Status)
	}
}
