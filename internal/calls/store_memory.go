package calls

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-platform/internal/identity"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and early development.
// It enforces the same transition guarantees as the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]Call
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]Call), clock: time.Now}
}

// SetClock overrides the timestamp source for deterministic tests.
func (m *MemoryStore) SetClock(clock func() time.Time) { m.clock = clock }

func (m *MemoryStore) Create(ctx context.Context, c Call) (Call, error) {
	caller, err := identity.Resolve(c.CallerID)
	if err != nil {
		return Call{}, err
	}
	receiver, err := identity.Resolve(c.ReceiverID)
	if err != nil {
		return Call{}, err
	}
	c.CallerID = caller
	c.ReceiverID = receiver

	now := m.clock().UTC()
	if c.CallID == "" {
		c.CallID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CallStatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.calls[c.CallID]; exists {
		return Call{}, fmt.Errorf("%w: duplicate call id %s", ErrStorageUnavailable, c.CallID)
	}
	m.calls[c.CallID] = c
	return c, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, callID string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	return c, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, callID string, next CallStatus, upd StatusUpdate) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	if !c.Status.CanTransitionTo(next) {
		return Call{}, ErrInvalidState
	}
	c.Status = next
	if upd.StartTime != nil {
		t := upd.StartTime.UTC()
		c.StartTime = &t
	}
	if upd.FailureReason != "" {
		c.FailureReason = upd.FailureReason
	}
	c.UpdatedAt = m.clock().UTC()
	m.calls[callID] = c
	return c, nil
}

func (m *MemoryStore) MarkEnded(ctx context.Context, callID string, endTime time.Time, durationSeconds int, reason string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	if !c.Status.CanTransitionTo(CallStatusEnded) {
		return Call{}, ErrInvalidState
	}
	t := endTime.UTC()
	c.Status = CallStatusEnded
	c.EndTime = &t
	c.DurationSeconds = durationSeconds
	if reason != "" {
		c.FailureReason = reason
	}
	c.UpdatedAt = m.clock().UTC()
	m.calls[callID] = c
	return c, nil
}

func (m *MemoryStore) ListActiveByUser(ctx context.Context, userID string) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range m.calls {
		if c.Status.IsTerminal() {
			continue
		}
		if c.CallerID == userID || c.ReceiverID == userID {
			out = append(out, c)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (m *MemoryStore) ListStaleActive(ctx context.Context, before time.Time) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range m.calls {
		if c.Status.IsTerminal() {
			continue
		}
		if c.CreatedAt.Before(before) {
			out = append(out, c)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit, offset int) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Call, 0)
	for _, c := range m.calls {
		if c.CallerID == userID || c.ReceiverID == userID {
			all = append(all, c)
		}
	}
	sortByCreatedDesc(all)

	if offset >= len(all) {
		return []Call{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) Statistics(ctx context.Context, userID string) (Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out Statistics
	for _, c := range m.calls {
		if c.CallerID != userID && c.ReceiverID != userID {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		switch c.Status {
		case CallStatusEnded:
			out.SuccessfulCalls++
		case CallStatusFailed, CallStatusRejected, CallStatusMissed:
			out.FailedCalls++
		}
	}
	if out.SuccessfulCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.SuccessfulCalls
	}
	return out, nil
}

func sortByCreatedDesc(cs []Call) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CallID > cs[j].CallID
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}
