package calls

import "sync"

// Registry is the in-memory index of calls that have not reached a terminal
// state. The outer lock only guards map shape; each entry carries its own
// mutex so read-modify-write cycles on one call never serialize against
// unrelated calls.
//
// The registry is owned by the composition root and injected wherever it is
// needed; it is not a package-level singleton so tests can run isolated
// instances.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	mu   sync.Mutex
	call ActiveCall
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Put inserts or replaces the entry for a call.
func (r *Registry) Put(call ActiveCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[call.CallID] = &registryEntry{call: call.clone()}
}

// Get returns a snapshot copy of the entry. Mutating the copy does not
// affect the registry.
func (r *Registry) Get(callID string) (ActiveCall, bool) {
	r.mu.RLock()
	e, ok := r.entries[callID]
	r.mu.RUnlock()
	if !ok {
		return ActiveCall{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call.clone(), true
}

// Update runs fn on the entry under its per-entry lock. It reports whether
// the entry existed; a missing call is a silent no-op for callers that must
// tolerate late updates from departed participants.
func (r *Registry) Update(callID string, fn func(*ActiveCall)) bool {
	r.mu.RLock()
	e, ok := r.entries[callID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.call)
	return true
}

// Remove drops the entry and reports whether it existed.
func (r *Registry) Remove(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[callID]
	delete(r.entries, callID)
	return ok
}

// IsParticipant reports whether userID is a participant of the call.
func (r *Registry) IsParticipant(callID, userID string) bool {
	entry, ok := r.Get(callID)
	if !ok {
		return false
	}
	_, ok = entry.Participant(userID)
	return ok
}

// IDs returns a snapshot of all registered call ids. The set may change
// while the caller iterates; per-call revalidation is the caller's job.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
