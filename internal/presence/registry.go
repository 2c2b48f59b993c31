// Package presence tracks which users currently hold live gateway
// connections. A user is online while at least one connection is
// registered; connection ids come from the gateway and are opaque here.
package presence

import (
	"sync"

	"chat-platform/pkg/utils"
)

type Registry struct {
	mu sync.RWMutex
	// byUser maps canonical user id to the set of live connection ids.
	byUser map[string]map[string]struct{}
	// byConn maps connection id back to its user for O(1) disconnect.
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Connect registers a live connection for the user. Multiple connections
// per user are expected (several devices, several tabs).
func (r *Registry) Connect(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	if _, dup := set[connID]; dup {
		return
	}
	set[connID] = struct{}{}
	r.byConn[connID] = userID
	utils.ConnectedClientsGauge.Inc()
}

// Disconnect removes a connection and returns the user it belonged to.
// The user stays online while other connections remain.
func (r *Registry) Disconnect(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if set, ok := r.byUser[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
	utils.ConnectedClientsGauge.Dec()
	return userID, true
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionsOf returns a snapshot of the user's connection ids. The set
// may change the moment the lock is released; senders must tolerate stale
// ids.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// OnlineCount reports how many distinct users are online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
