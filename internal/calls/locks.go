package calls

import (
	"sort"
	"sync"
)

// keyedMutex provides one mutex per string key so operations on the same
// call (or user) serialize without a global lock across unrelated calls.
// Entries are refcounted and removed when the last holder unlocks.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedLock{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// LockPair acquires the mutexes for two keys in sorted order, so concurrent
// pair acquisitions cannot deadlock. Equal keys are locked once.
func (k *keyedMutex) LockPair(a, b string) func() {
	if a == b {
		return k.Lock(a)
	}
	keys := []string{a, b}
	sort.Strings(keys)
	first := k.Lock(keys[0])
	second := k.Lock(keys[1])
	return func() {
		second()
		first()
	}
}
