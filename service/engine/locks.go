package engine

import "sync"

// keyedMutex provides a per-instance exclusive critical section spanning
// read, compute, persist and audit emission. Entries are reference counted
// and removed once the last holder releases, so the map does not grow with
// the number of instances ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*lockEntry{}}
}

// lock acquires the mutex for id and returns its release function.
func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	entry := k.locks[id]
	if entry == nil {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
