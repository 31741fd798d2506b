package cache

import "sync"

// keyedMutex sequences holders of the same key. Entries are reference
// counted and released once no holder or waiter remains.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*keyedEntry
}

type keyedEntry struct {
	sync.Mutex
	refs int
}

// Lock blocks until |key| is held, and returns its unlock func.
func (km *keyedMutex) Lock(key int64) func() {
	km.mu.Lock()
	if km.entries == nil {
		km.entries = make(map[int64]*keyedEntry)
	}
	var e, ok = km.entries[key]
	if !ok {
		e = new(keyedEntry)
		km.entries[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.Lock()

	return func() {
		e.Unlock()

		km.mu.Lock()
		if e.refs--; e.refs == 0 {
			delete(km.entries, key)
		}
		km.mu.Unlock()
	}
}
