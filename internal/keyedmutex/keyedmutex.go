// SPDX-License-Identifier: MPL-2.0

// Package keyedmutex provides per-key mutual exclusion without a global lock.
// Unrelated keys never serialize against each other; a key's entry is created
// lazily on first use and dropped again once no goroutine holds or waits on it.
package keyedmutex

import "sync"

type (
	// Map is a collection of lazily-created mutexes keyed by string.
	// The zero value is not usable; create one with New.
	Map struct {
		mu      sync.Mutex
		entries map[string]*entry
	}

	entry struct {
		lock sync.Mutex
		refs int
	}
)

// New creates an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available, and
// returns the corresponding unlock function. The unlock function must be
// called exactly once.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.lock.Lock()

	return func() {
		e.lock.Unlock()

		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len reports the number of keys currently held or contended.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
