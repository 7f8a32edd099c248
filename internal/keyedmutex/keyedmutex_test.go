// SPDX-License-Identifier: MPL-2.0

package keyedmutex

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := New()

	var counter int
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("slot-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 increments, got %d", counter)
	}
}

func TestLockIndependentKeys(t *testing.T) {
	m := New()

	unlockA := m.Lock("a")
	defer unlockA()

	// Locking a different key must not block even while "a" is held.
	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestEntriesDroppedWhenUncontended(t *testing.T) {
	m := New()

	unlock := m.Lock("fingerprint")
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry while held, got %d", m.Len())
	}
	unlock()

	if m.Len() != 0 {
		t.Errorf("expected entries to be dropped when uncontended, got %d", m.Len())
	}
}
