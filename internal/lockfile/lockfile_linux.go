// SPDX-License-Identifier: MPL-2.0

//go:build linux

// Package lockfile provides cross-process mutual exclusion through advisory
// file locks. The slot registry and image cache stores are shared truth
// across agentbox processes; their writers hold a flock scoped to the slot
// or fingerprint so two processes never race on the same key.
package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds a blocking exclusive flock on a file. The zero-byte lock file is
// harmless if orphaned: the kernel releases the flock automatically when the
// fd is closed, including on process crash.
type Lock struct {
	file *os.File
}

// Acquire opens (or creates) the lock file at path and takes a blocking
// exclusive flock on it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Release unlocks the flock and closes the file descriptor. Safe to call
// multiple times; subsequent calls are no-ops.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
