// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package lockfile

// Lock is the non-Linux stub. On macOS/Windows the Docker daemon runs inside
// a VM and agentbox invocations are effectively single-process per user, so
// the in-process keyed mutexes provide the available protection.
type Lock struct{}

// Acquire is a no-op on non-Linux platforms.
func Acquire(path string) (*Lock, error) {
	_ = path
	return &Lock{}, nil
}

// Release is a no-op on non-Linux platforms.
func (l *Lock) Release() {}
