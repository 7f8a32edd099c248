// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"net"
	"strings"
)

// IsTransientError reports whether err is a transient engine failure that
// may succeed on retry: daemon connection glitches, network timeouts
// during image pulls, and storage driver races. Context cancellation and
// deadline errors are explicitly non-transient because retrying a
// cancelled operation is never useful.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()

	// Daemon connection failures, including socket races right after
	// the daemon restarts.
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "unexpected EOF") {
		return true
	}

	// Registry and in-build network errors.
	if strings.Contains(errStr, "Temporary failure resolving") ||
		strings.Contains(errStr, "Could not resolve host") ||
		strings.Contains(errStr, "TLS handshake timeout") ||
		strings.Contains(errStr, "connection timed out") {
		return true
	}

	// Storage driver races under concurrent builds.
	if strings.Contains(errStr, "error creating overlay mount") ||
		strings.Contains(errStr, "error mounting layer") {
		return true
	}

	return false
}
