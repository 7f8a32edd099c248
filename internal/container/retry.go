// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

// RetryTransient runs op up to maxAttempts times with exponential backoff,
// retrying only errors IsTransientError classifies as retryable. It checks
// ctx between attempts so a cancelled caller stops waiting immediately.
func RetryTransient(ctx context.Context, maxAttempts int, baseBackoff time.Duration, op func() error) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("retry aborted: %w", err)
			}
			time.Sleep(baseBackoff * time.Duration(1<<(attempt-1)))
		}

		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
