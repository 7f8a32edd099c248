// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"agentbox-cli/internal/issue"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE
// handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error renders the wrapped error, expanding actionable errors with their
// suggestions (and the full chain when --verbose is set).
func (e *ExitError) Error() string {
	var ae *issue.ActionableError
	if errors.As(e.Err, &ae) {
		return ae.Format(verbose)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}
