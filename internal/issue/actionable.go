// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies which phase of a command failed. It drives both the
// error prefix shown to the user and the process exit code.
type Stage string

const (
	// StageConfig covers configuration loading, merging, and validation.
	StageConfig Stage = "config"
	// StageProfile covers profile resolution and build-plan compilation.
	StageProfile Stage = "profile"
	// StageBuild covers image builds and the image cache.
	StageBuild Stage = "build"
	// StageRuntime covers container runtime operations.
	StageRuntime Stage = "runtime"
	// StageAuth covers the authentication helper sub-flow.
	StageAuth Stage = "auth"
	// StageConflict covers slot provider conflicts.
	StageConflict Stage = "conflict"
)

// ExitCode maps a stage to the process exit code for that failure category.
// Config and profile errors are deterministic caller mistakes; build and
// runtime errors are retryable; conflicts and auth failures get their own
// codes so scripts can distinguish them.
func (s Stage) ExitCode() int {
	switch s {
	case StageConfig, StageProfile:
		return 2
	case StageBuild:
		return 3
	case StageConflict:
		return 4
	case StageAuth:
		return 5
	default:
		return 1
	}
}

type (
	// ActionableError is an error with context for user-facing messages:
	// the failed stage, the operation attempted, the resource involved, and
	// suggestions for fixing the issue.
	//
	// Use the ErrorContext builder for construction:
	//
	//	err := issue.NewErrorContext().
	//		WithStage(issue.StageConfig).
	//		WithOperation("load project configuration").
	//		WithResource(path).
	//		WithSuggestion("Run 'agentbox init' to create one").
	//		Wrap(originalErr).
	//		BuildError()
	ActionableError struct {
		// Stage is the failure category (config, profile, build, runtime, auth).
		Stage Stage

		// Operation describes what was being attempted.
		Operation string

		// Resource identifies the file, container, or entity involved (optional).
		Resource string

		// Suggestions provides hints on how to fix the issue (optional).
		Suggestions []string

		// Cause is the underlying error (optional).
		Cause error
	}

	// ErrorContext is a fluent builder for ActionableError values.
	ErrorContext struct {
		stage       Stage
		operation   string
		resource    string
		suggestions []string
		cause       error
	}
)

// NewErrorContext creates a new ErrorContext builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// WrapWithStage wraps err with a stage and operation. Shorthand for the
// common case where no resource or suggestions apply.
func WrapWithStage(err error, stage Stage, operation string) *ActionableError {
	if err == nil {
		return nil
	}
	return &ActionableError{Stage: stage, Operation: operation, Cause: err}
}

// Error implements the error interface. The stage prefix makes the failure
// category visible even in non-verbose output.
func (e *ActionableError) Error() string {
	var msg strings.Builder

	if e.Stage != "" {
		msg.WriteString(string(e.Stage))
		msg.WriteString(": ")
	}
	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)

	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}

	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}

	return msg.String()
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format returns the message with suggestions and, when verbose, the full
// error chain.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder

	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, suggestion := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(suggestion)
		}
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		err := e.Cause
		depth := 1
		for err != nil {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			err = errors.Unwrap(err)
			depth++
		}
	}

	return msg.String()
}

// ExitCodeFor returns the exit code for err: the stage code when err carries
// an ActionableError, 1 otherwise.
func ExitCodeFor(err error) int {
	var ae *ActionableError
	if errors.As(err, &ae) {
		return ae.Stage.ExitCode()
	}
	return 1
}

// WithStage sets the failure stage.
func (c *ErrorContext) WithStage(s Stage) *ErrorContext {
	c.stage = s
	return c
}

// WithOperation sets the operation being performed, as a verb phrase like
// "resolve configuration" or "start container".
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the resource (file, container, slot) involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithSuggestion adds a suggestion for how to fix the issue. Can be called
// multiple times.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.suggestions = append(c.suggestions, sug)
	return c
}

// Wrap sets the underlying error as the cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// Build creates an ActionableError from the context. Returns nil if no
// operation is set (operation is required).
func (c *ErrorContext) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}

	return &ActionableError{
		Stage:       c.stage,
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: c.suggestions,
		Cause:       c.cause,
	}
}

// BuildError creates an ActionableError and returns it as an error value,
// for direct use in return statements.
func (c *ErrorContext) BuildError() error {
	ae := c.Build()
	if ae == nil {
		return nil
	}
	return ae
}
