// Package toolrunner executes the opaque action specs attached to plan
// steps. The executor core never inspects what a tool does; it only cares
// about the result payload and the failure taxonomy defined here.
package toolrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies tool failures. Transient failures are retried,
// the other kinds fail the plan.
type ErrorKind string

const (
	KindTransient    ErrorKind = "transient"
	KindPermanent    ErrorKind = "permanent"
	KindInvalidInput ErrorKind = "invalid_input"
)

// ToolError is the structured failure returned by an Invoker.
type ToolError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool error (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("tool error (%s): %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Transient builds a retryable tool error.
func Transient(message string, cause error) *ToolError {
	return &ToolError{Kind: KindTransient, Message: message, Err: cause}
}

// Permanent builds a non-retryable tool error.
func Permanent(message string, cause error) *ToolError {
	return &ToolError{Kind: KindPermanent, Message: message, Err: cause}
}

// InvalidInput builds a tool error for a malformed action spec.
func InvalidInput(message string, cause error) *ToolError {
	return &ToolError{Kind: KindInvalidInput, Message: message, Err: cause}
}

// KindOf extracts the failure kind from an invocation error. Timeouts
// count as transient; anything unclassified is permanent.
func KindOf(err error) ErrorKind {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindPermanent
}

// Invoker runs one action spec to completion. Implementations must honor
// ctx cancellation and deadlines, and must treat the idempotency token as
// the dedupe key for any non-idempotent side effect: the same token means
// the same logical attempt, even across process restarts.
type Invoker interface {
	Invoke(ctx context.Context, actionSpec json.RawMessage, idempotencyToken string) (string, error)
}
