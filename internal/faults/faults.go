package faults

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports invalid input or configuration. Never retryable;
// the phase aborts immediately with the offending field named.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("validation failed: %s", e.Msg)
}

// NewValidation creates a validation error for a named field.
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// StateError reports a missing or corrupt workflow state record.
type StateError struct {
	WorkflowID string
	Msg        string
	Err        error
}

func (e *StateError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("workflow state %s: %s", e.WorkflowID, e.Msg)
	}
	return fmt.Sprintf("workflow state: %s", e.Msg)
}

func (e *StateError) Unwrap() error { return e.Err }

// GitError reports a version-control command that exited non-zero. The
// captured stderr is surfaced verbatim; the orchestrator decides whether
// the operation is worth retrying.
type GitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed (exit %d)", e.Command, e.ExitCode)
}

func (e *GitError) Unwrap() error { return e.Err }

// HostAPIError reports a hosting-provider API failure. Rate-limited
// responses are retryable with bounded backoff and may carry a
// server-provided retry-after hint; everything else is not retried.
type HostAPIError struct {
	Operation   string
	StatusCode  int
	RateLimited bool
	RetryAfter  time.Duration
	Err         error
}

func (e *HostAPIError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s rate limited (status %d, retry after %s)", e.Operation, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *HostAPIError) Unwrap() error { return e.Err }

// AgentErrorKind distinguishes coding-agent invocation failures.
type AgentErrorKind string

const (
	// AgentTimeout means the agent process exceeded its wall-clock limit.
	AgentTimeout AgentErrorKind = "timeout"
	// AgentResourceLimit means the agent ran out of context or tokens;
	// the remedy is to chunk the request, not to retry it blindly.
	AgentResourceLimit AgentErrorKind = "resource_limit"
	// AgentGeneric covers every other agent failure.
	AgentGeneric AgentErrorKind = "generic"
)

// AgentError reports a coding-agent invocation failure.
type AgentError struct {
	Kind      AgentErrorKind
	SessionID string
	Msg       string
	Err       error
}

func (e *AgentError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("agent %s (session %s): %s", e.Kind, e.SessionID, e.Msg)
	}
	return fmt.Sprintf("agent %s: %s", e.Kind, e.Msg)
}

func (e *AgentError) Unwrap() error { return e.Err }

// FilesystemError reports a failed file operation. Non-retryable,
// surfaced as-is.
type FilesystemError struct {
	Path string
	Op   string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Retryable reports whether err may be retried at all. Only rate-limited
// hosting-API errors qualify; everything else aborts the phase.
func Retryable(err error) bool {
	var hostErr *HostAPIError
	if errors.As(err, &hostErr) {
		return hostErr.RateLimited
	}
	return false
}

// RetryAfter extracts the server-provided backoff hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var hostErr *HostAPIError
	if errors.As(err, &hostErr) && hostErr.RateLimited && hostErr.RetryAfter > 0 {
		return hostErr.RetryAfter, true
	}
	return 0, false
}

// ShouldChunk reports whether the failed request should be split into
// smaller pieces before any further attempt.
func ShouldChunk(err error) bool {
	var agentErr *AgentError
	return errors.As(err, &agentErr) && agentErr.Kind == AgentResourceLimit
}
