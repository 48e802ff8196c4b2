package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_NamesField(t *testing.T) {
	err := NewValidation("workflow_id", "must be non-empty")
	assert.Contains(t, err.Error(), "workflow_id")
	assert.Contains(t, err.Error(), "must be non-empty")
}

func TestGitError_SurfacesStderr(t *testing.T) {
	err := &GitError{Command: "git push", ExitCode: 128, Stderr: "remote: permission denied"}
	assert.Contains(t, err.Error(), "git push")
	assert.Contains(t, err.Error(), "permission denied")
	assert.Contains(t, err.Error(), "128")
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited host error", &HostAPIError{Operation: "list prs", StatusCode: 429, RateLimited: true}, true},
		{"generic host error", &HostAPIError{Operation: "list prs", StatusCode: 500}, false},
		{"validation error", NewValidation("issue", "bad"), false},
		{"agent timeout", &AgentError{Kind: AgentTimeout, Msg: "deadline"}, false},
		{"filesystem error", &FilesystemError{Path: "/x", Op: "write", Err: errors.New("disk full")}, false},
		{"wrapped rate limit", fmt.Errorf("outer: %w", &HostAPIError{RateLimited: true}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	hint, ok := RetryAfter(&HostAPIError{RateLimited: true, RetryAfter: 7 * time.Second})
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, hint)

	_, ok = RetryAfter(&HostAPIError{StatusCode: 500})
	assert.False(t, ok)
}

func TestShouldChunk(t *testing.T) {
	assert.True(t, ShouldChunk(&AgentError{Kind: AgentResourceLimit}))
	assert.False(t, ShouldChunk(&AgentError{Kind: AgentGeneric}))
	assert.False(t, ShouldChunk(errors.New("plain")))
}

func TestErrorsUnwrap(t *testing.T) {
	inner := errors.New("boom")
	var err error = &StateError{WorkflowID: "ADW-1", Msg: "corrupt", Err: inner}
	assert.ErrorIs(t, err, inner)

	err = &AgentError{Kind: AgentGeneric, Msg: "failed", Err: inner}
	assert.ErrorIs(t, err, inner)
}
