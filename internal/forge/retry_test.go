package forge

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
)

func respWithStatus(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func respRateLimited(code int, reset time.Time) *github.Response {
	resp := respWithStatus(code)
	resp.Rate = github.Rate{Limit: 5000, Remaining: 0, Reset: github.Timestamp{Time: reset}}
	return resp
}

func TestIsRetryableError(t *testing.T) {
	err := errors.New("boom")

	tests := []struct {
		name string
		resp *github.Response
		want bool
	}{
		{"too many requests", respWithStatus(http.StatusTooManyRequests), true},
		{"internal server error", respWithStatus(http.StatusInternalServerError), true},
		{"bad gateway", respWithStatus(http.StatusBadGateway), true},
		{"service unavailable", respWithStatus(http.StatusServiceUnavailable), true},
		{"gateway timeout", respWithStatus(http.StatusGatewayTimeout), true},
		{"bad request", respWithStatus(http.StatusBadRequest), false},
		{"unauthorized", respWithStatus(http.StatusUnauthorized), false},
		{"plain forbidden", respWithStatus(http.StatusForbidden), false},
		{"forbidden with rate info", respRateLimited(http.StatusForbidden, time.Now()), true},
		{"not found", respWithStatus(http.StatusNotFound), false},
		{"unprocessable", respWithStatus(http.StatusUnprocessableEntity), false},
		{"network error without response", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(err, tt.resp))
		})
	}

	assert.False(t, isRetryableError(nil, respWithStatus(http.StatusInternalServerError)))
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, isRateLimitError(respWithStatus(http.StatusTooManyRequests)))
	assert.True(t, isRateLimitError(respRateLimited(http.StatusForbidden, time.Now())))
	assert.False(t, isRateLimitError(respWithStatus(http.StatusForbidden)))
	assert.False(t, isRateLimitError(nil))
}

func TestRateLimitBackoff(t *testing.T) {
	max := 30 * time.Second

	// No rate info: generous default.
	assert.Equal(t, time.Minute, rateLimitBackoff(respWithStatus(http.StatusTooManyRequests), max))

	// Reset in the past: minimal wait.
	past := respRateLimited(http.StatusForbidden, time.Now().Add(-time.Minute))
	assert.Equal(t, time.Second, rateLimitBackoff(past, max))

	// Distant reset is capped.
	far := respRateLimited(http.StatusForbidden, time.Now().Add(time.Hour))
	assert.Equal(t, max, rateLimitBackoff(far, max))
}

func TestAPIError_Classification(t *testing.T) {
	reset := time.Now().Add(10 * time.Second)
	herr := apiError("find_change_request", respRateLimited(http.StatusForbidden, reset), errors.New("rate limited"))

	assert.Equal(t, http.StatusForbidden, herr.StatusCode)
	assert.True(t, herr.RateLimited)
	assert.Greater(t, herr.RetryAfter, time.Duration(0))

	plain := apiError("fetch_issue", respWithStatus(http.StatusNotFound), errors.New("not found"))
	assert.False(t, plain.RateLimited)
	assert.Equal(t, http.StatusNotFound, plain.StatusCode)
}
