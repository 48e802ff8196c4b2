package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devflowd/internal/config"
	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

// newFakeForge points a Client at a local API server with fast retries.
func newFakeForge(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	c := newClient(gh, config.ForgeConfig{
		Owner:             "fyrsmithlabs",
		Repo:              "devflowd",
		BaseBranch:        "main",
		RequestsPerSecond: 1000,
	}, logging.NewNop())
	c.retry = faults.RetryConfig{
		MaxRetries:        1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	return c
}

func TestClient_FindChangeRequest_Found(t *testing.T) {
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/fyrsmithlabs/devflowd/pulls", r.URL.Path)
		assert.Equal(t, "fyrsmithlabs:feature/issue-42-auth", r.URL.Query().Get("head"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"number": 7, "html_url": "https://github.com/fyrsmithlabs/devflowd/pull/7"}]`)
	}))

	result := c.FindChangeRequest(context.Background(), "feature/issue-42-auth")
	assert.Equal(t, Found, result.Outcome)
	assert.Equal(t, "https://github.com/fyrsmithlabs/devflowd/pull/7", result.URL)
}

func TestClient_FindChangeRequest_NotFound(t *testing.T) {
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))

	result := c.FindChangeRequest(context.Background(), "feature/nothing-here")
	assert.Equal(t, NotFound, result.Outcome)
	assert.Empty(t, result.URL)
}

func TestClient_FindChangeRequest_LookupFailed(t *testing.T) {
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))

	result := c.FindChangeRequest(context.Background(), "feature/issue-42-auth")
	// A server failure is LookupFailed, never NotFound.
	assert.Equal(t, LookupFailed, result.Outcome)
	assert.NotEmpty(t, result.Reason)
}

func TestClient_CreateChangeRequest(t *testing.T) {
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/fyrsmithlabs/devflowd/pulls", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 8, "html_url": "https://github.com/fyrsmithlabs/devflowd/pull/8"}`)
	}))

	prURL, err := c.CreateChangeRequest(context.Background(), "feature/issue-42-auth", "Add auth", "Closes #42")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/fyrsmithlabs/devflowd/pull/8", prURL)
}

func TestClient_CreateChangeRequest_AlreadyExists(t *testing.T) {
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "A pull request already exists"}`)
	}))

	_, err := c.CreateChangeRequest(context.Background(), "feature/issue-42-auth", "Add auth", "")
	require.Error(t, err)
	assert.True(t, AlreadyExists(err))
}

func TestClient_FetchIssue(t *testing.T) {
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/fyrsmithlabs/devflowd/issues/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"number": 42, "title": "Add login", "body": "Please add login", "labels": [{"name": "feature"}]}`)
	}))

	issue, err := c.FetchIssue(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, issue.Number)
	assert.Equal(t, "Add login", issue.Title)
	assert.Equal(t, []string{"feature"}, issue.Labels)
}

func TestClient_ListOpenIssues_SkipsPullRequests(t *testing.T) {
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"number": 1, "title": "Real issue"},
			{"number": 2, "title": "A PR", "pull_request": {"url": "https://api.github.com/x"}}
		]`)
	}))

	issues, err := c.ListOpenIssues(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 1, issues[0].Number)
}

func TestClient_RetriesTransientFailure(t *testing.T) {
	calls := 0
	c := newFakeForge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"number": 42, "title": "Add login"}`)
	}))

	issue, err := c.FetchIssue(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 42, issue.Number)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(context.Background(), config.ForgeConfig{}, nil)
	assert.Error(t, err)

	_, err = NewClient(context.Background(), config.ForgeConfig{Token: config.Secret("tok")}, nil)
	assert.Error(t, err)
}
