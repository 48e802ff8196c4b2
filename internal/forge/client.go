package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/devflowd/internal/config"
	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/devflowd/internal/forge"

// Issue is the subset of an issue the pipeline consumes.
type Issue struct {
	Number int
	Title  string
	Body   string
	Labels []string
	URL    string
}

// Client wraps the GitHub API for one repository.
type Client struct {
	gh      *github.Client
	owner   string
	repo    string
	base    string
	limiter *rate.Limiter
	retry   faults.RetryConfig
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewClient creates an authenticated client from config.
func NewClient(ctx context.Context, cfg config.ForgeConfig, logger *logging.Logger) (*Client, error) {
	if !cfg.Token.IsSet() {
		return nil, errors.New("forge token not set")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("forge owner and repo are required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))

	return newClient(gh, cfg, logger), nil
}

// newClient wires a client around a prebuilt API handle. Tests inject a
// handle pointed at a local server.
func newClient(gh *github.Client, cfg config.ForgeConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		gh:      gh,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		base:    cfg.BaseBranch,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   faults.RetryConfig{},
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}
}

// call paces and retries one API operation.
func (c *Client) call(ctx context.Context, operation string, op func() (*github.Response, error)) error {
	ctx, span := c.tracer.Start(ctx, "forge."+operation)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := retryAPICall(ctx, c.logger, c.retry, op)
	if err != nil {
		herr := apiError(operation, resp, err)
		span.RecordError(herr)
		return herr
	}
	return nil
}

// FetchIssue retrieves one issue.
func (c *Client) FetchIssue(ctx context.Context, number int) (*Issue, error) {
	var issue *github.Issue
	err := c.call(ctx, "fetch_issue", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = c.gh.Issues.Get(ctx, c.owner, c.repo, number)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return convertIssue(issue), nil
}

// ListOpenIssues returns the repository's open issues, oldest first.
func (c *Client) ListOpenIssues(ctx context.Context) ([]*Issue, error) {
	var raw []*github.Issue
	err := c.call(ctx, "list_open_issues", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, &github.IssueListByRepoOptions{
			State:     "open",
			Sort:      "created",
			Direction: "asc",
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	issues := make([]*Issue, 0, len(raw))
	for _, issue := range raw {
		// The issues API also returns pull requests; skip them.
		if issue.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(issue))
	}
	return issues, nil
}

// PostIssueComment appends a comment to an issue.
func (c *Client) PostIssueComment(ctx context.Context, number int, body string) error {
	return c.call(ctx, "post_issue_comment", func() (*github.Response, error) {
		_, resp, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
}

// FindChangeRequest looks for an open pull request with the given head
// branch. The result is tri-state; a failed lookup is reported as
// LookupFailed, never as NotFound.
func (c *Client) FindChangeRequest(ctx context.Context, branch string) LookupResult {
	var prs []*github.PullRequest
	err := c.call(ctx, "find_change_request", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		prs, resp, err = c.gh.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
			State: "open",
			Head:  c.owner + ":" + branch,
		})
		return resp, err
	})
	if err != nil {
		c.logger.Warn(ctx, "pull request lookup failed",
			zap.String("branch", branch),
			zap.Error(err),
		)
		return LookupResult{Outcome: LookupFailed, Reason: err.Error()}
	}

	if len(prs) == 0 {
		return LookupResult{Outcome: NotFound}
	}
	return LookupResult{Outcome: Found, URL: prs[0].GetHTMLURL()}
}

// CreateChangeRequest opens a pull request from branch onto the base
// branch and returns its URL. A 422 from the API usually means the pull
// request already exists; the caller resolves that with a fresh lookup.
func (c *Client) CreateChangeRequest(ctx context.Context, branch, title, body string) (string, error) {
	var pr *github.PullRequest
	err := c.call(ctx, "create_change_request", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
			Title: github.String(title),
			Head:  github.String(branch),
			Base:  github.String(c.base),
			Body:  github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}

	c.logger.Info(ctx, "opened pull request",
		zap.String("branch", branch),
		zap.String("url", pr.GetHTMLURL()),
	)
	return pr.GetHTMLURL(), nil
}

// AlreadyExists reports whether a create call failed because the pull
// request already exists.
func AlreadyExists(err error) bool {
	var herr *faults.HostAPIError
	return errors.As(err, &herr) && herr.StatusCode == http.StatusUnprocessableEntity
}

func convertIssue(issue *github.Issue) *Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.GetName())
	}
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		Labels: labels,
		URL:    issue.GetHTMLURL(),
	}
}
