// Package finalize publishes a workflow's branch: push, then make sure
// exactly one pull request exists for it.
package finalize

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/forge"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

const instrumentationName = "github.com/fyrsmithlabs/devflowd/internal/finalize"

// BranchPusher uploads a branch to the shared remote.
type BranchPusher interface {
	Push(ctx context.Context, branch string) (bool, error)
}

// ChangeRequestAPI is the slice of the forge the publisher needs.
type ChangeRequestAPI interface {
	FindChangeRequest(ctx context.Context, branch string) forge.LookupResult
	CreateChangeRequest(ctx context.Context, branch, title, body string) (string, error)
	PostIssueComment(ctx context.Context, number int, body string) error
}

// PublishOutcome classifies a finalization attempt.
type PublishOutcome string

const (
	// Existing: a pull request for the branch was already open.
	Existing PublishOutcome = "existing"
	// Created: a new pull request was opened.
	Created PublishOutcome = "created"
	// Failed: push or lookup failed; nothing was created.
	Failed PublishOutcome = "failed"
)

// PublishResult reports what finalization did.
type PublishResult struct {
	Outcome PublishOutcome
	URL     string
	Reason  string
}

// PublishRequest carries the workflow state plus pull request content.
type PublishRequest struct {
	State *workflowstate.State
	Title string
	Body  string
}

// Publisher drives push-then-ensure-pull-request finalization.
type Publisher struct {
	git    BranchPusher
	api    ChangeRequestAPI
	logger *logging.Logger
	tracer trace.Tracer
}

// NewPublisher wires a publisher from its collaborators.
func NewPublisher(git BranchPusher, api ChangeRequestAPI, logger *logging.Logger) (*Publisher, error) {
	if git == nil {
		return nil, fmt.Errorf("branch pusher is required")
	}
	if api == nil {
		return nil, fmt.Errorf("change request API is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		git:    git,
		api:    api,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Publish pushes the branch and makes sure exactly one pull request
// exists for it. Idempotent: an existing pull request short-circuits
// creation, and an undetermined lookup refuses to create rather than
// risk a duplicate.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	ctx, span := p.tracer.Start(ctx, "finalize.publish")
	defer span.End()

	if req.State == nil {
		return PublishResult{}, faults.NewValidation("state", "must not be nil")
	}
	branch := req.State.BranchName
	if branch == "" {
		return PublishResult{}, faults.NewValidation(workflowstate.FieldBranchName, "must not be empty")
	}
	span.SetAttributes(
		attribute.String("workflow_id", req.State.WorkflowID),
		attribute.String("branch", branch),
	)

	if ok, err := p.git.Push(ctx, branch); !ok {
		reason := "push failed"
		if err != nil {
			reason = err.Error()
		}
		span.SetStatus(codes.Error, reason)
		p.logger.Error(ctx, "branch push failed",
			zap.String("branch", branch),
			zap.Error(err),
		)
		return PublishResult{Outcome: Failed, Reason: reason}, nil
	}

	lookup := p.api.FindChangeRequest(ctx, branch)
	switch lookup.Outcome {
	case forge.Found:
		p.logger.Info(ctx, "pull request already open",
			zap.String("branch", branch),
			zap.String("url", lookup.URL),
		)
		result := PublishResult{Outcome: Existing, URL: lookup.URL}
		p.comment(ctx, req.State, result)
		return result, nil

	case forge.LookupFailed:
		// Cannot tell whether a pull request exists. Creating one
		// here could duplicate it, so report failure instead.
		span.SetStatus(codes.Error, lookup.Reason)
		return PublishResult{Outcome: Failed, Reason: "lookup failed: " + lookup.Reason}, nil
	}

	url, err := p.api.CreateChangeRequest(ctx, branch, req.Title, req.Body)
	if err != nil {
		if forge.AlreadyExists(err) {
			// Lost a race with another finalizer; resolve the winner.
			if again := p.api.FindChangeRequest(ctx, branch); again.Outcome == forge.Found {
				result := PublishResult{Outcome: Existing, URL: again.URL}
				p.comment(ctx, req.State, result)
				return result, nil
			}
		}
		span.SetStatus(codes.Error, err.Error())
		return PublishResult{Outcome: Failed, Reason: err.Error()}, nil
	}

	p.logger.Info(ctx, "pull request created",
		zap.String("branch", branch),
		zap.String("url", url),
	)
	result := PublishResult{Outcome: Created, URL: url}
	p.comment(ctx, req.State, result)
	return result, nil
}

// comment posts the pull request URL back to the originating issue.
// Best effort: a failed comment never fails finalization.
func (p *Publisher) comment(ctx context.Context, state *workflowstate.State, result PublishResult) {
	if state.IssueRef == "" {
		return
	}
	number, err := strconv.Atoi(state.IssueRef)
	if err != nil {
		p.logger.Warn(ctx, "issue reference is not a number, skipping comment",
			zap.String("issue_reference", state.IssueRef),
		)
		return
	}

	var body string
	switch result.Outcome {
	case Created:
		body = fmt.Sprintf("Opened pull request for workflow `%s`: %s", state.WorkflowID, result.URL)
	case Existing:
		body = fmt.Sprintf("Workflow `%s` updated the existing pull request: %s", state.WorkflowID, result.URL)
	default:
		return
	}
	if err := p.api.PostIssueComment(ctx, number, body); err != nil {
		p.logger.Warn(ctx, "failed to post issue comment",
			zap.Int("issue", number),
			zap.Error(err),
		)
	}
}
