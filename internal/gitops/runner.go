// Package gitops runs git as a subprocess against one working copy.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/devflowd/internal/gitops"

// Runner executes git commands in a fixed working directory. All
// failures surface as faults.GitError with the captured stderr, since
// git writes its diagnostics there.
type Runner struct {
	workDir string
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewRunner creates a runner for the repository at workDir.
func NewRunner(workDir string, logger *logging.Logger) (*Runner, error) {
	if workDir == "" {
		return nil, errors.New("work dir is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		workDir: workDir,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}, nil
}

// run executes one git command and returns trimmed stdout.
func (r *Runner) run(ctx context.Context, args ...string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "gitops.git",
		trace.WithAttributes(attribute.String("git.subcommand", args[0])))
	defer span.End()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		gerr := &faults.GitError{
			Command: "git " + strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gerr.ExitCode = exitErr.ExitCode()
		}
		span.RecordError(gerr)
		r.logger.Debug(ctx, "git command failed",
			zap.String("command", gerr.Command),
			zap.Int("exit_code", gerr.ExitCode),
			zap.String("stderr", gerr.Stderr),
		)
		return "", gerr
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Runner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CheckoutOrCreate switches to branch, creating it when absent.
func (r *Runner) CheckoutOrCreate(ctx context.Context, branch string) error {
	if branch == "" {
		return faults.NewValidation("branch_name", "must not be empty")
	}
	if _, err := r.run(ctx, "checkout", branch); err == nil {
		return nil
	}
	_, err := r.run(ctx, "checkout", "-b", branch)
	return err
}

// StageAll stages every change in the working tree.
func (r *Runner) StageAll(ctx context.Context) error {
	_, err := r.run(ctx, "add", "-A")
	return err
}

// Commit records staged changes with the given message.
func (r *Runner) Commit(ctx context.Context, message string) error {
	if message == "" {
		return faults.NewValidation("message", "must not be empty")
	}
	_, err := r.run(ctx, "commit", "-m", message)
	return err
}

// Push uploads the branch, setting upstream on first push. The boolean
// result lets finalization continue past a failed push (to report it)
// instead of aborting; err carries the detail.
func (r *Runner) Push(ctx context.Context, branch string) (bool, error) {
	if _, err := r.run(ctx, "push", "-u", "origin", branch); err != nil {
		return false, err
	}
	return true, nil
}

// HasChanges reports whether the working tree has uncommitted changes.
func (r *Runner) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// DiffStat summarizes changes between HEAD and the working tree.
func (r *Runner) DiffStat(ctx context.Context) (string, error) {
	return r.run(ctx, "diff", "HEAD", "--stat")
}

// LatestCommitHash returns the HEAD commit hash.
func (r *Runner) LatestCommitHash(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// CommitAll stages everything and commits when there is anything to
// commit. Returns false when the tree was clean.
func (r *Runner) CommitAll(ctx context.Context, message string) (bool, error) {
	dirty, err := r.HasChanges(ctx)
	if err != nil {
		return false, err
	}
	if !dirty {
		r.logger.Debug(ctx, "nothing to commit")
		return false, nil
	}
	if err := r.StageAll(ctx); err != nil {
		return false, err
	}
	if err := r.Commit(ctx, message); err != nil {
		return false, err
	}
	r.logger.Info(ctx, "committed changes", zap.String("message", firstLine(message)))
	return true, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
