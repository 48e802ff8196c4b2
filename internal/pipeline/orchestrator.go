package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/devflowd/internal/pipeline"

// CommandFactory builds the child process for one phase. The production
// factory re-invokes the devflowd binary with the phase subcommand;
// tests substitute scripts.
type CommandFactory func(ctx context.Context, phase Phase, extraArgs []string) *exec.Cmd

// AggregateCommitter is the git slice used for the single commit after
// a successful concurrent fan-out.
type AggregateCommitter interface {
	CommitAll(ctx context.Context, message string) (bool, error)
	Push(ctx context.Context, branch string) (bool, error)
}

// ProgressFunc observes phase boundaries. pct is the overall pipeline
// completion estimate after the event.
type ProgressFunc func(phase Phase, event string, pct int)

// PhaseError reports a phase child process that exited non-zero or was
// killed at its deadline.
type PhaseError struct {
	Phase    Phase
	ExitCode int
	TimedOut bool
}

func (e *PhaseError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("phase %s timed out", e.Phase)
	}
	return fmt.Sprintf("phase %s exited with code %d", e.Phase, e.ExitCode)
}

// Config configures the orchestrator.
type Config struct {
	// PhaseTimeout is the wall-clock limit for each spawned phase.
	PhaseTimeout time.Duration

	// LogDir receives one <phase>.log per spawned process. Empty
	// discards child output.
	LogDir string

	// Branch to push after a successful concurrent fan-out.
	Branch string
}

// Orchestrator spawns phases as child processes. Success is judged by
// exit code only; child output goes to log files and is never parsed.
type Orchestrator struct {
	cfg      Config
	factory  CommandFactory
	git      AggregateCommitter
	logger   *logging.Logger
	progress ProgressFunc
	tracer   trace.Tracer
}

// New creates an orchestrator. git may be nil when concurrent mode is
// never used.
func New(cfg Config, factory CommandFactory, git AggregateCommitter, logger *logging.Logger, progress ProgressFunc) (*Orchestrator, error) {
	if factory == nil {
		return nil, errors.New("command factory is required")
	}
	if cfg.PhaseTimeout <= 0 {
		return nil, errors.New("phase timeout must be > 0")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if progress == nil {
		progress = func(Phase, string, int) {}
	}
	return &Orchestrator{
		cfg:      cfg,
		factory:  factory,
		git:      git,
		logger:   logger,
		progress: progress,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// RunSequential executes phases in order, aborting the remainder on the
// first failure.
func (o *Orchestrator) RunSequential(ctx context.Context, phases []Phase) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.sequential")
	defer span.End()

	for n, phase := range phases {
		o.progress(phase, "start", pct(n, len(phases)))
		if err := o.runPhase(ctx, phase, nil); err != nil {
			span.SetStatus(codes.Error, err.Error())
			o.logger.Error(ctx, "phase failed, aborting pipeline",
				zap.String("phase", string(phase)),
				zap.Error(err),
			)
			return err
		}
		o.progress(phase, "done", pct(n+1, len(phases)))
	}
	return nil
}

// RunConcurrent executes phases with the post-build fan-out running
// simultaneously. Fan-out phases get --no-commit (test also gets
// --skip-e2e) so they cannot race on the working tree; their results
// land in one aggregated commit afterwards, and only if all succeeded.
func (o *Orchestrator) RunConcurrent(ctx context.Context, phases []Phase) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.concurrent")
	defer span.End()

	var sequential, fanout []Phase
	for _, phase := range phases {
		if phase.concurrent() {
			fanout = append(fanout, phase)
		} else {
			sequential = append(sequential, phase)
		}
	}

	if err := o.RunSequential(ctx, sequential); err != nil {
		return err
	}
	if len(fanout) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []string

	for _, phase := range fanout {
		args := []string{"--no-commit"}
		if phase == PhaseTest {
			args = append(args, "--skip-e2e")
		}
		wg.Add(1)
		go func(phase Phase, args []string) {
			defer wg.Done()
			o.progress(phase, "start", 0)
			err := o.runPhase(ctx, phase, args)
			o.progress(phase, "done", 0)
			if err != nil {
				mu.Lock()
				failed = append(failed, string(phase))
				mu.Unlock()
			}
		}(phase, args)
	}
	wg.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		err := fmt.Errorf("concurrent phases failed: %s", strings.Join(failed, ", "))
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error(ctx, "skipping aggregated commit",
			zap.Strings("failed_phases", failed),
		)
		return err
	}

	return o.aggregateCommit(ctx, fanout)
}

// aggregateCommit stages and commits the fan-out results once, then
// pushes the branch.
func (o *Orchestrator) aggregateCommit(ctx context.Context, fanout []Phase) error {
	if o.git == nil {
		return errors.New("aggregate committer not configured")
	}

	names := make([]string, len(fanout))
	for i, phase := range fanout {
		names[i] = string(phase)
	}
	message := fmt.Sprintf("chore: %s phase results", strings.Join(names, ", "))

	committed, err := o.git.CommitAll(ctx, message)
	if err != nil {
		return fmt.Errorf("aggregated commit: %w", err)
	}
	if !committed {
		o.logger.Info(ctx, "fan-out produced no changes to commit")
		return nil
	}
	if o.cfg.Branch != "" {
		if ok, err := o.git.Push(ctx, o.cfg.Branch); !ok {
			return fmt.Errorf("pushing aggregated commit: %w", err)
		}
	}
	o.logger.Info(ctx, "aggregated fan-out results",
		zap.Strings("phases", names),
	)
	return nil
}

// runPhase spawns one phase child process and waits for it within the
// phase timeout.
func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, extraArgs []string) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.phase",
		trace.WithAttributes(attribute.String("phase", string(phase))))
	defer span.End()

	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout)
	defer cancel()

	cmd := o.factory(phaseCtx, phase, extraArgs)

	if o.cfg.LogDir != "" {
		if err := os.MkdirAll(o.cfg.LogDir, 0o755); err != nil {
			return &faults.FilesystemError{Path: o.cfg.LogDir, Op: "mkdir", Err: err}
		}
		logPath := filepath.Join(o.cfg.LogDir, string(phase)+".log")
		logFile, err := os.Create(logPath)
		if err != nil {
			return &faults.FilesystemError{Path: logPath, Op: "create", Err: err}
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	o.logger.Info(ctx, "spawning phase",
		zap.String("phase", string(phase)),
		zap.Strings("extra_args", extraArgs),
	)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		perr := &PhaseError{Phase: phase}
		if phaseCtx.Err() == context.DeadlineExceeded {
			perr.TimedOut = true
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			perr.ExitCode = exitErr.ExitCode()
		}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		o.logger.Error(ctx, "phase process failed",
			zap.String("phase", string(phase)),
			zap.Int("exit_code", perr.ExitCode),
			zap.Bool("timed_out", perr.TimedOut),
			zap.Duration("elapsed", elapsed),
		)
		return perr
	}

	o.logger.Info(ctx, "phase finished",
		zap.String("phase", string(phase)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func pct(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
