package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/logging"
	"github.com/fyrsmithlabs/devflowd/internal/pipeline"
	"github.com/fyrsmithlabs/devflowd/internal/runtrack"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

var (
	pipelineIssue    int
	pipelineWorkflow string
	pipelineParallel bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full phase pipeline for a workflow",
	Long: `Run every remaining phase of a workflow in order: plan, build, then
test, review, and document. Completed phases are detected from existing
run records and skipped, so an interrupted pipeline resumes where it
stopped. With --parallel the post-build phases run simultaneously and
their results land in one aggregated commit.

Examples:
  devflowd pipeline --issue 42
  devflowd pipeline --workflow abc123 --parallel`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context())
	},
}

func init() {
	pipelineCmd.Flags().IntVar(&pipelineIssue, "issue", 0, "tracked issue number driving the workflow")
	pipelineCmd.Flags().StringVar(&pipelineWorkflow, "workflow", "", "workflow identifier (generated when omitted)")
	pipelineCmd.Flags().BoolVar(&pipelineParallel, "parallel", false, "fan out post-build phases concurrently")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(ctx context.Context) error {
	workflowID := pipelineWorkflow
	if workflowID == "" {
		workflowID = newWorkflowID()
	}
	ctx = logging.WithWorkflowID(ctx, workflowID)
	logger := deps.logger.Named("pipeline")

	state, err := deps.states.LoadOrNew(ctx, workflowID)
	if err != nil {
		return err
	}
	runs, err := deps.tracker.List("")
	if err != nil {
		return err
	}
	next := pipeline.NextPhase(state, runs)
	if next == "" {
		fmt.Printf("Workflow %s already complete\n", workflowID)
		return nil
	}
	phases := pipeline.PhasesFrom(next)
	logger.Info(ctx, "starting pipeline",
		zap.String("next_phase", string(next)),
		zap.Bool("parallel", pipelineParallel),
	)

	// The pipeline itself is a run record so the watcher sees it.
	run, err := deps.tracker.Start(ctx, "pipeline", workflowID, runtrack.StartOptions{})
	if err != nil {
		return err
	}
	ctx = logging.WithRunID(ctx, run.ID())

	orch, err := pipeline.New(
		pipeline.Config{
			PhaseTimeout: deps.cfg.Pipeline.PhaseTimeout.Duration(),
			LogDir:       filepath.Join(run.Dir(), "logs"),
			Branch:       workflowBranch(state, pipelineIssue),
		},
		phaseFactory(workflowID, pipelineIssue),
		deps.git,
		logger,
		func(phase pipeline.Phase, event string, pct int) {
			if pct > 0 {
				progress := pct
				_ = run.UpdateState(ctx, runtrack.StatusUpdate{Progress: &progress})
				return
			}
			_ = run.Heartbeat(ctx)
		},
	)
	if err != nil {
		return err
	}

	parallel := pipelineParallel || deps.cfg.Pipeline.Parallel
	if parallel {
		err = orch.RunConcurrent(ctx, phases)
	} else {
		err = orch.RunSequential(ctx, phases)
	}
	if err != nil {
		if ferr := run.Fail(ctx, err.Error()); ferr != nil {
			logger.Warn(ctx, "recording pipeline failure", zap.Error(ferr))
		}
		return err
	}

	if err := run.Complete(ctx, ""); err != nil {
		return err
	}
	fmt.Printf("Workflow %s complete\n", workflowID)
	return nil
}

// phaseFactory re-invokes this binary with a phase subcommand, carrying
// the workflow identity and the shared flags through.
func phaseFactory(workflowID string, issue int) pipeline.CommandFactory {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return func(ctx context.Context, phase pipeline.Phase, extraArgs []string) *exec.Cmd {
		args := []string{string(phase), "--workflow", workflowID, "--repo", repoPath}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		if issue > 0 {
			args = append(args, "--issue", strconv.Itoa(issue))
		}
		args = append(args, extraArgs...)
		return exec.CommandContext(ctx, exe, args...)
	}
}

// workflowBranch mirrors the branch choice the phase body makes, so the
// aggregated fan-out commit pushes the same branch the phases wrote to.
func workflowBranch(state *workflowstate.State, issue int) string {
	if state.BranchName != "" {
		return state.BranchName
	}
	if issue > 0 {
		return fmt.Sprintf("devflow/issue-%d-%s", issue, state.WorkflowID)
	}
	return "devflow/" + state.WorkflowID
}
