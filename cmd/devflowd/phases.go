package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/agent"
	"github.com/fyrsmithlabs/devflowd/internal/finalize"
	"github.com/fyrsmithlabs/devflowd/internal/forge"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
	"github.com/fyrsmithlabs/devflowd/internal/pipeline"
	"github.com/fyrsmithlabs/devflowd/internal/runtrack"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

// heartbeatInterval is how often a running phase refreshes its run
// record while waiting on the agent.
const heartbeatInterval = 30 * time.Second

var (
	phaseIssue    int
	phaseWorkflow string
	phaseNoCommit bool
	phaseSkipE2E  bool
)

func init() {
	for _, phase := range pipeline.AllPhases() {
		rootCmd.AddCommand(newPhaseCmd(phase))
	}
}

func newPhaseCmd(phase pipeline.Phase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s [artifact]", phase),
		Short: fmt.Sprintf("Run the %s phase of a workflow", phase),
		Long: fmt.Sprintf(`Run the %s phase. The phase is driven either by a tracked issue
(--issue) or by a positional artifact path, and records its progress
under the runs directory.

Examples:
  devflowd %s --issue 42
  devflowd %s specs/abc123-plan.md --workflow abc123`, phase, phase, phase),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := phaseOptions{
				issue:    phaseIssue,
				workflow: phaseWorkflow,
				noCommit: phaseNoCommit,
				skipE2E:  phaseSkipE2E,
			}
			if len(args) == 1 {
				opts.artifact = args[0]
			}
			return runPhase(cmd.Context(), phase, opts)
		},
	}
	cmd.Flags().IntVar(&phaseIssue, "issue", 0, "tracked issue number driving the workflow")
	cmd.Flags().StringVar(&phaseWorkflow, "workflow", "", "workflow identifier (generated when omitted)")
	cmd.Flags().BoolVar(&phaseNoCommit, "no-commit", false, "leave phase output uncommitted")
	if phase == pipeline.PhaseTest {
		cmd.Flags().BoolVar(&phaseSkipE2E, "skip-e2e", false, "skip end-to-end tests")
	}
	return cmd
}

type phaseOptions struct {
	issue    int
	workflow string
	artifact string
	noCommit bool
	skipE2E  bool
}

// runPhase is the shared phase body: load-or-create state, start a run
// record, ensure the branch, invoke the agent, persist outputs, and
// finish the run as DONE or CRASHED.
func runPhase(ctx context.Context, phase pipeline.Phase, opts phaseOptions) error {
	workflowID := opts.workflow
	if workflowID == "" {
		workflowID = workflowIDFromArtifact(opts.artifact)
	}
	if workflowID == "" {
		workflowID = newWorkflowID()
	}
	ctx = logging.WithWorkflowID(ctx, workflowID)
	ctx = logging.WithPhase(ctx, string(phase))
	logger := deps.logger.Named(string(phase))

	state, err := deps.states.LoadOrNew(ctx, workflowID)
	if err != nil {
		return err
	}

	// The run description carries the workflow id so a later pipeline
	// invocation can correlate run records back to this workflow.
	run, err := deps.tracker.Start(ctx, string(phase), workflowID, runtrack.StartOptions{})
	if err != nil {
		return err
	}
	ctx = logging.WithRunID(ctx, run.ID())
	logger.Info(ctx, "phase started", zap.String("run_id", run.ID()))

	outputPath, err := executePhase(ctx, logger, phase, opts, state, run)
	if err != nil {
		if ferr := run.Fail(ctx, err.Error()); ferr != nil {
			logger.Warn(ctx, "recording run failure", zap.Error(ferr))
		}
		reportFailure(ctx, logger, phase, state, err)
		return err
	}

	if err := deps.states.Save(ctx, state, string(phase)); err != nil {
		return err
	}
	if err := run.Complete(ctx, outputPath); err != nil {
		return err
	}
	logger.Info(ctx, "phase finished", zap.String("run_id", run.ID()))
	return nil
}

func executePhase(ctx context.Context, logger *logging.Logger, phase pipeline.Phase, opts phaseOptions, state *workflowstate.State, run *runtrack.Run) (string, error) {
	issue, err := resolveIssue(ctx, logger, opts, state)
	if err != nil {
		return "", err
	}

	if err := ensureBranch(ctx, logger, opts, state); err != nil {
		return "", err
	}

	prompt, err := phasePrompt(phase, state, issue, opts)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(run.Dir(), "raw_output.jsonl")
	req := agent.Request{
		Prompt:         prompt,
		Model:          agent.ModelForTask(string(phase), deps.cfg.Agent.Model),
		OutputFile:     outputPath,
		PromptCopyPath: filepath.Join(run.Dir(), "prompts", string(phase)+".md"),
	}

	stopBeat := startHeartbeat(ctx, logger, run)
	result, err := deps.invoker.Run(ctx, req)
	stopBeat()
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("agent reported failure: %s", firstLine(result.Output))
	}

	if phase == pipeline.PhasePlan {
		if err := savePlan(ctx, logger, state, run, result.Output); err != nil {
			return "", err
		}
	}

	if !opts.noCommit {
		committed, err := deps.git.CommitAll(ctx, commitMessage(phase, state))
		if err != nil {
			return "", err
		}
		if !committed {
			logger.Info(ctx, "phase produced no changes")
		}
	}

	if phase == pipeline.PhaseBuild && !opts.noCommit {
		if err := publishBranch(ctx, logger, state, issue); err != nil {
			return "", err
		}
	}
	return outputPath, nil
}

// resolveIssue fetches the driving issue once and records its reference
// and classification in the workflow state.
func resolveIssue(ctx context.Context, logger *logging.Logger, opts phaseOptions, state *workflowstate.State) (*forge.Issue, error) {
	if opts.issue <= 0 {
		return nil, nil
	}
	client, err := forgeClient(ctx)
	if err != nil {
		return nil, err
	}
	issue, err := client.FetchIssue(ctx, opts.issue)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		workflowstate.FieldIssueRef: strconv.Itoa(issue.Number),
	}
	if class := classifyIssue(issue.Labels); class != "" {
		fields[workflowstate.FieldIssueClass] = class
	}
	if err := state.Update(ctx, logger, fields); err != nil {
		return nil, err
	}
	return issue, nil
}

// classifyIssue picks the change class from the issue labels.
func classifyIssue(labels []string) string {
	for _, label := range labels {
		switch strings.ToLower(label) {
		case "bug", "fix":
			return "bug"
		case "feature", "enhancement":
			return "feature"
		case "chore", "maintenance":
			return "chore"
		}
	}
	return ""
}

// ensureBranch creates or reuses the workflow branch and records it in
// state so every later phase lands on the same branch.
func ensureBranch(ctx context.Context, logger *logging.Logger, opts phaseOptions, state *workflowstate.State) error {
	if state.BranchName == "" {
		branch := "devflow/" + state.WorkflowID
		if opts.issue > 0 {
			branch = fmt.Sprintf("devflow/issue-%d-%s", opts.issue, state.WorkflowID)
		}
		if err := state.Update(ctx, logger, map[string]string{
			workflowstate.FieldBranchName: branch,
		}); err != nil {
			return err
		}
	}
	return deps.git.CheckoutOrCreate(ctx, state.BranchName)
}

// startHeartbeat refreshes the run record on an interval until the
// returned stop function is called.
func startHeartbeat(ctx context.Context, logger *logging.Logger, run *runtrack.Run) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := run.Heartbeat(ctx); err != nil {
					logger.Warn(ctx, "heartbeat failed", zap.Error(err))
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// savePlan writes the plan artifact into the working copy so the build
// phase (and the eventual pull request) carry it, and records its path.
func savePlan(ctx context.Context, logger *logging.Logger, state *workflowstate.State, run *runtrack.Run, plan string) error {
	relPath := filepath.Join("specs", state.WorkflowID+"-plan.md")
	absPath := filepath.Join(repoPath, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("creating specs dir: %w", err)
	}
	// Header lets a standalone build recover the workflow id later.
	doc := fmt.Sprintf("Workflow: %s\n\n%s", state.WorkflowID, plan)
	if err := os.WriteFile(absPath, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("writing plan artifact: %w", err)
	}
	// Audit copy alongside the run record.
	if _, err := run.AddArtifact(ctx, "plan.md", []byte(plan)); err != nil {
		logger.Warn(ctx, "storing plan audit copy", zap.Error(err))
	}
	return state.Update(ctx, logger, map[string]string{
		workflowstate.FieldPlanPath: relPath,
	})
}

// publishBranch pushes the branch and makes sure a pull request exists.
// A missing forge token downgrades publication to a warning so local
// runs still work.
func publishBranch(ctx context.Context, logger *logging.Logger, state *workflowstate.State, issue *forge.Issue) error {
	if !deps.cfg.Forge.Token.IsSet() {
		logger.Warn(ctx, "forge token not configured, skipping pull request")
		return nil
	}
	client, err := forgeClient(ctx)
	if err != nil {
		return err
	}
	publisher, err := finalize.NewPublisher(deps.git, client, logger.Named("finalize"))
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Automated change %s", state.WorkflowID)
	body := fmt.Sprintf("Workflow `%s` built this change.", state.WorkflowID)
	if issue != nil {
		title = issue.Title
		body = fmt.Sprintf("Workflow `%s` built this change for #%d.", state.WorkflowID, issue.Number)
	}
	if state.PlanPath != "" {
		body += fmt.Sprintf("\n\nPlan: `%s`", state.PlanPath)
	}

	result, err := publisher.Publish(ctx, finalize.PublishRequest{State: state, Title: title, Body: body})
	if err != nil {
		return err
	}
	if result.Outcome == finalize.Failed {
		return fmt.Errorf("publishing branch %s: %s", state.BranchName, result.Reason)
	}
	logger.Info(ctx, "branch published",
		zap.String("outcome", string(result.Outcome)),
		zap.String("url", result.URL),
	)
	return nil
}

// reportFailure posts a best-effort failure comment on the driving
// issue. Failures here are logged, never escalated.
func reportFailure(ctx context.Context, logger *logging.Logger, phase pipeline.Phase, state *workflowstate.State, phaseErr error) {
	if state.IssueRef == "" || !deps.cfg.Forge.Token.IsSet() {
		return
	}
	number, err := strconv.Atoi(state.IssueRef)
	if err != nil {
		logger.Warn(ctx, "non-numeric issue reference", zap.String("issue_reference", state.IssueRef))
		return
	}
	client, err := forgeClient(ctx)
	if err != nil {
		logger.Warn(ctx, "forge client unavailable for failure report", zap.Error(err))
		return
	}
	body := fmt.Sprintf("Workflow `%s` failed during the %s phase: %s", state.WorkflowID, phase, firstLine(phaseErr.Error()))
	if err := client.PostIssueComment(ctx, number, body); err != nil {
		logger.Warn(ctx, "posting failure comment", zap.Error(err))
	}
}

func commitMessage(phase pipeline.Phase, state *workflowstate.State) string {
	prefix := map[pipeline.Phase]string{
		pipeline.PhasePlan:     "docs",
		pipeline.PhaseBuild:    "feat",
		pipeline.PhaseTest:     "test",
		pipeline.PhaseReview:   "refactor",
		pipeline.PhaseDocument: "docs",
	}[phase]
	if state.IssueClass == "bug" && phase == pipeline.PhaseBuild {
		prefix = "fix"
	}
	return fmt.Sprintf("%s: %s phase output for workflow %s", prefix, phase, state.WorkflowID)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// workflowIDFromArtifact recovers the workflow id from a standalone
// artifact: first from a "Workflow: <id>" header line, then from the
// <id>-plan.md naming convention.
func workflowIDFromArtifact(artifact string) string {
	if artifact == "" {
		return ""
	}
	if content, err := os.ReadFile(resolveRepoPath(artifact)); err == nil {
		for _, line := range strings.SplitN(string(content), "\n", 20) {
			if id, ok := strings.CutPrefix(strings.TrimSpace(line), "Workflow:"); ok {
				if id = strings.TrimSpace(id); id != "" {
					return id
				}
			}
		}
	}
	base := filepath.Base(artifact)
	if id, ok := strings.CutSuffix(base, "-plan.md"); ok && id != "" {
		return id
	}
	return ""
}

func newWorkflowID() string {
	id := uuid.NewString()
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
