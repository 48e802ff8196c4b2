// Devflowd drives an automated software-change pipeline: it plans,
// builds, tests, reviews, and documents a change by invoking a coding
// agent and git, keeping durable per-workflow state between phases.
//
// Usage:
//
//	# Run one phase against a tracked issue
//	devflowd plan --issue 42
//
//	# Run the whole pipeline, fan-out phases in parallel
//	devflowd pipeline --issue 42 --parallel
//
//	# Inspect run records
//	devflowd runs list --status ACTIVE
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devflowd/internal/agent"
	"github.com/fyrsmithlabs/devflowd/internal/config"
	"github.com/fyrsmithlabs/devflowd/internal/forge"
	"github.com/fyrsmithlabs/devflowd/internal/gitops"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
	"github.com/fyrsmithlabs/devflowd/internal/runtrack"
	"github.com/fyrsmithlabs/devflowd/internal/telemetry"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

// Version information (set via ldflags during build)
var version = "dev"

var (
	configPath string
	repoPath   string
)

var rootCmd = &cobra.Command{
	Use:     "devflowd",
	Short:   "Automated software-change pipeline",
	Version: version,
	// Dependencies are built once here and shared by every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownApp(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/devflowd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "working copy the pipeline operates on")
}

// app holds the explicitly constructed collaborators.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tel     *telemetry.Telemetry
	states  *workflowstate.Store
	tracker *runtrack.Tracker
	git     *gitops.Runner
	invoker *agent.Invoker

	// forge is built lazily: most commands never talk to the API and
	// should not require a token.
	forge *forge.Client
}

var deps app

// forgeClient returns the shared API client, building it on first use.
func forgeClient(ctx context.Context) (*forge.Client, error) {
	if deps.forge != nil {
		return deps.forge, nil
	}
	client, err := forge.NewClient(ctx, deps.cfg.Forge, deps.logger.Named("forge"))
	if err != nil {
		return nil, err
	}
	deps.forge = client
	return client, nil
}

// initApp loads config and wires every collaborator.
func initApp(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	deps.cfg = cfg

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Endpoint = cfg.Telemetry.Endpoint
	telCfg.ServiceName = cfg.Telemetry.ServiceName
	telCfg.Insecure = cfg.Telemetry.Insecure
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	deps.tel = tel

	logCfg, err := logging.ParseConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Caller)
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	deps.logger = logger

	states, err := workflowstate.NewStore(cfg.Paths.WorkflowsDir, logger.Named("workflowstate"))
	if err != nil {
		return err
	}
	deps.states = states

	tracker, err := runtrack.NewTracker(cfg.Paths.RunsDir, repoPath, logger.Named("runtrack"))
	if err != nil {
		return err
	}
	deps.tracker = tracker

	git, err := gitops.NewRunner(repoPath, logger.Named("gitops"))
	if err != nil {
		return err
	}
	deps.git = git

	invoker, err := agent.NewInvoker(cfg.Agent, logger.Named("agent"))
	if err != nil {
		return err
	}
	deps.invoker = invoker

	return nil
}

func shutdownApp(ctx context.Context) {
	if deps.logger != nil {
		_ = deps.logger.Sync()
	}
	if deps.tel != nil {
		_ = deps.tel.Shutdown(ctx)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
