package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devflowd/internal/runtrack"
)

var runsStatus string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run records",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List run records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter runtrack.RunState
		if runsStatus != "" {
			filter = runtrack.RunState(strings.ToUpper(runsStatus))
		}
		runs, err := deps.tracker.List(filter)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tTASK\tSTATUS\tPROGRESS\tSTARTED")
		for _, run := range runs {
			meta := run.Meta()
			status := run.Status()
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n",
				meta.RunID, meta.TaskType, status.Status, status.Progress,
				meta.StartedAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run record in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := deps.tracker.Load(args[0])
		if err != nil {
			return err
		}
		meta := run.Meta()
		status := run.Status()

		fmt.Printf("Run:       %s\n", meta.RunID)
		fmt.Printf("Task:      %s\n", meta.TaskType)
		fmt.Printf("Workflow:  %s\n", meta.Description)
		fmt.Printf("Status:    %s (%d%%)\n", status.Status, status.Progress)
		fmt.Printf("Started:   %s\n", meta.StartedAt.Local().Format(time.RFC3339))
		fmt.Printf("Heartbeat: %s\n", status.LastHeartbeat.Local().Format(time.RFC3339))
		if status.CompletedAt != nil {
			fmt.Printf("Completed: %s\n", status.CompletedAt.Local().Format(time.RFC3339))
		}
		fmt.Printf("Git:       %s @ %s\n", meta.GitBranch, meta.GitHash)
		if status.Error != "" {
			fmt.Printf("Error:     %s\n", status.Error)
		}
		if status.OutputPath != "" {
			fmt.Printf("Output:    %s\n", status.OutputPath)
		}
		for _, artifact := range status.Artifacts {
			fmt.Printf("Artifact:  %s\n", artifact)
		}
		return nil
	},
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch active runs and flag stalled ones",
	Long: `Watch active runs, reprinting their health whenever a run record
changes or the heartbeat threshold elapses. A run whose heartbeat is
older than the threshold is flagged STALLED. Interrupt to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watcher, err := runtrack.NewWatcher(
			deps.tracker,
			deps.cfg.Liveness.HeartbeatThreshold.Duration(),
			deps.logger.Named("watch"),
		)
		if err != nil {
			return err
		}
		updates, err := watcher.Watch(cmd.Context())
		if err != nil {
			return err
		}
		for snapshot := range updates {
			printHealth(snapshot)
		}
		return nil
	},
}

func printHealth(snapshot []runtrack.RunHealth) {
	if len(snapshot) == 0 {
		fmt.Printf("%s  no active runs\n", time.Now().Format(time.TimeOnly))
		return
	}
	for _, health := range snapshot {
		liveness := "live"
		if health.Stalled {
			liveness = "STALLED"
		}
		fmt.Printf("%s  %s  %s  %d%%  heartbeat %s  %s\n",
			time.Now().Format(time.TimeOnly),
			health.RunID, health.TaskType, health.Progress,
			health.LastHeartbeat.Local().Format(time.TimeOnly), liveness)
	}
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (ACTIVE, DONE, CRASHED, CANCELLED)")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsWatchCmd)
	rootCmd.AddCommand(runsCmd)
}
