package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Inspect the tracked issues driving workflows",
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open issues, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := forgeClient(cmd.Context())
		if err != nil {
			return err
		}
		issues, err := client.ListOpenIssues(cmd.Context())
		if err != nil {
			return err
		}
		if len(issues) == 0 {
			fmt.Println("No open issues")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NUMBER\tTITLE\tLABELS")
		for _, issue := range issues {
			fmt.Fprintf(w, "#%d\t%s\t%s\n",
				issue.Number, issue.Title, strings.Join(issue.Labels, ","))
		}
		return w.Flush()
	},
}

func init() {
	issuesCmd.AddCommand(issuesListCmd)
	rootCmd.AddCommand(issuesCmd)
}
