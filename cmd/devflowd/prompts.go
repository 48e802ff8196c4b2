package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/forge"
	"github.com/fyrsmithlabs/devflowd/internal/pipeline"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

// phasePrompt assembles the agent prompt for a phase from the issue,
// the workflow state, and an optional artifact file.
func phasePrompt(phase pipeline.Phase, state *workflowstate.State, issue *forge.Issue, opts phaseOptions) (string, error) {
	var b strings.Builder

	switch phase {
	case pipeline.PhasePlan:
		b.WriteString("Create a detailed implementation plan for the following change request.\n")
		b.WriteString("Cover the files to touch, the approach, edge cases, and a validation strategy.\n")
		b.WriteString("Output only the plan as markdown.\n\n")
		if err := writeChangeRequest(&b, issue, opts.artifact); err != nil {
			return "", err
		}

	case pipeline.PhaseBuild:
		plan, err := planReference(state, opts.artifact)
		if err != nil {
			return "", err
		}
		b.WriteString("Implement the change described by the plan below.\n")
		b.WriteString("Follow the plan's file list and approach. Do not commit.\n\n")
		fmt.Fprintf(&b, "Plan file: %s\n\n", plan)
		if issue != nil {
			fmt.Fprintf(&b, "Original request: #%d %s\n", issue.Number, issue.Title)
		}

	case pipeline.PhaseTest:
		b.WriteString("Run the project's test suite and fix any failures caused by the recent changes.\n")
		if opts.skipE2E {
			b.WriteString("Skip end-to-end tests.\n")
		}
		b.WriteString("Add missing test coverage for the change. Do not commit.\n")

	case pipeline.PhaseReview:
		b.WriteString("Review the uncommitted and recently committed changes on this branch.\n")
		b.WriteString("Fix correctness problems, style inconsistencies, and leftover debug code. Do not commit.\n")

	case pipeline.PhaseDocument:
		b.WriteString("Update the project's documentation to cover the recent changes on this branch.\n")
		b.WriteString("Touch README, changelog, and in-code docs as appropriate. Do not commit.\n")

	default:
		return "", fmt.Errorf("unknown phase %q", phase)
	}

	fmt.Fprintf(&b, "\nWorkflow: %s\n", state.WorkflowID)
	if state.IssueClass != "" {
		fmt.Fprintf(&b, "Change class: %s\n", state.IssueClass)
	}
	return b.String(), nil
}

// writeChangeRequest appends the issue body or the artifact file content.
// One of the two must be present.
func writeChangeRequest(b *strings.Builder, issue *forge.Issue, artifact string) error {
	if issue != nil {
		fmt.Fprintf(b, "Issue #%d: %s\n\n%s\n", issue.Number, issue.Title, issue.Body)
		return nil
	}
	if artifact == "" {
		return faults.NewValidation("artifact", "either --issue or an artifact path is required")
	}
	content, err := os.ReadFile(resolveRepoPath(artifact))
	if err != nil {
		return &faults.FilesystemError{Path: artifact, Op: "read", Err: err}
	}
	b.Write(content)
	b.WriteString("\n")
	return nil
}

// planReference picks the plan file the build phase works from: the
// positional artifact wins, then the path recorded by the plan phase.
func planReference(state *workflowstate.State, artifact string) (string, error) {
	if artifact != "" {
		return artifact, nil
	}
	if state.PlanPath != "" {
		return state.PlanPath, nil
	}
	return "", faults.NewValidation("plan_artifact_path", "no plan recorded, run the plan phase first or pass a plan path")
}

// resolveRepoPath makes a repo-relative path absolute against --repo.
func resolveRepoPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoPath, path)
}
