package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devflowd/internal/pipeline"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

func TestClassifyIssue(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{name: "bug label", labels: []string{"p1", "bug"}, want: "bug"},
		{name: "fix alias", labels: []string{"fix"}, want: "bug"},
		{name: "enhancement", labels: []string{"enhancement"}, want: "feature"},
		{name: "chore", labels: []string{"chore"}, want: "chore"},
		{name: "case insensitive", labels: []string{"Bug"}, want: "bug"},
		{name: "no match", labels: []string{"p1", "backend"}, want: ""},
		{name: "no labels", labels: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyIssue(tt.labels))
		})
	}
}

func TestCommitMessage(t *testing.T) {
	state := &workflowstate.State{WorkflowID: "abc123"}

	assert.Equal(t, "docs: plan phase output for workflow abc123",
		commitMessage(pipeline.PhasePlan, state))
	assert.Equal(t, "feat: build phase output for workflow abc123",
		commitMessage(pipeline.PhaseBuild, state))
	assert.Equal(t, "test: test phase output for workflow abc123",
		commitMessage(pipeline.PhaseTest, state))

	state.IssueClass = "bug"
	assert.Equal(t, "fix: build phase output for workflow abc123",
		commitMessage(pipeline.PhaseBuild, state))
	assert.Equal(t, "docs: plan phase output for workflow abc123",
		commitMessage(pipeline.PhasePlan, state))
}

func TestWorkflowIDFromArtifact(t *testing.T) {
	origRepo := repoPath
	repoPath = t.TempDir()
	t.Cleanup(func() { repoPath = origRepo })

	t.Run("header wins", func(t *testing.T) {
		path := filepath.Join(repoPath, "notes.md")
		require.NoError(t, os.WriteFile(path, []byte("Workflow: xyz789\n\nplan body\n"), 0o644))
		assert.Equal(t, "xyz789", workflowIDFromArtifact("notes.md"))
	})

	t.Run("filename convention", func(t *testing.T) {
		path := filepath.Join(repoPath, "abc123-plan.md")
		require.NoError(t, os.WriteFile(path, []byte("plan body\n"), 0o644))
		assert.Equal(t, "abc123", workflowIDFromArtifact("abc123-plan.md"))
	})

	t.Run("missing file still uses filename", func(t *testing.T) {
		assert.Equal(t, "def456", workflowIDFromArtifact("specs/def456-plan.md"))
	})

	t.Run("no id recoverable", func(t *testing.T) {
		assert.Equal(t, "", workflowIDFromArtifact("notes.txt"))
		assert.Equal(t, "", workflowIDFromArtifact(""))
	})
}

func TestWorkflowBranch(t *testing.T) {
	state := &workflowstate.State{WorkflowID: "abc123"}

	assert.Equal(t, "devflow/abc123", workflowBranch(state, 0))
	assert.Equal(t, "devflow/issue-42-abc123", workflowBranch(state, 42))

	state.BranchName = "devflow/issue-7-abc123"
	assert.Equal(t, "devflow/issue-7-abc123", workflowBranch(state, 42))
}

func TestPhasePrompt(t *testing.T) {
	state := &workflowstate.State{WorkflowID: "abc123", PlanPath: "specs/abc123-plan.md"}

	prompt, err := phasePrompt(pipeline.PhaseBuild, state, nil, phaseOptions{})
	require.NoError(t, err)
	assert.Contains(t, prompt, "specs/abc123-plan.md")
	assert.Contains(t, prompt, "Workflow: abc123")

	_, err = phasePrompt(pipeline.PhaseBuild, &workflowstate.State{WorkflowID: "x"}, nil, phaseOptions{})
	assert.Error(t, err)

	prompt, err = phasePrompt(pipeline.PhaseTest, state, nil, phaseOptions{skipE2E: true})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Skip end-to-end tests")

	_, err = phasePrompt(pipeline.PhasePlan, state, nil, phaseOptions{})
	assert.Error(t, err, "plan needs an issue or artifact")
}

func TestNewWorkflowID(t *testing.T) {
	id := newWorkflowID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, newWorkflowID())
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo"))
	assert.Equal(t, "whole", firstLine("whole"))
}
