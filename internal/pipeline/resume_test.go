package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devflowd/internal/logging"
	"github.com/fyrsmithlabs/devflowd/internal/runtrack"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

func completedRun(t *testing.T, tracker *runtrack.Tracker, taskType, workflowID string) {
	t.Helper()
	run, err := tracker.Start(context.Background(), taskType, workflowID, runtrack.StartOptions{})
	require.NoError(t, err)
	require.NoError(t, run.Complete(context.Background(), ""))
}

func TestNextPhase(t *testing.T) {
	ctx := context.Background()
	tracker, err := runtrack.NewTracker(t.TempDir(), "", logging.NewNop())
	require.NoError(t, err)

	state := &workflowstate.State{WorkflowID: "7f2a9c1b"}

	// Nothing recorded: start at the beginning.
	runs, err := tracker.List("")
	require.NoError(t, err)
	assert.Equal(t, PhasePlan, NextPhase(state, runs))

	// Plan and build recorded DONE: resume at test.
	completedRun(t, tracker, "plan", "7f2a9c1b")
	completedRun(t, tracker, "build", "7f2a9c1b")
	// A crashed test run does not count as completed.
	crashed, err := tracker.Start(ctx, "test", "7f2a9c1b", runtrack.StartOptions{})
	require.NoError(t, err)
	require.NoError(t, crashed.Fail(ctx, "agent exited 1"))
	// Another workflow's runs are ignored entirely.
	completedRun(t, tracker, "test", "other-workflow")

	runs, err = tracker.List("")
	require.NoError(t, err)
	assert.Equal(t, PhaseTest, NextPhase(state, runs))
}

func TestNextPhase_PlanArtifactCountsAsPlanned(t *testing.T) {
	state := &workflowstate.State{
		WorkflowID: "7f2a9c1b",
		PlanPath:   "specs/issue-42-plan.md",
	}
	assert.Equal(t, PhaseBuild, NextPhase(state, nil))
}

func TestNextPhase_AllDone(t *testing.T) {
	tracker, err := runtrack.NewTracker(t.TempDir(), "", logging.NewNop())
	require.NoError(t, err)

	for _, phase := range AllPhases() {
		completedRun(t, tracker, string(phase), "7f2a9c1b")
	}
	runs, err := tracker.List("")
	require.NoError(t, err)

	state := &workflowstate.State{WorkflowID: "7f2a9c1b"}
	assert.Equal(t, Phase(""), NextPhase(state, runs))
}

func TestPhasesFrom(t *testing.T) {
	assert.Equal(t, []Phase{PhaseTest, PhaseReview, PhaseDocument}, PhasesFrom(PhaseTest))
	assert.Equal(t, AllPhases(), PhasesFrom(PhasePlan))
	assert.Nil(t, PhasesFrom(""))
}
