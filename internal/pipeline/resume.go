package pipeline

import (
	"github.com/fyrsmithlabs/devflowd/internal/runtrack"
	"github.com/fyrsmithlabs/devflowd/internal/workflowstate"
)

// NextPhase re-derives where a workflow should resume. The orchestrator
// itself holds no cross-restart state: completion is read from the
// workflow's run records (runs whose description carries the workflow
// id and ended DONE), with the saved plan artifact as corroboration for
// the plan phase.
//
// Returns the first phase in order without a completed run, or ""
// when every phase finished.
func NextPhase(state *workflowstate.State, runs []*runtrack.Run) Phase {
	completed := make(map[Phase]bool)
	for _, run := range runs {
		if run.Meta().Description != state.WorkflowID {
			continue
		}
		if run.State() != runtrack.StateDone {
			continue
		}
		if phase, err := ParsePhase(run.Meta().TaskType); err == nil {
			completed[phase] = true
		}
	}

	// A saved plan artifact marks the plan phase done even if the run
	// record was lost.
	if state.PlanPath != "" {
		completed[PhasePlan] = true
	}

	for _, phase := range AllPhases() {
		if !completed[phase] {
			return phase
		}
	}
	return ""
}

// PhasesFrom returns the pipeline suffix starting at phase. An empty
// phase yields nothing.
func PhasesFrom(phase Phase) []Phase {
	all := AllPhases()
	for i, p := range all {
		if p == phase {
			return all[i:]
		}
	}
	return nil
}
