// Package pipeline drives the phase sequence of one workflow by
// re-invoking the devflowd binary with phase subcommands.
package pipeline

import "fmt"

// Phase is one step of the automated change pipeline.
type Phase string

const (
	PhasePlan     Phase = "plan"
	PhaseBuild    Phase = "build"
	PhaseTest     Phase = "test"
	PhaseReview   Phase = "review"
	PhaseDocument Phase = "document"
)

// AllPhases returns the phases in dependency order: plan feeds build,
// and test/review/document all depend only on build.
func AllPhases() []Phase {
	return []Phase{PhasePlan, PhaseBuild, PhaseTest, PhaseReview, PhaseDocument}
}

// ConcurrentPhases are the phases that may run simultaneously once
// build has finished.
func ConcurrentPhases() []Phase {
	return []Phase{PhaseTest, PhaseReview, PhaseDocument}
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	for _, p := range AllPhases() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// concurrent reports whether the phase belongs to the post-build fan-out.
func (p Phase) concurrent() bool {
	switch p {
	case PhaseTest, PhaseReview, PhaseDocument:
		return true
	}
	return false
}
