package forge

// LookupOutcome classifies a pull-request lookup. LookupFailed is a
// distinct outcome: the caller could not determine whether a pull
// request exists and must not create one.
type LookupOutcome string

const (
	Found        LookupOutcome = "found"
	NotFound     LookupOutcome = "not_found"
	LookupFailed LookupOutcome = "lookup_failed"
)

// LookupResult is the tri-state answer to "does a pull request exist
// for this branch". URL is set only for Found; Reason explains a
// LookupFailed outcome.
type LookupResult struct {
	Outcome LookupOutcome
	URL     string
	Reason  string
}
