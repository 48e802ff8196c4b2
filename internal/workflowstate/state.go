package workflowstate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

// Field names accepted by Update and carried in the serialized document.
const (
	FieldWorkflowID = "workflow_id"
	FieldIssueRef   = "issue_reference"
	FieldBranchName = "branch_name"
	FieldPlanPath   = "plan_artifact_path"
	FieldIssueClass = "issue_classification"
)

// State is the durable per-workflow checkpoint document. Only these
// whitelisted fields survive serialization; everything else is dropped.
type State struct {
	WorkflowID string `json:"workflow_id"`
	IssueRef   string `json:"issue_reference,omitempty"`
	BranchName string `json:"branch_name,omitempty"`
	PlanPath   string `json:"plan_artifact_path,omitempty"`
	IssueClass string `json:"issue_classification,omitempty"`
}

// New creates a state document for the given workflow identifier.
func New(workflowID string) (*State, error) {
	if workflowID == "" {
		return nil, faults.NewValidation(FieldWorkflowID, "must not be empty")
	}
	return &State{WorkflowID: workflowID}, nil
}

// Update whitelist-merges fields into the state. Unknown keys are
// dropped and logged at WARN so a misspelled field name surfaces in the
// run log instead of silently vanishing. The workflow identifier is
// immutable and rejected here.
func (s *State) Update(ctx context.Context, logger *logging.Logger, fields map[string]string) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	for key, value := range fields {
		switch key {
		case FieldIssueRef:
			s.IssueRef = value
		case FieldBranchName:
			s.BranchName = value
		case FieldPlanPath:
			s.PlanPath = value
		case FieldIssueClass:
			s.IssueClass = value
		case FieldWorkflowID:
			return faults.NewValidation(FieldWorkflowID, "is immutable")
		default:
			logger.Warn(ctx, "dropping unknown state key", zap.String("key", key))
		}
	}
	return nil
}

// Validate checks the document against the schema.
func (s *State) Validate() error {
	if s.WorkflowID == "" {
		return faults.NewValidation(FieldWorkflowID, "must not be empty")
	}
	return nil
}

// Serialize writes the whitelisted-field JSON document to w. Used to
// hand state to an independently started process over a pipe.
func (s *State) Serialize(w io.Writer) error {
	if err := s.Validate(); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return nil
}

// Deserialize reads a state document from r, keeping only whitelisted
// fields. Unknown fields in the input are dropped.
func Deserialize(r io.Reader) (*State, error) {
	var s State
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
