package workflowstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/devflowd/internal/workflowstate"

// Store persists state documents under <dir>/<workflow_id>/state.json.
type Store struct {
	dir    string
	logger *logging.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger *logging.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("workflows dir is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Store{
		dir:    dir,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	s.saveCounter, err = s.meter.Int64Counter(
		"devflowd.workflowstate.saves_total",
		metric.WithDescription("Total number of state checkpoints saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create save counter", zap.Error(err))
	}

	return s, nil
}

// Path returns the on-disk location of a workflow's state document.
func (s *Store) Path(workflowID string) string {
	return filepath.Join(s.dir, workflowID, "state.json")
}

// Save validates and atomically writes the document. The label names
// the calling step and appears only in logs.
func (s *Store) Save(ctx context.Context, state *State, label string) error {
	ctx, span := s.tracer.Start(ctx, "workflowstate.save")
	defer span.End()

	if err := state.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &faults.StateError{WorkflowID: state.WorkflowID, Msg: "schema violation", Err: err}
	}

	span.SetAttributes(
		attribute.String("workflow_id", state.WorkflowID),
		attribute.String("label", label),
	)

	dir := filepath.Join(s.dir, state.WorkflowID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		span.RecordError(err)
		return &faults.FilesystemError{Path: dir, Op: "mkdir", Err: err}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		span.RecordError(err)
		return &faults.StateError{WorkflowID: state.WorkflowID, Msg: "marshal failed", Err: err}
	}

	// Write to a temp file in the same directory, then rename. Rename
	// is atomic on POSIX, so readers never see a torn document.
	target := filepath.Join(dir, "state.json")
	tmp, err := os.CreateTemp(dir, "state-*.json.tmp")
	if err != nil {
		span.RecordError(err)
		return &faults.FilesystemError{Path: dir, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		span.RecordError(err)
		return &faults.FilesystemError{Path: tmpName, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return &faults.FilesystemError{Path: tmpName, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return &faults.FilesystemError{Path: target, Op: "rename", Err: err}
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}
	s.logger.Info(ctx, "saved workflow state",
		zap.String("workflow_id", state.WorkflowID),
		zap.String("label", label),
	)
	return nil
}

// Load reads a workflow's document. An absent or corrupt file yields
// (nil, false, nil): callers start fresh rather than abort, since a
// half-finished earlier run must not block a retry.
func (s *Store) Load(ctx context.Context, workflowID string) (*State, bool, error) {
	ctx, span := s.tracer.Start(ctx, "workflowstate.load")
	defer span.End()

	if workflowID == "" {
		err := faults.NewValidation(FieldWorkflowID, "must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	span.SetAttributes(attribute.String("workflow_id", workflowID))

	data, err := os.ReadFile(s.Path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		s.logger.Warn(ctx, "unreadable workflow state, starting fresh",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return nil, false, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn(ctx, "corrupt workflow state, starting fresh",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return nil, false, nil
	}
	if err := state.Validate(); err != nil {
		s.logger.Warn(ctx, "invalid workflow state, starting fresh",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return nil, false, nil
	}

	return &state, true, nil
}

// LoadOrNew returns the stored document when one exists, otherwise a
// fresh one for the identifier.
func (s *Store) LoadOrNew(ctx context.Context, workflowID string) (*State, error) {
	state, found, err := s.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if found {
		return state, nil
	}
	state, err = New(workflowID)
	if err != nil {
		return nil, fmt.Errorf("creating state: %w", err)
	}
	return state, nil
}
