package runtrack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/devflowd/internal/runtrack"

const (
	metaFile   = "meta.json"
	stateFile  = "state.json"
	latestFile = "latest"
)

// Tracker manages run record directories under a single root.
type Tracker struct {
	dir      string
	repoPath string
	logger   *logging.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	startCounter metric.Int64Counter
}

// NewTracker creates a tracker rooted at dir. repoPath points at the
// working copy whose revision is snapshotted into each run's metadata;
// it may be empty or not a repository, in which case the snapshot
// records "unknown".
func NewTracker(dir, repoPath string, logger *logging.Logger) (*Tracker, error) {
	if dir == "" {
		return nil, errors.New("runs dir is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	t := &Tracker{
		dir:      dir,
		repoPath: repoPath,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	var err error
	t.startCounter, err = t.meter.Int64Counter(
		"devflowd.runtrack.starts_total",
		metric.WithDescription("Total number of runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create start counter", zap.Error(err))
	}

	return t, nil
}

// Dir returns the tracker's root directory.
func (t *Tracker) Dir() string {
	return t.dir
}

// newRunID builds a time-ordered identifier with a random suffix, so
// lexical order matches start order and collisions are impossible even
// within one second.
func newRunID(taskType string) string {
	ts := time.Now().UTC().Format("20060102-150405")
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s-%s-%s", ts, sanitize(taskType), suffix)
}

// sanitize keeps run directory names filesystem-safe.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, strings.ToLower(s))
}

// snapshotRevision captures the current HEAD hash and branch. Failures
// degrade to "unknown" rather than blocking the run.
func (t *Tracker) snapshotRevision(ctx context.Context) (hash, branch string) {
	hash, branch = "unknown", "unknown"
	if t.repoPath == "" {
		return
	}

	repo, err := git.PlainOpen(t.repoPath)
	if err != nil {
		t.logger.Debug(ctx, "no repository for revision snapshot",
			zap.String("path", t.repoPath), zap.Error(err))
		return
	}
	head, err := repo.Head()
	if err != nil {
		t.logger.Debug(ctx, "failed to resolve HEAD", zap.Error(err))
		return
	}
	hash = head.Hash().String()
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	} else {
		branch = "detached"
	}
	return
}

// Start allocates a fresh run record and returns its handle. The
// revision snapshot and session correlation id are captured at call
// time and never change afterwards.
func (t *Tracker) Start(ctx context.Context, taskType, description string, opts StartOptions) (*Run, error) {
	ctx, span := t.tracer.Start(ctx, "runtrack.start")
	defer span.End()

	if taskType == "" {
		return nil, faults.NewValidation("task_type", "must not be empty")
	}

	hash, branch := t.snapshotRevision(ctx)
	now := time.Now().UTC()

	meta := Meta{
		RunID:       newRunID(taskType),
		TaskType:    taskType,
		Description: description,
		StartedAt:   now,
		GitHash:     hash,
		GitBranch:   branch,
		SessionID:   opts.SessionID,
		ParentRunID: opts.ParentRunID,
	}
	status := Status{
		Status:        StateActive,
		Progress:      0,
		LastHeartbeat: now,
	}

	span.SetAttributes(
		attribute.String("run_id", meta.RunID),
		attribute.String("task_type", taskType),
	)

	runDir := filepath.Join(t.dir, meta.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, &faults.FilesystemError{Path: runDir, Op: "mkdir", Err: err}
	}

	run := &Run{
		meta:    meta,
		status:  status,
		dir:     runDir,
		tracker: t,
	}
	if err := writeJSON(filepath.Join(runDir, metaFile), meta); err != nil {
		return nil, err
	}
	if err := run.writeStatus(); err != nil {
		return nil, err
	}
	if err := t.updateLatest(meta.RunID); err != nil {
		return nil, err
	}

	if t.startCounter != nil {
		t.startCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task_type", taskType),
		))
	}
	t.logger.Info(ctx, "started run",
		zap.String("run_id", meta.RunID),
		zap.String("task_type", taskType),
		zap.String("git_branch", branch),
	)
	return run, nil
}

// updateLatest points the "latest" file at runID.
func (t *Tracker) updateLatest(runID string) error {
	path := filepath.Join(t.dir, latestFile)
	if err := os.WriteFile(path, []byte(runID+"\n"), 0o644); err != nil {
		return &faults.FilesystemError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// Load reads an existing run record.
func (t *Tracker) Load(runID string) (*Run, error) {
	if runID == "" {
		return nil, faults.NewValidation("run_id", "must not be empty")
	}
	runDir := filepath.Join(t.dir, runID)

	var meta Meta
	if err := readJSON(filepath.Join(runDir, metaFile), &meta); err != nil {
		return nil, err
	}
	var status Status
	if err := readJSON(filepath.Join(runDir, stateFile), &status); err != nil {
		return nil, err
	}

	return &Run{meta: meta, status: status, dir: runDir, tracker: t}, nil
}

// List returns run records, newest first. An empty filter returns all;
// otherwise only runs currently in that state.
func (t *Tracker) List(filter RunState) ([]*Run, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &faults.FilesystemError{Path: t.dir, Op: "readdir", Err: err}
	}

	runs := make([]*Run, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := t.Load(entry.Name())
		if err != nil {
			// Partially written or foreign directories are skipped, not fatal.
			continue
		}
		if filter != "" && run.State() != filter {
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].meta.StartedAt.After(runs[j].meta.StartedAt)
	})
	return runs, nil
}

// Latest resolves the "latest" pointer to its run record.
func (t *Tracker) Latest() (*Run, error) {
	data, err := os.ReadFile(filepath.Join(t.dir, latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &faults.FilesystemError{Path: filepath.Join(t.dir, latestFile), Op: "read", Err: err}
	}
	runID := strings.TrimSpace(string(data))
	if runID == "" {
		return nil, nil
	}
	return t.Load(runID)
}

// Run is the handle for one execution attempt. Methods that modify
// state write through to disk immediately; there is no batching.
type Run struct {
	meta    Meta
	status  Status
	dir     string
	tracker *Tracker

	mu sync.Mutex
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.meta.RunID }

// Meta returns a copy of the immutable metadata.
func (r *Run) Meta() Meta { return r.meta }

// Dir returns the run's directory.
func (r *Run) Dir() string { return r.dir }

// Status returns a copy of the current mutable state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// State returns the stored run state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Status
}

// UpdateState merges the provided fields, stamps last_heartbeat, and
// writes immediately. Transitions out of a terminal state are rejected.
func (r *Run) UpdateState(ctx context.Context, upd StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Status.Terminal() {
		return fmt.Errorf("run %s already %s", r.meta.RunID, r.status.Status)
	}

	if upd.Status != nil {
		r.status.Status = *upd.Status
	}
	if upd.Progress != nil {
		p := *upd.Progress
		if p < 0 || p > 100 {
			return faults.NewValidation("progress", "must be within 0-100, got %d", p)
		}
		r.status.Progress = p
	}
	if upd.Error != nil {
		r.status.Error = *upd.Error
	}
	r.status.LastHeartbeat = time.Now().UTC()

	if r.status.Status.Terminal() {
		now := time.Now().UTC()
		r.status.CompletedAt = &now
	}
	if err := r.writeStatus(); err != nil {
		return err
	}

	r.tracker.logger.Debug(ctx, "updated run state",
		zap.String("run_id", r.meta.RunID),
		zap.String("status", string(r.status.Status)),
		zap.Int("progress", r.status.Progress),
	)
	return nil
}

// Heartbeat stamps last_heartbeat without changing anything else.
func (r *Run) Heartbeat(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Status.Terminal() {
		return fmt.Errorf("run %s already %s", r.meta.RunID, r.status.Status)
	}
	r.status.LastHeartbeat = time.Now().UTC()
	return r.writeStatus()
}

// Complete marks the run DONE with the produced output path. Progress
// is forced to 100.
func (r *Run) Complete(ctx context.Context, outputPath string) error {
	r.mu.Lock()
	r.status.OutputPath = outputPath
	r.mu.Unlock()

	done := StateDone
	progress := 100
	return r.UpdateState(ctx, StatusUpdate{Status: &done, Progress: &progress})
}

// Fail marks the run CRASHED with the given error message.
func (r *Run) Fail(ctx context.Context, errMsg string) error {
	crashed := StateCrashed
	return r.UpdateState(ctx, StatusUpdate{Status: &crashed, Error: &errMsg})
}

// Cancel marks the run CANCELLED.
func (r *Run) Cancel(ctx context.Context) error {
	cancelled := StateCancelled
	return r.UpdateState(ctx, StatusUpdate{Status: &cancelled})
}

// AddArtifact stores content under the run's artifacts/ directory and
// appends the name to the ordered artifact list.
func (r *Run) AddArtifact(ctx context.Context, name string, content []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", faults.NewValidation("artifact", "name %q must be a bare file name", name)
	}

	artifactsDir := filepath.Join(r.dir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return "", &faults.FilesystemError{Path: artifactsDir, Op: "mkdir", Err: err}
	}
	path := filepath.Join(artifactsDir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", &faults.FilesystemError{Path: path, Op: "write", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Artifacts = append(r.status.Artifacts, name)
	r.status.LastHeartbeat = time.Now().UTC()
	if err := r.writeStatus(); err != nil {
		return "", err
	}

	r.tracker.logger.Debug(ctx, "stored artifact",
		zap.String("run_id", r.meta.RunID),
		zap.String("artifact", name),
	)
	return path, nil
}

// writeStatus atomically persists the mutable document. Callers hold
// r.mu.
func (r *Run) writeStatus() error {
	return writeJSON(filepath.Join(r.dir, stateFile), r.status)
}

// writeJSON writes v atomically via temp file + rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &faults.FilesystemError{Path: dir, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &faults.FilesystemError{Path: tmpName, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &faults.FilesystemError{Path: tmpName, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &faults.FilesystemError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// readJSON loads path into v.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &faults.FilesystemError{Path: path, Op: "read", Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	return nil
}
