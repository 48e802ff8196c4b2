package runtrack

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

// RunHealth is the watcher's view of one active run. Stalled is derived
// at observation time and never written back to the record.
type RunHealth struct {
	RunID         string
	TaskType      string
	Progress      int
	LastHeartbeat time.Time
	Stalled       bool
}

// Watcher derives liveness for active runs by comparing last_heartbeat
// to a threshold. Directory changes arrive via fsnotify so observers
// see updates promptly without polling every write.
type Watcher struct {
	tracker   *Tracker
	threshold time.Duration
	logger    *logging.Logger
}

// NewWatcher creates a watcher over the tracker's run directory.
func NewWatcher(tracker *Tracker, threshold time.Duration, logger *logging.Logger) (*Watcher, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be > 0, got %v", threshold)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{tracker: tracker, threshold: threshold, logger: logger}, nil
}

// Snapshot reports every ACTIVE run with its derived liveness as of now.
func (w *Watcher) Snapshot(now time.Time) ([]RunHealth, error) {
	runs, err := w.tracker.List(StateActive)
	if err != nil {
		return nil, err
	}

	health := make([]RunHealth, 0, len(runs))
	for _, run := range runs {
		status := run.Status()
		health = append(health, RunHealth{
			RunID:         run.ID(),
			TaskType:      run.Meta().TaskType,
			Progress:      status.Progress,
			LastHeartbeat: status.LastHeartbeat,
			Stalled:       now.Sub(status.LastHeartbeat) > w.threshold,
		})
	}
	return health, nil
}

// Watch emits a fresh snapshot whenever the runs directory changes and
// at every threshold interval, so a run going quiet still flips to
// stalled without any file event. The channel closes when ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan []RunHealth, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}
	if err := fsw.Add(w.tracker.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", w.tracker.Dir(), err)
	}

	out := make(chan []RunHealth, 1)
	go func() {
		defer close(out)
		defer fsw.Close()

		// Run subdirectories are created after the root watch starts;
		// watch each so state.json rewrites inside them are seen.
		watched := make(map[string]bool)
		addRunDirs := func() {
			runs, err := w.tracker.List("")
			if err != nil {
				return
			}
			for _, run := range runs {
				if !watched[run.Dir()] {
					if err := fsw.Add(run.Dir()); err == nil {
						watched[run.Dir()] = true
					}
				}
			}
		}
		addRunDirs()

		emit := func() {
			health, err := w.Snapshot(time.Now().UTC())
			if err != nil {
				w.logger.Warn(ctx, "liveness snapshot failed", zap.Error(err))
				return
			}
			select {
			case out <- health:
			case <-ctx.Done():
			}
		}
		emit()

		ticker := time.NewTicker(w.threshold)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) {
					addRunDirs()
				}
				emit()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn(ctx, "fs watcher error", zap.Error(err))
			}
		}
	}()
	return out, nil
}
