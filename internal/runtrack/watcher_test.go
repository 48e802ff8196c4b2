package runtrack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

func TestWatcher_Snapshot(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	live, err := tracker.Start(ctx, "build", "", StartOptions{})
	require.NoError(t, err)
	quiet, err := tracker.Start(ctx, "test", "", StartOptions{})
	require.NoError(t, err)
	done, err := tracker.Start(ctx, "plan", "", StartOptions{})
	require.NoError(t, err)
	require.NoError(t, done.Complete(ctx, ""))

	watcher, err := NewWatcher(tracker, 50*time.Millisecond, logging.NewNop())
	require.NoError(t, err)

	// Immediately after start: everything active is live, terminal
	// runs are not reported at all.
	health, err := watcher.Snapshot(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, health, 2)
	for _, h := range health {
		assert.False(t, h.Stalled)
	}

	// Let both heartbeats age past the threshold, then refresh one.
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, live.Heartbeat(ctx))

	health, err = watcher.Snapshot(time.Now().UTC())
	require.NoError(t, err)
	byID := make(map[string]RunHealth)
	for _, h := range health {
		byID[h.RunID] = h
	}
	assert.True(t, byID[quiet.ID()].Stalled)
	assert.False(t, byID[live.ID()].Stalled)
}

func TestWatcher_Validation(t *testing.T) {
	tracker := newTestTracker(t)

	_, err := NewWatcher(nil, time.Minute, nil)
	assert.Error(t, err)

	_, err = NewWatcher(tracker, 0, nil)
	assert.Error(t, err)
}

func TestWatcher_WatchEmitsOnChange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tracker := newTestTracker(t)

	run, err := tracker.Start(ctx, "build", "", StartOptions{})
	require.NoError(t, err)

	watcher, err := NewWatcher(tracker, time.Minute, logging.NewNop())
	require.NoError(t, err)

	snapshots, err := watcher.Watch(ctx)
	require.NoError(t, err)

	// The initial snapshot arrives without any event.
	first, ok := <-snapshots
	require.True(t, ok)
	require.Len(t, first, 1)
	assert.Equal(t, run.ID(), first[0].RunID)

	// A progress write lands as a follow-up snapshot.
	progress := 50
	require.NoError(t, run.UpdateState(ctx, StatusUpdate{Progress: &progress}))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-snapshots:
			require.True(t, ok, "channel closed before update observed")
			if len(snap) == 1 && snap[0].Progress == 50 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for updated snapshot")
		}
	}
}
