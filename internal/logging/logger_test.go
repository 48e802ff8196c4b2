package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("debug", "json", true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Caller)

	_, err = ParseConfig("verbose", "json", false)
	assert.Error(t, err)

	_, err = ParseConfig("info", "xml", false)
	assert.Error(t, err)
}

func TestLogger_ContextFieldInjection(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithWorkflowID(context.Background(), "a1b2c3d4")
	ctx = WithRunID(ctx, "run-20260828-xyz")
	ctx = WithPhase(ctx, "build")

	tl.Info(ctx, "phase started", zap.String("model", "sonnet"))

	tl.AssertLogged(t, zapcore.InfoLevel, "phase started")
	tl.AssertField(t, "phase started", "workflow_id", "a1b2c3d4")
	tl.AssertField(t, "phase started", "run_id", "run-20260828-xyz")
	tl.AssertField(t, "phase started", "phase", "build")
	tl.AssertField(t, "phase started", "model", "sonnet")
}

func TestLogger_ChildLoggers(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	child := tl.With(zap.String("component", "finalize"))
	child.Warn(ctx, "push retried")

	entries := tl.FilterMessage("push retried").All()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Context, 1)
	assert.Equal(t, "component", entries[0].Context[0].Key)
}

func TestFromContext(t *testing.T) {
	// Absent logger yields a usable nop, not nil.
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	logger.Info(context.Background(), "must not panic")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}
