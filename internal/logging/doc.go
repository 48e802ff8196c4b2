// Package logging provides structured logging with OpenTelemetry integration.
//
// Logging wraps Zap with:
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, workflow_id, run_id, phase)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context correlation:
//
//	ctx = logging.WithWorkflowID(ctx, "a1b2c3d4")
//	ctx = logging.WithPhase(ctx, "build")
//	logger.Info(ctx, "phase started", zap.String("model", model))
//
// Use TestLogger for assertions in tests:
//
//	tl := logging.NewTestLogger()
//	tl.Warn(ctx, "dropping unknown key")
//	tl.AssertLogged(t, zapcore.WarnLevel, "dropping unknown key")
package logging
