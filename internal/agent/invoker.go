// Package agent invokes the coding-agent CLI as a subprocess and
// interprets its stream-json output.
package agent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflowd/internal/config"
	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/devflowd/internal/agent"

// Request describes one agent invocation.
type Request struct {
	// Prompt is the full prompt text handed to the agent.
	Prompt string

	// Model overrides the configured default when set.
	Model string

	// OutputFile receives the raw stream-json output.
	OutputFile string

	// PromptCopyPath, when set, receives a copy of the prompt for
	// audit before the agent starts.
	PromptCopyPath string
}

// Result is the interpreted outcome of an invocation.
type Result struct {
	Success   bool
	Output    string
	SessionID string
}

// Invoker runs the agent binary.
type Invoker struct {
	binary          string
	defaultModel    string
	timeout         time.Duration
	skipPermissions bool

	logger *logging.Logger
	tracer trace.Tracer
}

// NewInvoker creates an invoker from config.
func NewInvoker(cfg config.AgentConfig, logger *logging.Logger) (*Invoker, error) {
	if cfg.Binary == "" {
		return nil, errors.New("agent binary is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Invoker{
		binary:          cfg.Binary,
		defaultModel:    cfg.Model,
		timeout:         cfg.Timeout.Duration(),
		skipPermissions: cfg.SkipPermissions,
		logger:          logger,
		tracer:          otel.Tracer(instrumentationName),
	}, nil
}

// Run executes the agent and interprets its terminal result message.
// The raw stream goes to req.OutputFile regardless of outcome.
func (i *Invoker) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := i.tracer.Start(ctx, "agent.run")
	defer span.End()

	if req.Prompt == "" {
		return nil, faults.NewValidation("prompt", "must not be empty")
	}
	if req.OutputFile == "" {
		return nil, faults.NewValidation("output_file", "must not be empty")
	}

	model := req.Model
	if model == "" {
		model = i.defaultModel
	}
	span.SetAttributes(attribute.String("agent.model", model))

	if req.PromptCopyPath != "" {
		if err := writeFileMkdir(req.PromptCopyPath, []byte(req.Prompt)); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputFile), 0o755); err != nil {
		return nil, &faults.FilesystemError{Path: filepath.Dir(req.OutputFile), Op: "mkdir", Err: err}
	}
	out, err := os.Create(req.OutputFile)
	if err != nil {
		return nil, &faults.FilesystemError{Path: req.OutputFile, Op: "create", Err: err}
	}
	defer out.Close()

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	args := []string{"-p", req.Prompt, "--model", model, "--output-format", "stream-json", "--verbose"}
	if i.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	cmd := exec.CommandContext(ctx, i.binary, args...)
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	i.logger.Info(ctx, "invoking agent",
		zap.String("model", model),
		zap.String("output_file", req.OutputFile),
	)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		aerr := &faults.AgentError{
			Kind: faults.AgentTimeout,
			Msg:  "agent exceeded time limit after " + elapsed.Truncate(time.Second).String(),
			Err:  ctx.Err(),
		}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, aerr.Error())
		return nil, aerr
	}

	if runErr != nil {
		kind := faults.AgentGeneric
		if hasTokenLimitText(stderr.String()) {
			kind = faults.AgentResourceLimit
		}
		aerr := &faults.AgentError{
			Kind: kind,
			Msg:  strings.TrimSpace(stderr.String()),
			Err:  runErr,
		}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, aerr.Error())
		return nil, aerr
	}

	result, err := parseResultFile(req.OutputFile)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// No result message: hand back the raw stream as-is.
		raw, err := os.ReadFile(req.OutputFile)
		if err != nil {
			return nil, &faults.FilesystemError{Path: req.OutputFile, Op: "read", Err: err}
		}
		return &Result{Success: true, Output: string(raw)}, nil
	}

	span.SetAttributes(attribute.String("agent.session_id", result.SessionID))

	if result.Subtype == "error_during_execution" {
		return nil, &faults.AgentError{
			Kind:      faults.AgentGeneric,
			SessionID: result.SessionID,
			Msg:       "agent reported error during execution",
		}
	}
	if hasTokenLimitText(result.Result) {
		return nil, &faults.AgentError{
			Kind:      faults.AgentResourceLimit,
			SessionID: result.SessionID,
			Msg:       "agent hit token limit during execution",
		}
	}

	i.logger.Info(ctx, "agent finished",
		zap.Bool("success", !result.IsError),
		zap.String("session_id", result.SessionID),
		zap.Duration("elapsed", elapsed),
	)
	return &Result{
		Success:   !result.IsError,
		Output:    result.Result,
		SessionID: result.SessionID,
	}, nil
}

// hasTokenLimitText matches the agent's token limit phrasing in either
// the result text or stderr.
func hasTokenLimitText(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "token") && strings.Contains(lower, "limit")
}

func writeFileMkdir(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &faults.FilesystemError{Path: filepath.Dir(path), Op: "mkdir", Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &faults.FilesystemError{Path: path, Op: "write", Err: err}
	}
	return nil
}
