// Package config provides configuration loading for devflowd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for devflowd.
type Config struct {
	Paths     PathsConfig     `koanf:"paths"`
	Agent     AgentConfig     `koanf:"agent"`
	Forge     ForgeConfig     `koanf:"forge"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Liveness  LivenessConfig  `koanf:"liveness"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// PathsConfig locates the per-workflow and per-run directory trees.
type PathsConfig struct {
	// WorkflowsDir holds one subdirectory per workflow_id with its
	// state.json checkpoint file.
	WorkflowsDir string `koanf:"workflows_dir"`

	// RunsDir holds one subdirectory per run_id plus the "latest" pointer.
	RunsDir string `koanf:"runs_dir"`
}

// AgentConfig configures the coding-agent CLI invocation.
type AgentConfig struct {
	// Binary is the agent executable. Default: "claude".
	Binary string `koanf:"binary"`

	// Model is the default model hint when a task type has no mapping.
	Model string `koanf:"model"`

	// Timeout is the wall-clock limit for one agent invocation.
	Timeout Duration `koanf:"timeout"`

	// SkipPermissions passes the agent's permission-bypass flag.
	// Only sensible inside a sandboxed checkout.
	SkipPermissions bool `koanf:"skip_permissions"`
}

// ForgeConfig configures the hosting-provider API client.
type ForgeConfig struct {
	Token      Secret `koanf:"token"`
	Owner      string `koanf:"owner"`
	Repo       string `koanf:"repo"`
	BaseBranch string `koanf:"base_branch"`

	// RequestsPerSecond paces API calls. Default: 2.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// PipelineConfig configures the phase orchestrator.
type PipelineConfig struct {
	// PhaseTimeout is the wall-clock limit for one spawned phase process.
	PhaseTimeout Duration `koanf:"phase_timeout"`

	// Parallel runs test/review/document concurrently by default.
	Parallel bool `koanf:"parallel"`
}

// LivenessConfig configures the run liveness monitor.
type LivenessConfig struct {
	// HeartbeatThreshold is the maximum heartbeat age before an active
	// run is reported as stalled.
	HeartbeatThreshold Duration `koanf:"heartbeat_threshold"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// TelemetryConfig configures the OTLP exporters. An empty endpoint
// disables export entirely.
type TelemetryConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Paths.WorkflowsDir == "" {
		return fmt.Errorf("paths.workflows_dir is required")
	}
	if c.Paths.RunsDir == "" {
		return fmt.Errorf("paths.runs_dir is required")
	}
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary is required")
	}
	if c.Agent.Timeout.Duration() <= 0 {
		return fmt.Errorf("agent.timeout must be > 0")
	}
	if c.Pipeline.PhaseTimeout.Duration() <= 0 {
		return fmt.Errorf("pipeline.phase_timeout must be > 0")
	}
	if c.Liveness.HeartbeatThreshold.Duration() <= 0 {
		return fmt.Errorf("liveness.heartbeat_threshold must be > 0")
	}
	if c.Forge.RequestsPerSecond <= 0 {
		return fmt.Errorf("forge.requests_per_second must be > 0")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Paths.WorkflowsDir == "" {
		cfg.Paths.WorkflowsDir = "agents"
	}
	if cfg.Paths.RunsDir == "" {
		cfg.Paths.RunsDir = "agent_runs"
	}
	if cfg.Agent.Binary == "" {
		cfg.Agent.Binary = "claude"
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "sonnet"
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = Duration(10 * time.Minute)
	}
	if cfg.Forge.BaseBranch == "" {
		cfg.Forge.BaseBranch = "main"
	}
	if cfg.Forge.RequestsPerSecond == 0 {
		cfg.Forge.RequestsPerSecond = 2
	}
	if cfg.Pipeline.PhaseTimeout == 0 {
		cfg.Pipeline.PhaseTimeout = Duration(30 * time.Minute)
	}
	if cfg.Liveness.HeartbeatThreshold == 0 {
		cfg.Liveness.HeartbeatThreshold = Duration(2 * time.Minute)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "devflowd"
	}
}
