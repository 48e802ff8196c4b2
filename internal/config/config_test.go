package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "agents", cfg.Paths.WorkflowsDir)
	assert.Equal(t, "agent_runs", cfg.Paths.RunsDir)
	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.Equal(t, 10*time.Minute, cfg.Agent.Timeout.Duration())
	assert.Equal(t, "main", cfg.Forge.BaseBranch)
	assert.Equal(t, 2.0, cfg.Forge.RequestsPerSecond)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.PhaseTimeout.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Liveness.HeartbeatThreshold.Duration())
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "devflowd", cfg.Telemetry.ServiceName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:    "missing workflows dir",
			mutate:  func(c *Config) { c.Paths.WorkflowsDir = "" },
			wantErr: "paths.workflows_dir",
		},
		{
			name:    "missing agent binary",
			mutate:  func(c *Config) { c.Agent.Binary = "" },
			wantErr: "agent.binary",
		},
		{
			name:    "zero agent timeout",
			mutate:  func(c *Config) { c.Agent.Timeout = 0 },
			wantErr: "agent.timeout",
		},
		{
			name:    "zero phase timeout",
			mutate:  func(c *Config) { c.Pipeline.PhaseTimeout = 0 },
			wantErr: "pipeline.phase_timeout",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Forge.RequestsPerSecond = -1 },
			wantErr: "forge.requests_per_second",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	err := d.UnmarshalText([]byte("-5s"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("ghp_supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())

	// Secrets must never leak through serialization.
	out, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "supersecret")
	assert.Contains(t, string(out), "[REDACTED]")

	var empty Secret
	assert.False(t, empty.IsSet())
}
