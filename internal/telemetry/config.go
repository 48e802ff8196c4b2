// Package telemetry provides OpenTelemetry instrumentation for devflowd.
package telemetry

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/devflowd/internal/config"
)

// Config holds telemetry configuration. An empty endpoint disables
// export entirely; tracers and meters then come from the global no-op
// providers.
type Config struct {
	Endpoint       string          `koanf:"endpoint"`
	ServiceName    string          `koanf:"service_name"`
	ServiceVersion string          `koanf:"service_version"`
	Insecure       bool            `koanf:"insecure"`
	ExportInterval config.Duration `koanf:"export_interval"`
	ShutdownGrace  config.Duration `koanf:"shutdown_grace"`
}

// NewDefaultConfig returns telemetry defaults with export disabled.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "",
		ServiceName:    "devflowd",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		ExportInterval: config.Duration(15 * time.Second),
		ShutdownGrace:  config.Duration(5 * time.Second),
	}
}

// Enabled reports whether an export endpoint is configured.
func (c *Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("export_interval must be > 0")
	}
	return nil
}
