// Package config provides configuration types, defaults, and persistence
// for parley.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parleyhq/parley/internal/registry"
)

// Config holds all configuration options for parley.
type Config struct {
	Ports     PortsConfig     `mapstructure:"ports"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Bus       BusConfig       `mapstructure:"bus"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	CIs       []CIConfig      `mapstructure:"cis"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Session   SessionConfig   `mapstructure:"session"`
}

// PortsConfig holds the CI port space configuration.
type PortsConfig struct {
	// Base is the start of the port space. Roles occupy fixed offsets
	// above it, ten slots each.
	Base int `mapstructure:"base"`

	// MaxEntries bounds the registry.
	MaxEntries int `mapstructure:"max_entries"`
}

// HeartbeatConfig holds liveness thresholds.
type HeartbeatConfig struct {
	// Timeout is how stale a heartbeat may be before a check counts it
	// missed.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxMissed escalates a CI to error after this many missed checks.
	MaxMissed int `mapstructure:"max_missed"`
}

// BusConfig holds message-bus tuning.
type BusConfig struct {
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	PendingCap     int           `mapstructure:"pending_cap"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WorkflowConfig selects the phase profile for sessions.
type WorkflowConfig struct {
	// Profile is a YAML phase-profile path. Empty uses the built-in
	// default workflow.
	Profile string `mapstructure:"profile"`
}

// CIConfig declares one CI for `parley run`.
type CIConfig struct {
	Name         string         `mapstructure:"name"`
	Role         string         `mapstructure:"role"`
	Provider     string         `mapstructure:"provider"`
	Model        string         `mapstructure:"model"`
	Port         int            `mapstructure:"port"` // 0 allocates from the role range
	ContextLimit int            `mapstructure:"context_limit"`
	MaxTokens    int            `mapstructure:"max_tokens"`
	Extensions   map[string]any `mapstructure:"extensions"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the export backend.
	// Options: "none", "file", "stdout", "otlp". Default: "file".
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: <home>/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0). Default: 1.0.
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ArchiveConfig holds the session archive configuration.
type ArchiveConfig struct {
	// Enabled controls whether sessions and digests are archived.
	Enabled bool `mapstructure:"enabled"`

	// Path is the SQLite archive location.
	// Default: <home>/archive/parley.db
	Path string `mapstructure:"path"`
}

// SessionConfig holds per-run session settings.
type SessionConfig struct {
	// BaseBranch is the branch sessions start from. Default: "main".
	BaseBranch string `mapstructure:"base_branch"`
}

// Default returns the configuration parley runs with when no file is
// present.
func Default() Config {
	return Config{
		Ports: PortsConfig{
			Base:       registry.BasePort,
			MaxEntries: registry.DefaultMaxEntries,
		},
		Heartbeat: HeartbeatConfig{
			Timeout:   60 * time.Second,
			MaxMissed: 3,
		},
		Bus: BusConfig{
			QueueCapacity:  100,
			PendingCap:     50,
			RequestTimeout: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Archive: ArchiveConfig{
			Enabled: false,
		},
		Session: SessionConfig{
			BaseBranch: "main",
		},
	}
}

// HomeEnv overrides the parley library root.
const HomeEnv = "PARLEY_HOME"

// Home returns the parley library root: $PARLEY_HOME when set, else
// ~/.parley, else "" when no home directory is available.
func Home() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".parley")
}

// DefaultConfigPath returns the primary config file location.
func DefaultConfigPath() string {
	dir := Home()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "parley.yaml")
}

// DefaultArchivePath returns the default SQLite archive location.
func DefaultArchivePath() string {
	dir := Home()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "archive", "parley.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := Home()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Ports.Base < 1024 || c.Ports.Base > 65535-50 {
		return fmt.Errorf("ports.base %d outside usable range", c.Ports.Base)
	}
	if c.Heartbeat.Timeout < 0 {
		return fmt.Errorf("heartbeat.timeout must not be negative")
	}
	if c.Heartbeat.MaxMissed < 0 {
		return fmt.Errorf("heartbeat.max_missed must not be negative")
	}
	if c.Bus.QueueCapacity < 0 || c.Bus.PendingCap < 0 {
		return fmt.Errorf("bus capacities must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate %v outside [0,1]", c.Tracing.SampleRate)
	}
	switch c.Tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q invalid (must be none, file, stdout, or otlp)", c.Tracing.Exporter)
	}

	seen := make(map[string]bool, len(c.CIs))
	for i, ci := range c.CIs {
		if ci.Name == "" {
			return fmt.Errorf("cis[%d]: name is required", i)
		}
		if seen[ci.Name] {
			return fmt.Errorf("cis[%d]: duplicate name %q", i, ci.Name)
		}
		seen[ci.Name] = true
		if !registry.Role(ci.Role).IsValid() {
			return fmt.Errorf("cis[%d] (%s): invalid role %q", i, ci.Name, ci.Role)
		}
		if ci.Provider == "" {
			return fmt.Errorf("cis[%d] (%s): provider is required", i, ci.Name)
		}
	}
	return nil
}
