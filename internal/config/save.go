package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigTemplate is written by `parley init`. It documents every
// section with its default commented out.
const DefaultConfigTemplate = `# parley configuration
# All values shown are the defaults.

# ports:
#   base: 9000          # role ranges: builder +0, coordinator +10,
#                       # requirements +20, analysis +30, reserved +40
#   max_entries: 32

# heartbeat:
#   timeout: 60s
#   max_missed: 3

# bus:
#   queue_capacity: 100
#   pending_cap: 50
#   request_timeout: 30s

# workflow:
#   profile: ""         # YAML phase profile; empty uses the built-in phases

# session:
#   base_branch: main

# archive:
#   enabled: false
#   path: ""            # default: <home>/archive/parley.db

# tracing:
#   enabled: false
#   exporter: file      # none, file, stdout, otlp
#   file_path: ""       # default: <home>/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

# cis:
#   - name: builder-1
#     role: builder
#     provider: anthropic
#     model: ""          # empty picks the provider default
#     port: 0            # 0 allocates from the role range
#     context_limit: 200000
`

// WriteDefaultConfig writes the commented default template to path,
// creating parent directories. Refuses to overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	return atomicWrite(path, []byte(DefaultConfigTemplate))
}

// atomicWrite writes data via a temp file and rename so a crash never
// leaves a half-written config.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".parley.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
