package provider

import "time"

// Config holds provider-agnostic instance configuration. Backend-specific
// settings travel in Extensions under the Ext* keys.
type Config struct {
	// Name is the owning CI's name, used in logs and exchange file names.
	Name string

	// Model selects the backend model. Empty picks the backend default.
	Model string

	// MaxTokens caps the response size for backends that accept it.
	MaxTokens int

	// ContextLimit is the model's context window size, used to bound the
	// memory digest.
	ContextLimit int

	// WorkDir is the working directory for subprocess providers.
	WorkDir string

	// Timeout bounds one query. Zero picks the backend default.
	Timeout time.Duration

	// Extensions holds backend-specific configuration under Ext* keys.
	Extensions map[string]any
}

// Extension keys for backend-specific configuration.
const (
	// ExtCLICommand is the subprocess binary name (string).
	ExtCLICommand = "cli.command"
	// ExtCLIArgs is the subprocess argument list ([]string).
	ExtCLIArgs = "cli.args"
	// ExtCLIEcho mirrors subprocess output to this process's stdout (bool).
	ExtCLIEcho = "cli.echo"
	// ExtCLIWorkingFile persists the latest response to a scratch file (string).
	ExtCLIWorkingFile = "cli.working_file"

	// ExtOllamaHost overrides the daemon host (string, default 127.0.0.1).
	ExtOllamaHost = "ollama.host"
	// ExtOllamaPort overrides the daemon port (int, default 11434).
	ExtOllamaPort = "ollama.port"

	// ExtBridgeDir is the exchange directory for file-mediated sessions (string).
	ExtBridgeDir = "bridge.dir"
	// ExtBridgePoll overrides the response poll interval (time.Duration, default 1s).
	ExtBridgePoll = "bridge.poll"

	// ExtMockResponse is a fixed scripted response (string).
	ExtMockResponse = "mock.response"
	// ExtMockResponses is a response sequence to cycle through ([]string).
	ExtMockResponses = "mock.responses"
	// ExtMockFailKind makes every query fail with the given fault kind (string).
	ExtMockFailKind = "mock.fail_kind"
)

// SetExtension stores a backend-specific value, allocating the map if
// needed.
func (c *Config) SetExtension(key string, value any) {
	if c.Extensions == nil {
		c.Extensions = make(map[string]any)
	}
	c.Extensions[key] = value
}

// ExtensionString returns a string extension, or "" when absent or not a
// string.
func (c *Config) ExtensionString(key string) string {
	if c.Extensions == nil {
		return ""
	}
	if v, ok := c.Extensions[key].(string); ok {
		return v
	}
	return ""
}

// ExtensionInt returns an int extension, or 0 when absent or not an int.
func (c *Config) ExtensionInt(key string) int {
	if c.Extensions == nil {
		return 0
	}
	if v, ok := c.Extensions[key].(int); ok {
		return v
	}
	return 0
}

// ExtensionBool returns a bool extension, or false when absent.
func (c *Config) ExtensionBool(key string) bool {
	if c.Extensions == nil {
		return false
	}
	if v, ok := c.Extensions[key].(bool); ok {
		return v
	}
	return false
}

// ExtensionStrings returns a []string extension, or nil when absent.
func (c *Config) ExtensionStrings(key string) []string {
	if c.Extensions == nil {
		return nil
	}
	if v, ok := c.Extensions[key].([]string); ok {
		return v
	}
	return nil
}

// ExtensionDuration returns a duration extension, or 0 when absent.
func (c *Config) ExtensionDuration(key string) time.Duration {
	if c.Extensions == nil {
		return 0
	}
	if v, ok := c.Extensions[key].(time.Duration); ok {
		return v
	}
	return 0
}
