package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 9000, cfg.Ports.Base)
	require.Equal(t, 32, cfg.Ports.MaxEntries)
	require.Equal(t, 60*time.Second, cfg.Heartbeat.Timeout)
	require.Equal(t, 3, cfg.Heartbeat.MaxMissed)
	require.Equal(t, "main", cfg.Session.BaseBranch)
	require.False(t, cfg.Tracing.Enabled)
}

func TestHomeHonorsEnvOverride(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/parley-test-home")
	require.Equal(t, "/tmp/parley-test-home", Home())
	require.Equal(t, filepath.Join("/tmp/parley-test-home", "parley.yaml"), DefaultConfigPath())
	require.Equal(t, filepath.Join("/tmp/parley-test-home", "archive", "parley.db"), DefaultArchivePath())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port below 1024", func(c *Config) { c.Ports.Base = 80 }},
		{"negative heartbeat timeout", func(c *Config) { c.Heartbeat.Timeout = -time.Second }},
		{"sample rate above 1", func(c *Config) { c.Tracing.SampleRate = 1.5 }},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "pigeon" }},
		{"ci without name", func(c *Config) {
			c.CIs = []CIConfig{{Role: "builder", Provider: "mock"}}
		}},
		{"ci with bad role", func(c *Config) {
			c.CIs = []CIConfig{{Name: "x", Role: "wizard", Provider: "mock"}}
		}},
		{"ci without provider", func(c *Config) {
			c.CIs = []CIConfig{{Name: "x", Role: "builder"}}
		}},
		{"duplicate ci names", func(c *Config) {
			c.CIs = []CIConfig{
				{Name: "x", Role: "builder", Provider: "mock"},
				{Name: "x", Role: "analysis", Provider: "mock"},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestUnmarshalFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	content := `
ports:
  base: 10000
heartbeat:
  timeout: 90s
  max_missed: 5
bus:
  queue_capacity: 20
cis:
  - name: builder-1
    role: builder
    provider: mock
    context_limit: 8192
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg := Default()
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	require.Equal(t, 10000, cfg.Ports.Base)
	require.Equal(t, 90*time.Second, cfg.Heartbeat.Timeout)
	require.Equal(t, 5, cfg.Heartbeat.MaxMissed)
	require.Equal(t, 20, cfg.Bus.QueueCapacity)
	// Defaults survive where the file is silent.
	require.Equal(t, 50, cfg.Bus.PendingCap)
	require.Len(t, cfg.CIs, 1)
	require.Equal(t, "builder-1", cfg.CIs[0].Name)
	require.Equal(t, 8192, cfg.CIs[0].ContextLimit)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "parley.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# parley configuration")

	// The template must parse as YAML.
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	// Refuses to overwrite.
	require.Error(t, WriteDefaultConfig(path))
}

func TestWriteDefaultConfigEmptyPath(t *testing.T) {
	require.Error(t, WriteDefaultConfig(""))
}
