package filebridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/provider"
)

// bridgeConfig builds a fast-polling provider over a temp exchange dir.
func bridgeConfig(t *testing.T, timeout time.Duration) (provider.Config, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := provider.Config{Name: "operator", Timeout: timeout}
	cfg.SetExtension(provider.ExtBridgeDir, dir)
	cfg.SetExtension(provider.ExtBridgePoll, 10*time.Millisecond)
	return cfg, dir
}

// answer waits for the next .prompt file in dir and writes the paired
// response.
func answer(t *testing.T, dir, response string) {
	t.Helper()

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			matches, _ := filepath.Glob(filepath.Join(dir, "*.prompt"))
			if len(matches) > 0 {
				responsePath := matches[0][:len(matches[0])-len(".prompt")] + ".response"
				_ = os.WriteFile(responsePath, []byte(response), 0600)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestQueryRoundTrip(t *testing.T) {
	cfg, dir := bridgeConfig(t, 5*time.Second)

	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Init())
	require.NoError(t, p.Connect(context.Background()))

	answer(t, dir, "operator says yes")

	var calls []provider.Response
	err = p.Query(context.Background(), "may I proceed?", func(r provider.Response) {
		calls = append(calls, r)
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.True(t, calls[0].Success)
	require.Equal(t, "operator says yes", calls[0].Content)

	// Both exchange files are removed when the query completes.
	prompts, _ := filepath.Glob(filepath.Join(dir, "*.prompt"))
	responses, _ := filepath.Glob(filepath.Join(dir, "*.response"))
	require.Empty(t, prompts)
	require.Empty(t, responses)
}

func TestQueryWritesAugmentedPromptFile(t *testing.T) {
	cfg, dir := bridgeConfig(t, 5*time.Second)

	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Init())

	var captured string
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			matches, _ := filepath.Glob(filepath.Join(dir, "*.prompt"))
			if len(matches) > 0 {
				data, _ := os.ReadFile(matches[0])
				captured = string(data)
				responsePath := matches[0][:len(matches[0])-len(".prompt")] + ".response"
				_ = os.WriteFile(responsePath, []byte("ack"), 0600)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	err = p.Query(context.Background(), "the actual prompt", func(provider.Response) {})
	require.NoError(t, err)
	require.Contains(t, captured, "the actual prompt")
}

func TestQueryTimesOut(t *testing.T) {
	cfg, _ := bridgeConfig(t, 80*time.Millisecond)

	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Init())

	var calls []provider.Response
	err = p.Query(context.Background(), "anyone there?", func(r provider.Response) {
		calls = append(calls, r)
	})
	require.Error(t, err)
	require.Equal(t, fault.Timeout, fault.KindOf(err))
	require.Len(t, calls, 1)
	require.False(t, calls[0].Success)
}

func TestEmptyResponseFileIsNotAResponse(t *testing.T) {
	cfg, dir := bridgeConfig(t, 150*time.Millisecond)

	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Init())

	// Touch an empty response file before the real content lands; the
	// provider must keep waiting.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			matches, _ := filepath.Glob(filepath.Join(dir, "*.prompt"))
			if len(matches) > 0 {
				responsePath := matches[0][:len(matches[0])-len(".prompt")] + ".response"
				_ = os.WriteFile(responsePath, nil, 0600)
				time.Sleep(30 * time.Millisecond)
				_ = os.WriteFile(responsePath, []byte("real content"), 0600)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	var content string
	err = p.Query(context.Background(), "wait for it", func(r provider.Response) {
		content = r.Content
	})
	require.NoError(t, err)
	require.Equal(t, "real content", content)
}

func TestSequentialQueriesUseDistinctFiles(t *testing.T) {
	p, err := New(provider.Config{Name: "seq"})
	require.NoError(t, err)

	p1, r1 := p.exchangePaths()
	p2, r2 := p.exchangePaths()
	require.NotEqual(t, p1, p2)
	require.NotEqual(t, r1, r2)
}

func TestFactoryRegistered(t *testing.T) {
	require.True(t, provider.IsRegistered(provider.TypeFileBridge))
}
