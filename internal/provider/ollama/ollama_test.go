package ollama

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/provider"
)

// daemonConfig points a provider at a test server standing in for the
// local daemon.
func daemonConfig(t *testing.T, srv *httptest.Server) provider.Config {
	t.Helper()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := provider.Config{Name: "local", Model: "test-model"}
	cfg.SetExtension(provider.ExtOllamaHost, host)
	cfg.SetExtension(provider.ExtOllamaPort, port)
	return cfg
}

func TestQueryHappyPath(t *testing.T) {
	var gotBody generateBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"response":"hello from llama","done":true}`))
	}))
	defer srv.Close()

	p, err := New(daemonConfig(t, srv))
	require.NoError(t, err)
	require.NoError(t, p.Init())
	require.NoError(t, p.Connect(context.Background()))

	var calls []provider.Response
	err = p.Query(context.Background(), "say hello", func(r provider.Response) {
		calls = append(calls, r)
	})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	require.True(t, calls[0].Success)
	require.Equal(t, "hello from llama", calls[0].Content)
	require.Equal(t, "test-model", gotBody.Model)
	require.False(t, gotBody.Stream)
	require.NoError(t, p.Cleanup())
}

func TestQueryEmptyPromptFailsOnce(t *testing.T) {
	p, err := New(provider.Config{Name: "local"})
	require.NoError(t, err)

	var calls []provider.Response
	err = p.Query(context.Background(), "", func(r provider.Response) {
		calls = append(calls, r)
	})
	require.Error(t, err)
	require.Equal(t, fault.NullArg, fault.KindOf(err))
	require.Len(t, calls, 1)
	require.False(t, calls[0].Success)
	require.Equal(t, int64(1), p.Failures())
}

func TestStreamEmitsChunksUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body generateBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, body.Stream)
		_, _ = w.Write([]byte(
			`{"response":"one ","done":false}` + "\n" +
				`{"response":"two ","done":false}` + "\n" +
				`{"response":"three","done":true}` + "\n" +
				`{"response":"never","done":false}` + "\n"))
	}))
	defer srv.Close()

	p, err := New(daemonConfig(t, srv))
	require.NoError(t, err)

	var chunks []string
	err = p.Stream(context.Background(), "count", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"one ", "two ", "three"}, chunks)
}

func TestConnectUnreachableDaemon(t *testing.T) {
	cfg := provider.Config{Name: "local"}
	cfg.SetExtension(provider.ExtOllamaHost, "127.0.0.1")
	cfg.SetExtension(provider.ExtOllamaPort, 1) // nothing listens here

	p, err := New(cfg)
	require.NoError(t, err)

	err = p.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, fault.Socket, fault.KindOf(err))
}

func TestDefaults(t *testing.T) {
	p, err := New(provider.Config{Name: "local"})
	require.NoError(t, err)

	require.Equal(t, provider.TypeOllama, p.Type())
	require.Equal(t, DefaultModel, p.Model())
	require.Equal(t, DefaultHost, p.host)
	require.Equal(t, DefaultPort, p.port)
	require.Equal(t, DefaultTimeout, p.timeout)
	require.True(t, p.SupportsStreaming())
	require.True(t, p.SupportsMemory())
}

func TestFactoryRegistered(t *testing.T) {
	require.True(t, provider.IsRegistered(provider.TypeOllama))
}
