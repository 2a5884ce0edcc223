package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/httpjson"
	"github.com/parleyhq/parley/internal/provider"
)

// stubVendor builds a vendor pointed at a test server, shaped like the
// Anthropic entry: bearer auth, content/text extraction path.
func stubVendor(url string) Vendor {
	return Vendor{
		Name:          provider.TypeAnthropic,
		URL:           url,
		Auth:          httpjson.AuthBearer,
		CredentialEnv: "PARLEY_TEST_KEY",
		ResponsePath:  []string{"content", "text"},
		DefaultModel:  "test-model",
		BuildBody: func(model, prompt string, maxTokens int) ([]byte, error) {
			return json.Marshal(map[string]any{
				"model":      model,
				"max_tokens": maxTokens,
				"prompt":     prompt,
			})
		},
	}
}

func TestQueryHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"text":"OK"}]}`))
	}))
	defer srv.Close()

	p, err := New(stubVendor(srv.URL), provider.Config{Name: "alpha", MaxTokens: 4096})
	require.NoError(t, err)
	require.NoError(t, p.Init())
	require.NoError(t, p.Connect(context.Background()))

	var calls []provider.Response
	err = p.Query(context.Background(), "Reply with just 'OK' and nothing else.", func(r provider.Response) {
		calls = append(calls, r)
	})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	require.True(t, calls[0].Success)
	require.Equal(t, "OK", calls[0].Content)
	require.Equal(t, "test-model", calls[0].ModelUsed)
	require.False(t, calls[0].Timestamp.IsZero())
	require.Equal(t, "OK", p.LastContent())
	require.Equal(t, int64(1), p.Queries())
	require.Equal(t, int64(0), p.Failures())
}

func TestQueryRateLimitFailsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate"}`))
	}))
	defer srv.Close()

	p, err := New(stubVendor(srv.URL), provider.Config{Name: "alpha", MaxTokens: 4096})
	require.NoError(t, err)
	require.NoError(t, p.Init())

	var calls []provider.Response
	err = p.Query(context.Background(), "Reply with just 'OK' and nothing else.", func(r provider.Response) {
		calls = append(calls, r)
	})
	require.Error(t, err)
	require.Equal(t, fault.HTTPRateLimit, fault.KindOf(err))

	// The failure path fires the callback exactly once, with success=false.
	require.Len(t, calls, 1)
	require.False(t, calls[0].Success)
	require.Equal(t, fault.HTTPRateLimit, calls[0].ErrKind)

	// A failed query never commits to the scratch buffer.
	require.Empty(t, p.LastContent())
	require.Equal(t, int64(1), p.Failures())
}

func TestQueryAugmentsPromptFromDigest(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPrompt = body.Prompt
		_, _ = w.Write([]byte(`{"content":[{"text":"noted"}]}`))
	}))
	defer srv.Close()

	p, err := New(stubVendor(srv.URL), provider.Config{Name: "alpha"})
	require.NoError(t, err)
	p.BindDigest(stubDigest{})

	require.NoError(t, p.Query(context.Background(), "do the thing", nil))
	require.Equal(t, "CONTEXT\ndo the thing", gotPrompt)
}

type stubDigest struct{}

func (stubDigest) AugmentPrompt(prompt string) string { return "CONTEXT\n" + prompt }

func TestQueryGeminiURLComposition(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	}))
	defer srv.Close()

	t.Setenv("PARLEY_TEST_KEY", "0123456789abc")

	vendor := stubVendor(srv.URL)
	vendor.Auth = httpjson.AuthURLParam
	vendor.AuthName = "key"
	vendor.URLIncludesModel = true
	vendor.ResponsePath = []string{"candidates", "content", "parts", "text"}

	p, err := New(vendor, provider.Config{Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	require.NoError(t, p.Query(context.Background(), "hello", nil))

	require.Equal(t, "/gemini-2.0-flash:generateContent", gotPath)
	require.Equal(t, "key=0123456789abc", gotQuery)
}

func TestAvailabilityNeedsTenCharCredential(t *testing.T) {
	vendor := stubVendor("http://unused")

	t.Setenv("PARLEY_TEST_KEY", "")
	require.False(t, vendor.Available())

	t.Setenv("PARLEY_TEST_KEY", "short")
	require.False(t, vendor.Available())

	t.Setenv("PARLEY_TEST_KEY", "0123456789")
	require.True(t, vendor.Available())
}

func TestCleanupIdempotent(t *testing.T) {
	p, err := New(stubVendor("http://unused"), provider.Config{})
	require.NoError(t, err)
	require.NoError(t, p.Init())
	require.NoError(t, p.Cleanup())
	require.NoError(t, p.Cleanup())
}

func TestNewRejectsOverlongModel(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'm'
	}
	_, err := New(stubVendor("http://unused"), provider.Config{Model: string(long)})
	require.Error(t, err)
	require.Equal(t, fault.TooLarge, fault.KindOf(err))
}

func TestVendorTableRegistered(t *testing.T) {
	for _, typ := range []provider.Type{
		provider.TypeAnthropic, provider.TypeOpenAI, provider.TypeGemini, provider.TypeMistral,
	} {
		require.True(t, provider.IsRegistered(typ), "vendor %s", typ)
	}
}
