// Package remote implements the HTTP-JSON provider used for every hosted
// vendor. One table-driven implementation covers Anthropic, OpenAI, Gemini,
// and Mistral: each vendor contributes a URL, an auth scheme, a request
// body builder, and a response extraction path.
package remote

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/httpjson"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/provider"
)

// minCredentialLen is the shortest value a credential env var may hold and
// still count as configured.
const minCredentialLen = 10

// scratchHeadroom is the extra capacity kept when the response scratch
// buffer grows.
const scratchHeadroom = 1024

// Vendor describes one hosted HTTP backend.
type Vendor struct {
	Name             provider.Type
	URL              string
	Auth             httpjson.AuthKind
	AuthName         string
	CredentialEnv    string
	ExtraHeaders     []httpjson.Header
	ResponsePath     []string
	URLIncludesModel bool
	DefaultModel     string
	BuildBody        func(model, prompt string, maxTokens int) ([]byte, error)
}

// Available reports whether the vendor's credential is configured: the env
// var is non-empty and at least 10 characters.
func (v Vendor) Available() bool {
	return len(os.Getenv(v.CredentialEnv)) >= minCredentialLen
}

type chatBody struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatBody(model, prompt string, maxTokens int) ([]byte, error) {
	return json.Marshal(chatBody{
		Model:     model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
}

func buildGeminiBody(_, prompt string, _ int) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Parts []part `json:"parts"`
	}
	return json.Marshal(struct {
		Contents []content `json:"contents"`
	}{Contents: []content{{Parts: []part{{Text: prompt}}}}})
}

// Vendors is the hosted-backend table, keyed by provider type.
var Vendors = map[provider.Type]Vendor{
	provider.TypeAnthropic: {
		Name:          provider.TypeAnthropic,
		URL:           "https://api.anthropic.com/v1/messages",
		Auth:          httpjson.AuthHeader,
		AuthName:      "x-api-key",
		CredentialEnv: "ANTHROPIC_API_KEY",
		ExtraHeaders:  []httpjson.Header{{Name: "anthropic-version", Value: "2023-06-01"}},
		ResponsePath:  []string{"content", "text"},
		DefaultModel:  "claude-sonnet-4-20250514",
		BuildBody: func(model, prompt string, maxTokens int) ([]byte, error) {
			return json.Marshal(struct {
				Model     string        `json:"model"`
				MaxTokens int           `json:"max_tokens"`
				Messages  []chatMessage `json:"messages"`
			}{Model: model, MaxTokens: maxTokens, Messages: []chatMessage{{Role: "user", Content: prompt}}})
		},
	},
	provider.TypeOpenAI: {
		Name:          provider.TypeOpenAI,
		URL:           "https://api.openai.com/v1/chat/completions",
		Auth:          httpjson.AuthBearer,
		CredentialEnv: "OPENAI_API_KEY",
		ResponsePath:  []string{"choices", "message", "content"},
		DefaultModel:  "gpt-4o",
		BuildBody:     buildChatBody,
	},
	provider.TypeGemini: {
		Name:             provider.TypeGemini,
		URL:              "https://generativelanguage.googleapis.com/v1beta/models",
		Auth:             httpjson.AuthURLParam,
		AuthName:         "key",
		CredentialEnv:    "GEMINI_API_KEY",
		ResponsePath:     []string{"candidates", "content", "parts", "text"},
		URLIncludesModel: true,
		DefaultModel:     "gemini-2.0-flash",
		BuildBody:        buildGeminiBody,
	},
	provider.TypeMistral: {
		Name:          provider.TypeMistral,
		URL:           "https://api.mistral.ai/v1/chat/completions",
		Auth:          httpjson.AuthBearer,
		CredentialEnv: "MISTRAL_API_KEY",
		ResponsePath:  []string{"choices", "message", "content"},
		DefaultModel:  "mistral-large-latest",
		BuildBody:     buildChatBody,
	},
}

func init() {
	for t := range Vendors {
		vendor := Vendors[t]
		provider.Register(t, func(cfg provider.Config) (provider.Provider, error) {
			p, err := New(vendor, cfg)
			return p, err
		})
	}
}

// Provider is one remote HTTP provider instance.
type Provider struct {
	provider.Base

	vendor Vendor
	cfg    provider.Config
	model  string
	client *httpjson.Client

	mu      sync.Mutex
	scratch []byte
	inited  bool
	cleaned bool
}

// New builds a remote provider. cfg.Model overrides the vendor default.
func New(vendor Vendor, cfg provider.Config) (*Provider, error) {
	const op = "remote.New"

	if vendor.URL == "" || vendor.BuildBody == nil {
		return nil, fault.Errorf(fault.InvalidValue, op, "vendor %q is not fully specified", vendor.Name)
	}
	if len(cfg.Model) > 63 {
		return nil, fault.Errorf(fault.TooLarge, op, "model name %q exceeds 63 characters", cfg.Model)
	}
	model := cfg.Model
	if model == "" {
		model = vendor.DefaultModel
	}
	return &Provider{
		vendor: vendor,
		cfg:    cfg,
		model:  model,
		client: httpjson.NewClient(cfg.Timeout),
	}, nil
}

// Type returns the vendor's provider type.
func (p *Provider) Type() provider.Type { return p.vendor.Name }

// Name returns the owning CI's name.
func (p *Provider) Name() string { return p.cfg.Name }

// Model returns the effective model.
func (p *Provider) Model() string { return p.model }

// SupportsStreaming is false: remote vendors are queried whole.
func (p *Provider) SupportsStreaming() bool { return false }

// SupportsMemory is true: a bound digest augments every prompt.
func (p *Provider) SupportsMemory() bool { return true }

// MaxContext returns the configured context window size.
func (p *Provider) MaxContext() int { return p.cfg.ContextLimit }

// Available reports whether this vendor's credential is configured.
func (p *Provider) Available() bool { return p.vendor.Available() }

// Init allocates the response scratch buffer on first call.
func (p *Provider) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inited {
		p.scratch = make([]byte, 0, scratchHeadroom)
		p.inited = true
		p.cleaned = false
	}
	return nil
}

// Connect is a no-op: remote vendors have no persistent connection.
func (p *Provider) Connect(ctx context.Context) error { return nil }

// Query renders the vendor request, posts it, extracts the response
// content, and delivers it through cb. Non-2xx statuses surface as their
// mapped fault kinds; the callback fires exactly once either way.
func (p *Provider) Query(ctx context.Context, prompt string, cb provider.Callback) error {
	const op = "remote.Query"

	if prompt == "" {
		return p.Fail(cb, fault.New(fault.NullArg, op, "empty prompt"))
	}

	final := p.AugmentedPrompt(prompt)
	body, err := p.vendor.BuildBody(p.model, final, p.cfg.MaxTokens)
	if err != nil {
		return p.Fail(cb, fault.Wrap(fault.Format, op, err))
	}

	url := p.vendor.URL
	if p.vendor.URLIncludesModel {
		url += "/" + p.model + ":generateContent"
	}
	auth := httpjson.Auth{Kind: p.vendor.Auth, Name: p.vendor.AuthName, Value: os.Getenv(p.vendor.CredentialEnv)}

	resp, err := p.client.PostJSON(ctx, url, body, auth, p.vendor.ExtraHeaders)
	if err != nil {
		if resp != nil {
			log.Warn(log.CatProvider, "Vendor returned non-success status",
				"vendor", p.vendor.Name, "status", resp.Status, "body", string(resp.Body))
		}
		return p.Fail(cb, err)
	}

	content, err := httpjson.ExtractStringByPath(resp.Body, p.vendor.ResponsePath)
	if err != nil {
		return p.Fail(cb, err)
	}

	p.commit(content)
	p.Succeed(cb, content, p.model)
	return nil
}

// Stream delegates to Query and emits the full content as one chunk.
func (p *Provider) Stream(ctx context.Context, prompt string, cb provider.StreamCallback) error {
	return p.Query(ctx, prompt, func(r provider.Response) {
		if r.Success && cb != nil {
			cb(r.Content)
		}
	})
}

// Cleanup releases the scratch buffer. Idempotent.
func (p *Provider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleaned {
		return nil
	}
	p.scratch = nil
	p.inited = false
	p.cleaned = true
	return nil
}

// LastContent returns the most recently committed response content.
func (p *Provider) LastContent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.scratch)
}

// commit copies content into the scratch buffer, growing it with headroom
// so steady-state queries stop allocating.
func (p *Provider) commit(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cap(p.scratch) < len(content) {
		p.scratch = make([]byte, 0, len(content)+scratchHeadroom)
	}
	p.scratch = append(p.scratch[:0], content...)
}

var _ provider.Provider = (*Provider)(nil)
