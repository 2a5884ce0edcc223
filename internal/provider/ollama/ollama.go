// Package ollama implements the provider for a local ollama daemon:
// non-streaming queries through /api/generate and true streaming over the
// daemon's NDJSON response stream.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/httpjson"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/provider"
)

const (
	// DefaultHost is the daemon host.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the daemon port.
	DefaultPort = 11434
	// DefaultTimeout bounds one query.
	DefaultTimeout = 60 * time.Second
	// DefaultModel is used when the config names none.
	DefaultModel = "llama3.2"
	// connectProbeTimeout bounds the Connect reachability probe.
	connectProbeTimeout = 2 * time.Second
)

func init() {
	provider.Register(provider.TypeOllama, func(cfg provider.Config) (provider.Provider, error) {
		p, err := New(cfg)
		return p, err
	})
}

// Provider talks to one local ollama daemon. Connections are not reused;
// each query opens its own.
type Provider struct {
	provider.Base

	cfg     provider.Config
	model   string
	host    string
	port    int
	timeout time.Duration
	client  *httpjson.Client

	mu      sync.Mutex
	inited  bool
	cleaned bool
}

// New builds an ollama provider. ExtOllamaHost/ExtOllamaPort override the
// daemon address.
func New(cfg provider.Config) (*Provider, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	host := cfg.ExtensionString(provider.ExtOllamaHost)
	if host == "" {
		host = DefaultHost
	}
	port := cfg.ExtensionInt(provider.ExtOllamaPort)
	if port == 0 {
		port = DefaultPort
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{
		cfg:     cfg,
		model:   model,
		host:    host,
		port:    port,
		timeout: timeout,
		client:  httpjson.NewClient(timeout),
	}, nil
}

// Type returns the ollama provider type.
func (p *Provider) Type() provider.Type { return provider.TypeOllama }

// Name returns the owning CI's name.
func (p *Provider) Name() string { return p.cfg.Name }

// Model returns the effective model.
func (p *Provider) Model() string { return p.model }

// SupportsStreaming is true: the daemon streams NDJSON natively.
func (p *Provider) SupportsStreaming() bool { return true }

// SupportsMemory is true: a bound digest augments every prompt.
func (p *Provider) SupportsMemory() bool { return true }

// MaxContext returns the configured context window size.
func (p *Provider) MaxContext() int { return p.cfg.ContextLimit }

// Init marks the instance ready. Idempotent.
func (p *Provider) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inited = true
	p.cleaned = false
	return nil
}

// Connect probes the daemon port.
func (p *Provider) Connect(ctx context.Context) error {
	const op = "ollama.Connect"

	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	d := net.Dialer{Timeout: connectProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fault.Errorf(fault.Socket, op, "ollama daemon not reachable at %s", addr)
	}
	return conn.Close()
}

func (p *Provider) generateURL() string {
	return fmt.Sprintf("http://%s:%d/api/generate", p.host, p.port)
}

type generateBody struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Query posts one non-streaming generate request and delivers the full
// response through cb.
func (p *Provider) Query(ctx context.Context, prompt string, cb provider.Callback) error {
	const op = "ollama.Query"

	if prompt == "" {
		return p.Fail(cb, fault.New(fault.NullArg, op, "empty prompt"))
	}

	body, err := json.Marshal(generateBody{Model: p.model, Prompt: p.AugmentedPrompt(prompt), Stream: false})
	if err != nil {
		return p.Fail(cb, fault.Wrap(fault.Format, op, err))
	}

	resp, err := p.client.PostJSON(ctx, p.generateURL(), body, httpjson.Auth{}, nil)
	if err != nil {
		return p.Fail(cb, err)
	}

	var chunk generateChunk
	if err := json.Unmarshal(resp.Body, &chunk); err != nil {
		return p.Fail(cb, fault.Wrap(fault.Format, op, err))
	}

	p.Succeed(cb, chunk.Response, p.model)
	return nil
}

// Stream posts a streaming generate request and emits each NDJSON
// object's response field until the daemon reports done.
func (p *Provider) Stream(ctx context.Context, prompt string, cb provider.StreamCallback) error {
	const op = "ollama.Stream"

	if prompt == "" {
		return fault.New(fault.NullArg, op, "empty prompt")
	}

	body, err := json.Marshal(generateBody{Model: p.model, Prompt: p.AugmentedPrompt(prompt), Stream: true})
	if err != nil {
		return fault.Wrap(fault.Format, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.generateURL(), bytes.NewReader(body))
	if err != nil {
		return fault.Wrap(fault.IO, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.Socket, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpjson.StatusError(op, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fault.Wrap(fault.Format, op, err)
		}
		if chunk.Response != "" && cb != nil {
			cb(chunk.Response)
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fault.Wrap(fault.IO, op, err)
	}
	log.Warn(log.CatProvider, "Stream ended without done marker", "model", p.model)
	return nil
}

// Cleanup releases instance state. Idempotent.
func (p *Provider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleaned {
		return nil
	}
	p.inited = false
	p.cleaned = true
	return nil
}

var _ provider.Provider = (*Provider)(nil)
