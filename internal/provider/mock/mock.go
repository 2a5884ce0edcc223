// Package mock implements the scripted provider used in tests: a fixed
// response or a cycled sequence, recorded prompts, and optional forced
// failures.
package mock

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/provider"
)

// DefaultResponse is returned when the config scripts nothing.
const DefaultResponse = "ok"

func init() {
	provider.Register(provider.TypeMock, func(cfg provider.Config) (provider.Provider, error) {
		p, err := New(cfg)
		return p, err
	})
}

// Provider is a deterministic scripted backend.
type Provider struct {
	provider.Base

	cfg       provider.Config
	responses []string
	failKind  fault.Kind

	mu         sync.Mutex
	next       int
	lastPrompt string
	queried    int
	inited     bool
	cleaned    bool
}

// New builds a mock provider. ExtMockResponses cycles a sequence,
// ExtMockResponse fixes a single response, ExtMockFailKind forces every
// query to fail with that kind.
func New(cfg provider.Config) (*Provider, error) {
	responses := cfg.ExtensionStrings(provider.ExtMockResponses)
	if len(responses) == 0 {
		if r := cfg.ExtensionString(provider.ExtMockResponse); r != "" {
			responses = []string{r}
		} else {
			responses = []string{DefaultResponse}
		}
	}
	var failKind fault.Kind
	if k := cfg.ExtensionString(provider.ExtMockFailKind); k != "" {
		failKind = fault.Kind(k)
	}
	return &Provider{
		cfg:       cfg,
		responses: responses,
		failKind:  failKind,
	}, nil
}

// Type returns the mock provider type.
func (p *Provider) Type() provider.Type { return provider.TypeMock }

// Name returns the owning CI's name.
func (p *Provider) Name() string { return p.cfg.Name }

// Model returns the configured model label.
func (p *Provider) Model() string { return p.cfg.Model }

// SupportsStreaming is true: the scripted response streams per response.
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

// Connect is a no-op.
func (p *Provider) Connect(ctx context.Context) error { return nil }

// Query records the prompt and delivers the next scripted response, or
// the forced failure.
func (p *Provider) Query(ctx context.Context, prompt string, cb provider.Callback) error {
	const op = "mock.Query"

	if prompt == "" {
		return p.Fail(cb, fault.New(fault.NullArg, op, "empty prompt"))
	}

	final := p.AugmentedPrompt(prompt)
	p.mu.Lock()
	p.lastPrompt = final
	p.queried++
	response := p.responses[p.next%len(p.responses)]
	p.next++
	failKind := p.failKind
	p.mu.Unlock()

	if failKind != "" {
		return p.Fail(cb, fault.Errorf(failKind, op, "scripted failure"))
	}
	p.Succeed(cb, response, p.cfg.Model)
	return nil
}

// Stream delivers the next scripted response as one chunk.
func (p *Provider) Stream(ctx context.Context, prompt string, cb provider.StreamCallback) error {
	return p.Query(ctx, prompt, func(r provider.Response) {
		if r.Success && cb != nil {
			cb(r.Content)
		}
	})
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

// LastPrompt returns the most recent (augmented) prompt.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPrompt
}

// QueryCount returns how many queries were issued.
func (p *Provider) QueryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queried
}

var _ provider.Provider = (*Provider)(nil)
