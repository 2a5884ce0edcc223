// Package provider defines the CI provider abstraction: a uniform
// init/connect/query/stream/cleanup surface over remote HTTP vendors, the
// local ollama daemon, subprocess CLIs, file-mediated exchanges, and a
// mock for tests. Concrete providers live in subpackages and register
// themselves via init().
package provider

import (
	"context"
	"sort"
	"time"

	"github.com/parleyhq/parley/internal/fault"
)

// Type identifies a provider implementation.
type Type string

const (
	// TypeAnthropic is the Anthropic messages API.
	TypeAnthropic Type = "anthropic"
	// TypeOpenAI is the OpenAI chat completions API.
	TypeOpenAI Type = "openai"
	// TypeGemini is the Google Gemini generateContent API.
	TypeGemini Type = "gemini"
	// TypeMistral is the Mistral chat completions API.
	TypeMistral Type = "mistral"
	// TypeOllama is a local ollama daemon.
	TypeOllama Type = "ollama"
	// TypeCLI is a one-shot subprocess CLI.
	TypeCLI Type = "cli"
	// TypeFileBridge exchanges prompt/response files with a human operator.
	TypeFileBridge Type = "filebridge"
	// TypeMock is a scripted provider for tests.
	TypeMock Type = "mock"
)

// Response is the terminal result of one query. Exactly one Response is
// delivered per Query call: success carries non-empty content, failure
// carries the error kind and an optional human message.
type Response struct {
	Success   bool
	Content   string
	ErrKind   fault.Kind
	Message   string
	ModelUsed string
	Timestamp time.Time
}

// Callback receives the single terminal Response of a query.
type Callback func(Response)

// StreamCallback receives incremental content chunks during a stream.
// Completion is signaled by Stream returning.
type StreamCallback func(chunk string)

// Provider is the uniform surface over all CI backends.
//
// Query both invokes the callback exactly once (success or failure) and
// returns the failure as an error, so callers may use either channel.
// Cleanup is idempotent.
type Provider interface {
	// Type returns the provider type identifier.
	Type() Type

	// Name returns the owning CI's name.
	Name() string

	// Model returns the effective backend model, after defaulting.
	Model() string

	// SupportsStreaming reports whether Stream delivers incremental
	// chunks rather than emulating over Query.
	SupportsStreaming() bool

	// SupportsMemory reports whether a bound digest augments prompts.
	SupportsMemory() bool

	// MaxContext returns the context window size in bytes, 0 if unknown.
	MaxContext() int

	// Init prepares instance state. Idempotent.
	Init() error

	// Connect verifies the backend is reachable (daemon ports, PATH
	// lookups). Remote HTTP providers treat this as a no-op.
	Connect(ctx context.Context) error

	// Query sends a prompt and delivers the terminal response through cb.
	Query(ctx context.Context, prompt string, cb Callback) error

	// Stream sends a prompt and delivers content incrementally.
	Stream(ctx context.Context, prompt string, cb StreamCallback) error

	// Cleanup releases buffers, processes, and file handles. Idempotent.
	Cleanup() error

	// BindDigest attaches a memory digest whose context augments every
	// prompt. The provider never owns the digest and nil detaches.
	BindDigest(d Digest)
}

// Digest is the slice of the memory digest providers need: prompt
// augmentation. Declared here so provider packages do not depend on the
// digest's mutation surface.
type Digest interface {
	AugmentPrompt(prompt string) string
}

// Factory builds a provider instance from a config.
type Factory func(cfg Config) (Provider, error)

var registry = make(map[Type]Factory)

// Register adds a provider factory. Called from init() in provider
// subpackages.
func Register(t Type, f Factory) {
	registry[t] = f
}

// New builds a provider of the given type.
func New(t Type, cfg Config) (Provider, error) {
	const op = "provider.New"

	factory, ok := registry[t]
	if !ok {
		return nil, fault.Errorf(fault.NoProvider, op, "unknown provider type %q", t)
	}
	return factory(cfg)
}

// Registered returns the registered provider types, sorted.
func Registered() []Type {
	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsRegistered reports whether a provider type has been registered.
func IsRegistered(t Type) bool {
	_, ok := registry[t]
	return ok
}
