// Package filebridge implements the file-mediated provider: the prompt is
// written to a per-session file, a human operator (or external tool)
// writes the paired response file, and the provider picks it up. Arrival
// is detected with fsnotify plus a one-second poll tick as a fallback;
// both files are removed when the exchange completes.
package filebridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/provider"
)

const (
	// DefaultTimeout is how long one exchange may take.
	DefaultTimeout = 300 * time.Second
	// DefaultPoll is the fallback poll interval.
	DefaultPoll = 1 * time.Second
)

func init() {
	provider.Register(provider.TypeFileBridge, func(cfg provider.Config) (provider.Provider, error) {
		p, err := New(cfg)
		return p, err
	})
}

// Provider exchanges prompt/response files in a directory.
type Provider struct {
	provider.Base

	cfg     provider.Config
	dir     string
	poll    time.Duration
	timeout time.Duration

	mu      sync.Mutex
	seq     int
	inited  bool
	cleaned bool
}

// New builds a filebridge provider. ExtBridgeDir defaults to the working
// directory; ExtBridgePoll overrides the poll interval.
func New(cfg provider.Config) (*Provider, error) {
	dir := cfg.ExtensionString(provider.ExtBridgeDir)
	if dir == "" {
		dir = cfg.WorkDir
	}
	if dir == "" {
		dir = "."
	}
	poll := cfg.ExtensionDuration(provider.ExtBridgePoll)
	if poll <= 0 {
		poll = DefaultPoll
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{
		cfg:     cfg,
		dir:     dir,
		poll:    poll,
		timeout: timeout,
	}, nil
}

// Type returns the filebridge provider type.
func (p *Provider) Type() provider.Type { return provider.TypeFileBridge }

// Name returns the owning CI's name.
func (p *Provider) Name() string { return p.cfg.Name }

// Model returns the configured model label.
func (p *Provider) Model() string { return p.cfg.Model }

// SupportsStreaming is false: responses arrive whole.
func (p *Provider) SupportsStreaming() bool { return false }

// SupportsMemory is true: a bound digest augments every prompt.
func (p *Provider) SupportsMemory() bool { return true }

// MaxContext returns the configured context window size.
func (p *Provider) MaxContext() int { return p.cfg.ContextLimit }

// Init creates the exchange directory. Idempotent.
func (p *Provider) Init() error {
	const op = "filebridge.Init"

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inited {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0700); err != nil {
		return fault.Wrap(fault.File, op, err)
	}
	p.inited = true
	p.cleaned = false
	return nil
}

// Connect verifies the exchange directory is writable.
func (p *Provider) Connect(ctx context.Context) error {
	const op = "filebridge.Connect"

	probe := filepath.Join(p.dir, ".bridge-probe")
	if err := os.WriteFile(probe, nil, 0600); err != nil {
		return fault.Errorf(fault.File, op, "exchange directory %s not writable", p.dir)
	}
	return os.Remove(probe)
}

// exchangePaths returns the prompt/response file pair for one exchange.
func (p *Provider) exchangePaths() (prompt, response string) {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	name := p.cfg.Name
	if name == "" {
		name = "bridge"
	}
	base := fmt.Sprintf("%s-%d", name, seq)
	return filepath.Join(p.dir, base+".prompt"),
		filepath.Join(p.dir, base+".response")
}

// Query writes the prompt file, prints the operator banner, and waits for
// the paired response file. Both files are removed when the exchange
// completes or fails.
func (p *Provider) Query(ctx context.Context, prompt string, cb provider.Callback) error {
	const op = "filebridge.Query"

	if prompt == "" {
		return p.Fail(cb, fault.New(fault.NullArg, op, "empty prompt"))
	}

	promptPath, responsePath := p.exchangePaths()
	final := p.AugmentedPrompt(prompt)
	if err := os.WriteFile(promptPath, []byte(final), 0600); err != nil {
		return p.Fail(cb, fault.Wrap(fault.File, op, err))
	}
	defer func() {
		_ = os.Remove(promptPath)
		_ = os.Remove(responsePath)
	}()

	fmt.Printf("=== parley file bridge ===\nprompt:   %s\nrespond:  %s\n", promptPath, responsePath)
	log.Info(log.CatProvider, "Waiting for bridge response", "file", responsePath)

	content, err := p.waitForResponse(ctx, responsePath)
	if err != nil {
		return p.Fail(cb, err)
	}
	p.Succeed(cb, content, p.cfg.Model)
	return nil
}

// waitForResponse blocks until the response file appears non-empty, the
// timeout elapses, or ctx is cancelled. fsnotify wakes it early; the poll
// tick catches editors that bypass the watcher.
func (p *Provider) waitForResponse(ctx context.Context, path string) (string, error) {
	const op = "filebridge.waitForResponse"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var events chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if err := w.Add(p.dir); err == nil {
			events = make(chan fsnotify.Event)
			go func() {
				for ev := range w.Events {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		if content, ok := readResponse(path); ok {
			return content, nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return "", fault.Errorf(fault.Timeout, op, "no response at %s within %s", path, p.timeout)
			}
			return "", fault.Wrap(fault.IO, op, ctx.Err())
		case <-ticker.C:
		case ev := <-events:
			if ev.Name != path {
				continue
			}
		}
	}
}

// readResponse reads the response file once it exists with content.
func readResponse(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return "", false
	}
	return string(data), true
}

// Stream delegates to Query and emits the full response as one chunk.
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

var _ provider.Provider = (*Provider)(nil)
