// Package cli implements the subprocess provider: one child process per
// query, prompt on stdin, response on stdout. The command factory is
// injectable so tests can swap the executable.
package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/provider"
)

// DefaultTimeout bounds one subprocess query.
const DefaultTimeout = 120 * time.Second

// CommandFactory creates the exec.Cmd for one query. Tests inject their
// own to avoid spawning real binaries.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

func init() {
	provider.Register(provider.TypeCLI, func(cfg provider.Config) (provider.Provider, error) {
		p, err := New(cfg)
		return p, err
	})
}

// Provider spawns a CLI binary per query.
type Provider struct {
	provider.Base

	cfg     provider.Config
	command string
	args    []string
	echo    bool
	timeout time.Duration
	factory CommandFactory

	mu      sync.Mutex
	memory  *workingMemory
	inited  bool
	cleaned bool
}

// New builds a CLI provider. ExtCLICommand is required; ExtCLIArgs,
// ExtCLIEcho, and ExtCLIWorkingFile are optional.
func New(cfg provider.Config) (*Provider, error) {
	const op = "cli.New"

	command := cfg.ExtensionString(provider.ExtCLICommand)
	if command == "" {
		return nil, fault.New(fault.NullArg, op, "cli command is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{
		cfg:     cfg,
		command: command,
		args:    cfg.ExtensionStrings(provider.ExtCLIArgs),
		echo:    cfg.ExtensionBool(provider.ExtCLIEcho),
		timeout: timeout,
		factory: exec.CommandContext,
	}, nil
}

// SetCommandFactory swaps the subprocess factory, for tests.
func (p *Provider) SetCommandFactory(f CommandFactory) {
	p.mu.Lock()
	p.factory = f
	p.mu.Unlock()
}

// Type returns the cli provider type.
func (p *Provider) Type() provider.Type { return provider.TypeCLI }

// Name returns the owning CI's name.
func (p *Provider) Name() string { return p.cfg.Name }

// Model returns the configured model label.
func (p *Provider) Model() string { return p.cfg.Model }

// SupportsStreaming is false: the child's stdout is read to EOF.
func (p *Provider) SupportsStreaming() bool { return false }

// SupportsMemory is true: a bound digest augments every prompt.
func (p *Provider) SupportsMemory() bool { return true }

// MaxContext returns the configured context window size.
func (p *Provider) MaxContext() int { return p.cfg.ContextLimit }

// Init opens the working-memory file when one is configured. Idempotent.
func (p *Provider) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inited {
		return nil
	}
	if path := p.cfg.ExtensionString(provider.ExtCLIWorkingFile); path != "" {
		mem, err := openWorkingMemory(path)
		if err != nil {
			return err
		}
		p.memory = mem
	}
	p.inited = true
	p.cleaned = false
	return nil
}

// Connect verifies the binary is on PATH.
func (p *Provider) Connect(ctx context.Context) error {
	const op = "cli.Connect"

	if _, err := exec.LookPath(p.command); err != nil {
		return fault.Errorf(fault.Process, op, "command %q not found on PATH", p.command)
	}
	return nil
}

// Query spawns the child, writes the augmented prompt to stdin, reads
// stdout to EOF, and waits. A non-zero exit is a confused error; the
// callback fires exactly once either way.
func (p *Provider) Query(ctx context.Context, prompt string, cb provider.Callback) error {
	const op = "cli.Query"

	if prompt == "" {
		return p.Fail(cb, fault.New(fault.NullArg, op, "empty prompt"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	factory := p.factory
	p.mu.Unlock()

	cmd := factory(ctx, p.command, p.args...)
	if p.cfg.WorkDir != "" {
		cmd.Dir = p.cfg.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return p.Fail(cb, fault.Wrap(fault.Process, op, err))
	}
	var stdout bytes.Buffer
	if p.echo {
		cmd.Stdout = io.MultiWriter(&stdout, os.Stdout)
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return p.Fail(cb, fault.Wrap(fault.Process, op, err))
	}

	final := p.AugmentedPrompt(prompt)
	if _, err := io.WriteString(stdin, final); err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return p.Fail(cb, fault.Wrap(fault.IO, op, err))
	}
	if err := stdin.Close(); err != nil {
		_ = cmd.Wait()
		return p.Fail(cb, fault.Wrap(fault.IO, op, err))
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return p.Fail(cb, fault.Errorf(fault.Timeout, op, "command %q timed out", p.command))
		}
		log.Warn(log.CatProvider, "Subprocess exited non-zero",
			"command", p.command, "error", err)
		return p.Fail(cb, fault.Errorf(fault.Confused, op, "command %q exited non-zero: %v", p.command, err))
	}

	content := stdout.String()
	p.mu.Lock()
	mem := p.memory
	p.mu.Unlock()
	if mem != nil {
		if err := mem.store(content); err != nil {
			log.Warn(log.CatProvider, "Working memory write failed", "error", err)
		}
	}

	p.Succeed(cb, content, p.cfg.Model)
	return nil
}

// WorkingMemory returns the persisted payload of the working-memory
// file, or "" when none is configured.
func (p *Provider) WorkingMemory() (string, error) {
	p.mu.Lock()
	mem := p.memory
	p.mu.Unlock()
	if mem == nil {
		return "", nil
	}
	return mem.load()
}

// Stream delegates to Query and emits the full output as one chunk.
func (p *Provider) Stream(ctx context.Context, prompt string, cb provider.StreamCallback) error {
	return p.Query(ctx, prompt, func(r provider.Response) {
		if r.Success && cb != nil {
			cb(r.Content)
		}
	})
}

// Cleanup closes the working-memory file. Idempotent.
func (p *Provider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleaned {
		return nil
	}
	var err error
	if p.memory != nil {
		err = p.memory.close()
		p.memory = nil
	}
	p.inited = false
	p.cleaned = true
	return err
}

var _ provider.Provider = (*Provider)(nil)
