// Package shutdown guarantees release of supervised resources on normal
// exit and on fatal signals. A Tracker holds weak (interface) references
// to live workflows, supervisors, and registries; CleanupAll closes them
// in dependency order: workflows first, then supervisors, then
// registries, then any shared services. The tracker is the one piece of
// process-wide mutable state in the runtime and is serialized by a single
// mutex.
package shutdown

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
)

// Capacity limits per resource class.
const (
	MaxWorkflows   = 32
	MaxRegistries  = 8
	MaxSupervisors = 8
)

// Closer is the teardown surface every tracked resource exposes.
type Closer interface {
	Close() error
}

// Tracker registers live resources for ordered teardown. All operations
// are idempotent: re-registering a tracked object and unregistering an
// unknown one are both no-ops.
type Tracker struct {
	mu          sync.Mutex
	workflows   []Closer
	supervisors []Closer
	registries  []Closer
	shared      []Closer
	cleaned     bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

var (
	defaultTracker *Tracker
	defaultOnce    sync.Once
)

// Default returns the process-wide tracker, built on first use.
func Default() *Tracker {
	defaultOnce.Do(func() {
		defaultTracker = NewTracker()
	})
	return defaultTracker
}

// RegisterWorkflow tracks a workflow for teardown.
func (t *Tracker) RegisterWorkflow(c Closer) error {
	return t.register(&t.workflows, c, MaxWorkflows, "workflow")
}

// RegisterSupervisor tracks a lifecycle supervisor for teardown.
func (t *Tracker) RegisterSupervisor(c Closer) error {
	return t.register(&t.supervisors, c, MaxSupervisors, "supervisor")
}

// RegisterRegistry tracks a CI registry for teardown.
func (t *Tracker) RegisterRegistry(c Closer) error {
	return t.register(&t.registries, c, MaxRegistries, "registry")
}

// RegisterShared tracks a shared service, closed after everything else.
func (t *Tracker) RegisterShared(c Closer) error {
	return t.register(&t.shared, c, MaxRegistries, "shared service")
}

func (t *Tracker) register(set *[]Closer, c Closer, limit int, kind string) error {
	const op = "shutdown.Register"

	if c == nil {
		return fault.New(fault.NullArg, op, "nil "+kind)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range *set {
		if existing == c {
			return nil
		}
	}
	if len(*set) >= limit {
		return fault.Errorf(fault.QueueFull, op, "%s table full at %d", kind, limit)
	}
	*set = append(*set, c)
	return nil
}

// UnregisterWorkflow stops tracking a workflow.
func (t *Tracker) UnregisterWorkflow(c Closer) { t.unregister(&t.workflows, c) }

// UnregisterSupervisor stops tracking a supervisor.
func (t *Tracker) UnregisterSupervisor(c Closer) { t.unregister(&t.supervisors, c) }

// UnregisterRegistry stops tracking a registry.
func (t *Tracker) UnregisterRegistry(c Closer) { t.unregister(&t.registries, c) }

func (t *Tracker) unregister(set *[]Closer, c Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range *set {
		if existing == c {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return
		}
	}
}

// Counts returns how many objects each class currently tracks.
func (t *Tracker) Counts() (workflows, supervisors, registries int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workflows), len(t.supervisors), len(t.registries)
}

// CleanupAll closes every tracked resource in order: workflows, then
// supervisors, then registries, then shared services. Errors are
// aggregated, not short-circuiting. Safe to call more than once; later
// calls only see what was registered since the last one.
func (t *Tracker) CleanupAll() error {
	t.mu.Lock()
	sets := [][]Closer{t.workflows, t.supervisors, t.registries, t.shared}
	t.workflows, t.supervisors, t.registries, t.shared = nil, nil, nil, nil
	t.cleaned = true
	t.mu.Unlock()

	var errs []error
	for _, set := range sets {
		for _, c := range set {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		log.Warn(log.CatShutdown, "Cleanup finished with errors", "count", len(errs))
	}
	return errors.Join(errs...)
}

// exit is swapped out in tests.
var exit = os.Exit

// HandleSignals installs SIGINT/SIGTERM handlers that run CleanupAll and
// exit 0. It returns a stop function that uninstalls the handlers.
func (t *Tracker) HandleSignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Info(log.CatShutdown, "Signal received, cleaning up", "signal", sig.String())
			if err := t.CleanupAll(); err != nil {
				log.ErrorErr(log.CatShutdown, "Cleanup failed", err)
			}
			exit(0)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
