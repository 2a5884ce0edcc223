// Package registry is the CI directory for one orchestration session: a
// name-keyed table of entries carrying role, model, host/port, status, and
// delivery counters. Ports are allocated from per-role slot ranges so a
// CI's role is readable off its port. Delivery hands off to an injected
// Transport; the registry itself never frames bytes.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/message"
)

// Role tags a CI with its function. The set is closed: roles map onto
// port slot ranges.
type Role string

const (
	RoleBuilder      Role = "builder"
	RoleCoordinator  Role = "coordinator"
	RoleRequirements Role = "requirements"
	RoleAnalysis     Role = "analysis"
	RoleReserved     Role = "reserved"
)

// roleOffsets maps each role onto the start of its slot range relative to
// the base port.
var roleOffsets = map[Role]int{
	RoleBuilder:      0,
	RoleCoordinator:  10,
	RoleRequirements: 20,
	RoleAnalysis:     30,
	RoleReserved:     40,
}

// IsValid reports whether r is one of the closed role set.
func (r Role) IsValid() bool {
	_, ok := roleOffsets[r]
	return ok
}

// Status is a CI's lifecycle status as the registry sees it. The
// supervisor owns transitions and mirrors them here.
type Status string

const (
	StatusOffline  Status = "offline"
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusBusy     Status = "busy"
	StatusError    Status = "error"
	StatusShutdown Status = "shutdown"
)

// Deliverable reports whether a CI in this status may receive messages.
func (s Status) Deliverable() bool {
	return s == StatusReady || s == StatusBusy
}

// Structural limits.
const (
	// BasePort is the default start of the port space.
	BasePort = 9000
	// SlotsPerRole is how many ports each role's range holds.
	SlotsPerRole = 10
	// MaxNameLen bounds CI names.
	MaxNameLen = 31
	// DefaultMaxEntries is the default registry capacity.
	DefaultMaxEntries = 32
	// DefaultHealthTimeout is how stale a heartbeat may be before
	// CheckHealth counts the entry.
	DefaultHealthTimeout = 60 * time.Second
)

// Counters tracks per-entry delivery accounting.
type Counters struct {
	Sent        int
	Received    int
	Errors      int
	LastErrorAt time.Time
}

// Entry is one registered CI.
type Entry struct {
	Name          string
	Role          Role
	Model         string
	Host          string
	Port          int
	Connected     bool
	Status        Status
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	Counters      Counters
}

// Transport delivers an inter-CI message to the recipient's socket.
// The framing lives outside the core; tests and single-process sessions
// use the bus loopback.
type Transport interface {
	Deliver(ctx context.Context, m message.Message) error
}

// Clock supplies the current time, injectable for tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Config tunes a registry. Zero values pick the documented defaults.
type Config struct {
	BasePort      int
	MaxEntries    int
	HealthTimeout time.Duration
	Clock         Clock
}

// Registry is the name→entry directory for one session.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	order      []string // insertion order, drives broadcast iteration
	transport  Transport
	basePort   int
	maxEntries int
	timeout    time.Duration
	clock      Clock
}

// New creates a registry delivering through transport. A nil transport is
// allowed; sends then fail with a disconnected error.
func New(cfg Config, transport Transport) *Registry {
	if cfg.BasePort <= 0 {
		cfg.BasePort = BasePort
	}
	if cfg.MaxEntries < DefaultMaxEntries {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	return &Registry{
		entries:    make(map[string]*Entry),
		transport:  transport,
		basePort:   cfg.BasePort,
		maxEntries: cfg.MaxEntries,
		timeout:    cfg.HealthTimeout,
		clock:      cfg.Clock,
	}
}

// Close clears the directory. Entries are forgotten, not notified: CI
// teardown belongs to the supervisor.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*Entry)
	r.order = nil
	return nil
}

// AddCI registers a CI. Port 0 allocates the first free slot in the
// role's range. The new entry starts offline with a fresh heartbeat.
func (r *Registry) AddCI(name string, role Role, model string, port int) (*Entry, error) {
	const op = "registry.AddCI"

	if name == "" {
		return nil, fault.New(fault.NullArg, op, "empty name")
	}
	if len(name) > MaxNameLen {
		return nil, fault.Errorf(fault.TooLarge, op, "name %q exceeds %d characters", name, MaxNameLen)
	}
	if !role.IsValid() {
		return nil, fault.Errorf(fault.InvalidValue, op, "unknown role %q", role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.maxEntries {
		return nil, fault.Errorf(fault.QueueFull, op, "registry full at %d entries", r.maxEntries)
	}
	if _, exists := r.entries[name]; exists {
		return nil, fault.Errorf(fault.InvalidValue, op, "name %q already registered", name)
	}

	if port == 0 {
		p, err := r.allocatePortLocked(role)
		if err != nil {
			return nil, err
		}
		port = p
	} else if !r.portFreeLocked(port) {
		return nil, fault.Errorf(fault.InvalidValue, op, "port %d already in use", port)
	}

	now := r.clock.Now()
	e := &Entry{
		Name:          name,
		Role:          role,
		Model:         model,
		Host:          "127.0.0.1",
		Port:          port,
		Status:        StatusOffline,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	log.Debug(log.CatRegistry, "CI registered", "name", name, "role", role, "port", port)
	return snapshot(e), nil
}

// RemoveCI deletes an entry by name.
func (r *Registry) RemoveCI(name string) error {
	const op = "registry.RemoveCI"

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return fault.Errorf(fault.InvalidValue, op, "no CI named %q", name)
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// FindByName returns a copy of the named entry.
func (r *Registry) FindByName(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return snapshot(e), true
}

// FindByRole returns the first entry with the given role, in registration
// order.
func (r *Registry) FindByRole(role Role) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		if e := r.entries[name]; e != nil && e.Role == role {
			return snapshot(e), true
		}
	}
	return nil, false
}

// AllByRole returns every entry with the given role, in registration order.
func (r *Registry) AllByRole(role Role) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for _, name := range r.order {
		if e := r.entries[name]; e != nil && e.Role == role {
			out = append(out, snapshot(e))
		}
	}
	return out
}

// FindAvailable returns the first ready entry, in registration order.
func (r *Registry) FindAvailable() (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		if e := r.entries[name]; e != nil && e.Status == StatusReady {
			return snapshot(e), true
		}
	}
	return nil, false
}

// All returns every entry in registration order.
func (r *Registry) All() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e != nil {
			out = append(out, snapshot(e))
		}
	}
	return out
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// UpdateStatus sets the named entry's status. The supervisor calls this on
// every transition so the directory mirrors lifecycle state.
func (r *Registry) UpdateStatus(name string, status Status) error {
	const op = "registry.UpdateStatus"

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fault.Errorf(fault.InvalidValue, op, "no CI named %q", name)
	}
	e.Status = status
	return nil
}

// RecordHeartbeat stamps the named entry's liveness.
func (r *Registry) RecordHeartbeat(name string) error {
	const op = "registry.RecordHeartbeat"

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fault.Errorf(fault.InvalidValue, op, "no CI named %q", name)
	}
	e.LastHeartbeat = r.clock.Now()
	return nil
}

// CheckHealth counts entries whose last heartbeat is older than the
// configured health timeout.
func (r *Registry) CheckHealth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	stale := 0
	for _, e := range r.entries {
		if now.Sub(e.LastHeartbeat) > r.timeout {
			stale++
		}
	}
	return stale
}

// AllocatePort returns the first free port in the role's slot range.
// The 11th allocation within one role fails with a queue-full error.
func (r *Registry) AllocatePort(role Role) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocatePortLocked(role)
}

func (r *Registry) allocatePortLocked(role Role) (int, error) {
	const op = "registry.AllocatePort"

	offset, ok := roleOffsets[role]
	if !ok {
		return 0, fault.Errorf(fault.InvalidValue, op, "unknown role %q", role)
	}
	start := r.basePort + offset
	for port := start; port < start+SlotsPerRole; port++ {
		if r.portFreeLocked(port) {
			return port, nil
		}
	}
	return 0, fault.Errorf(fault.QueueFull, op, "no free port for role %q in [%d,%d)", role, start, start+SlotsPerRole)
}

// IsPortAvailable reports whether no entry holds the port.
func (r *Registry) IsPortAvailable(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.portFreeLocked(port)
}

func (r *Registry) portFreeLocked(port int) bool {
	for _, e := range r.entries {
		if e.Port == port {
			return false
		}
	}
	return true
}

// SendMessage delivers one message from a registered sender to a
// registered recipient. The recipient must be ready or busy. Counters are
// updated on both ends; a transport failure lands on the recipient's
// error counters and propagates to the caller.
func (r *Registry) SendMessage(ctx context.Context, from, to string, m message.Message) error {
	const op = "registry.SendMessage"

	r.mu.Lock()
	sender, ok := r.entries[from]
	if !ok {
		r.mu.Unlock()
		return fault.Errorf(fault.InvalidValue, op, "unknown sender %q", from)
	}
	recipient, ok := r.entries[to]
	if !ok {
		r.mu.Unlock()
		return fault.Errorf(fault.InvalidValue, op, "unknown recipient %q", to)
	}
	if !recipient.Status.Deliverable() {
		r.mu.Unlock()
		return fault.Errorf(fault.Disconnected, op, "recipient %q is %s", to, recipient.Status)
	}
	transport := r.transport
	sender.Counters.Sent++
	recipient.Counters.Received++
	r.mu.Unlock()

	if transport == nil {
		r.recordDeliveryError(to)
		return fault.Errorf(fault.Disconnected, op, "no transport configured")
	}
	if err := transport.Deliver(ctx, m); err != nil {
		r.recordDeliveryError(to)
		return fault.Wrap(fault.Socket, op, err)
	}
	return nil
}

// Broadcast sends to every deliverable entry matching roleFilter (empty
// matches all), excluding the sender. It succeeds when at least one
// delivery succeeded.
func (r *Registry) Broadcast(ctx context.Context, from string, roleFilter Role, m message.Message) error {
	const op = "registry.Broadcast"

	r.mu.Lock()
	var targets []string
	for _, name := range r.order {
		e := r.entries[name]
		if e == nil || name == from {
			continue
		}
		if roleFilter != "" && e.Role != roleFilter {
			continue
		}
		if !e.Status.Deliverable() {
			continue
		}
		targets = append(targets, name)
	}
	r.mu.Unlock()

	delivered := 0
	for _, to := range targets {
		out := m
		out.To = to
		if err := r.SendMessage(ctx, from, to, out); err != nil {
			log.Warn(log.CatRegistry, "Broadcast delivery failed", "from", from, "to", to, "error", err.Error())
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fault.Errorf(fault.Disconnected, op, "no recipient accepted broadcast from %q", from)
	}
	return nil
}

func (r *Registry) recordDeliveryError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.Counters.Errors++
		e.Counters.LastErrorAt = r.clock.Now()
	}
}

// snapshot copies an entry so callers never alias registry-owned state.
func snapshot(e *Entry) *Entry {
	copied := *e
	return &copied
}
