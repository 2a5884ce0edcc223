package lifecycle

import (
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/registry"
)

// Heartbeat policy defaults.
const (
	DefaultHeartbeatTimeout = 60 * time.Second
	DefaultMaxMissed        = 3
)

// Clock supplies the current time, injectable for tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// StatusMirror receives every status change, keyed by CI name. The
// registry satisfies this; the supervisor resolves it on every transition
// rather than holding entry pointers.
type StatusMirror interface {
	UpdateStatus(name string, status registry.Status) error
}

// Config tunes a supervisor. Zero values pick the defaults above.
type Config struct {
	HeartbeatTimeout time.Duration
	MaxMissed        int
	Clock            Clock
}

// Supervisor owns the lifecycle entries for one session.
type Supervisor struct {
	mu      sync.Mutex
	entries map[string]*Entry
	mirror  StatusMirror
	timeout time.Duration
	missed  int
	clock   Clock
}

// New creates a supervisor mirroring status changes into mirror. A nil
// mirror is allowed for standalone use.
func New(cfg Config, mirror StatusMirror) *Supervisor {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = DefaultMaxMissed
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	return &Supervisor{
		entries: make(map[string]*Entry),
		mirror:  mirror,
		timeout: cfg.HeartbeatTimeout,
		missed:  cfg.MaxMissed,
		clock:   cfg.Clock,
	}
}

// Close forgets all entries.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return nil
}

// CreateCI adds a lifecycle entry in the offline state and records the
// created transition.
func (s *Supervisor) CreateCI(name string) error {
	const op = "lifecycle.CreateCI"

	if name == "" {
		return fault.New(fault.NullArg, op, "empty name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fault.Errorf(fault.InvalidValue, op, "CI %q already supervised", name)
	}

	now := s.clock.Now()
	e := &Entry{
		Name:              name,
		Status:            registry.StatusOffline,
		CreatedAt:         now,
		HeartbeatInterval: s.timeout,
		LastHeartbeat:     now,
	}
	e.record(now, EventCreated, registry.StatusOffline, "")
	s.entries[name] = e
	s.mirrorStatus(name, registry.StatusOffline)
	return nil
}

// RemoveCI forgets an entry.
func (s *Supervisor) RemoveCI(name string) error {
	const op = "lifecycle.RemoveCI"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	delete(s.entries, name)
	return nil
}

// Get returns a copy of the named entry.
func (s *Supervisor) Get(name string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return copyEntry(e), true
}

// All returns a copy of every entry.
func (s *Supervisor) All() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, copyEntry(e))
	}
	return out
}

// StartCI drives an offline CI through initializing. Any other origin
// state is a warn-and-ignore.
func (s *Supervisor) StartCI(name string) error {
	const op = "lifecycle.StartCI"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	if e.Status != registry.StatusOffline {
		log.Warn(log.CatLifecycle, "StartCI ignored", "name", name, "status", e.Status)
		return nil
	}
	s.transitionLocked(e, EventInitializing, "")
	return nil
}

// MarkReady drives the ready event.
func (s *Supervisor) MarkReady(name string) error {
	return s.Transition(name, EventReady, "")
}

// StopCI drives a graceful stop to shutdown, or a forced stop straight to
// offline.
func (s *Supervisor) StopCI(name string, graceful bool) error {
	if graceful {
		return s.Transition(name, EventShutdownRequested, "")
	}
	return s.Transition(name, EventTerminated, "forced stop")
}

// AssignTask stores a task on a ready CI and drives it busy.
func (s *Supervisor) AssignTask(name, description string) error {
	const op = "lifecycle.AssignTask"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	if e.Status != registry.StatusReady {
		return fault.Errorf(fault.CIInvalid, op, "CI %q is %s, not ready", name, e.Status)
	}
	e.CurrentTask = description
	e.TaskStartedAt = s.clock.Now()
	s.transitionLocked(e, EventTaskAssigned, description)
	return nil
}

// CompleteTask clears the current task. Success drives the CI back to
// ready; failure records an error transition.
func (s *Supervisor) CompleteTask(name string, success bool) error {
	const op = "lifecycle.CompleteTask"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	task := e.CurrentTask
	e.CurrentTask = ""
	e.TaskStartedAt = time.Time{}
	if success {
		s.transitionLocked(e, EventTaskComplete, "")
		return nil
	}
	e.ErrorCount++
	e.LastError = "task failed: " + task
	s.transitionLocked(e, EventError, e.LastError)
	return nil
}

// ReportError records an error and escalates the CI to the error state.
func (s *Supervisor) ReportError(name, detail string) error {
	const op = "lifecycle.ReportError"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	e.ErrorCount++
	e.LastError = detail
	s.transitionLocked(e, EventError, detail)
	return nil
}

// Transition drives one event on the named CI.
func (s *Supervisor) Transition(name string, event Event, reason string) error {
	const op = "lifecycle.Transition"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	if _, known := event.Target(); !known {
		return fault.Errorf(fault.InvalidValue, op, "unknown event %q", event)
	}
	s.transitionLocked(e, event, reason)
	return nil
}

// RecordHeartbeat stamps liveness and resets the missed counter.
func (s *Supervisor) RecordHeartbeat(name string) error {
	const op = "lifecycle.RecordHeartbeat"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	e.LastHeartbeat = s.clock.Now()
	e.MissedHeartbeats = 0
	return nil
}

// CheckHeartbeats scans every live entry. A heartbeat at or past the
// timeout counts as missed; at max-missed the CI escalates to the error
// state. Offline entries have no heartbeat to lose, and already-errored
// entries are skipped so one lost CI escalates exactly once instead of
// re-recording the error transition every sweep. Returns the names
// escalated this pass.
func (s *Supervisor) CheckHeartbeats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var escalated []string
	for name, e := range s.entries {
		if e.Status == registry.StatusOffline || e.Status == registry.StatusError {
			continue
		}
		if now.Sub(e.LastHeartbeat) < e.HeartbeatInterval {
			continue
		}
		e.MissedHeartbeats++
		log.Debug(log.CatLifecycle, "Heartbeat missed", "name", name, "missed", e.MissedHeartbeats)
		if e.MissedHeartbeats >= s.missed {
			e.ErrorCount++
			e.LastError = "heartbeat lost"
			s.transitionLocked(e, EventError, "heartbeat lost")
			escalated = append(escalated, name)
		}
	}
	return escalated
}

// ClearHistory drops the named CI's transition log.
func (s *Supervisor) ClearHistory(name string) error {
	const op = "lifecycle.ClearHistory"

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fault.Errorf(fault.CIInvalid, op, "no CI named %q", name)
	}
	e.history = nil
	return nil
}

// transitionLocked applies the event and mirrors the new status. Callers
// hold s.mu.
func (s *Supervisor) transitionLocked(e *Entry, event Event, reason string) {
	to, _ := event.Target()
	e.record(s.clock.Now(), event, to, reason)
	log.Debug(log.CatLifecycle, "Transition", "name", e.Name, "event", event, "to", to)
	s.mirrorStatus(e.Name, to)
}

func (s *Supervisor) mirrorStatus(name string, status registry.Status) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.UpdateStatus(name, status); err != nil {
		log.Warn(log.CatLifecycle, "Status mirror failed", "name", name, "error", err.Error())
	}
}

func copyEntry(e *Entry) *Entry {
	copied := *e
	copied.history = make([]Transition, len(e.history))
	copy(copied.history, e.history)
	return &copied
}
