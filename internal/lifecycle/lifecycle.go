// Package lifecycle drives the per-CI state machine: event-driven status
// transitions with full history, task discipline, and heartbeat
// supervision. The supervisor owns lifecycle entries and mirrors every
// status change into the registry by name; it never caches registry
// pointers.
package lifecycle

import (
	"time"

	"github.com/parleyhq/parley/internal/registry"
)

// Event is a lifecycle trigger. Each event maps onto exactly one target
// status.
type Event string

const (
	EventCreated           Event = "created"
	EventInitializing      Event = "initializing"
	EventReady             Event = "ready"
	EventTaskAssigned      Event = "task_assigned"
	EventTaskComplete      Event = "task_complete"
	EventError             Event = "error"
	EventShutdownRequested Event = "shutdown_requested"
	EventShutdown          Event = "shutdown"
	EventTerminated        Event = "terminated"
)

// eventTargets is the transition table: the status each event lands on,
// regardless of origin.
var eventTargets = map[Event]registry.Status{
	EventCreated:           registry.StatusOffline,
	EventInitializing:      registry.StatusStarting,
	EventReady:             registry.StatusReady,
	EventTaskAssigned:      registry.StatusBusy,
	EventTaskComplete:      registry.StatusReady,
	EventError:             registry.StatusError,
	EventShutdownRequested: registry.StatusShutdown,
	EventShutdown:          registry.StatusShutdown,
	EventTerminated:        registry.StatusOffline,
}

// Target returns the status this event drives to.
func (e Event) Target() (registry.Status, bool) {
	s, ok := eventTargets[e]
	return s, ok
}

// Transition is one recorded status change. Immutable once appended.
type Transition struct {
	At     time.Time
	From   registry.Status
	To     registry.Status
	Event  Event
	Reason string
}

// Entry is the supervisor's view of one CI.
type Entry struct {
	Name            string
	Status          registry.Status
	CreatedAt       time.Time
	LastTransition  time.Time
	TransitionCount int

	// history holds transitions with index 0 most recent.
	history []Transition

	HeartbeatInterval time.Duration
	LastHeartbeat     time.Time
	MissedHeartbeats  int

	ErrorCount int
	LastError  string

	CurrentTask   string
	TaskStartedAt time.Time
}

// History returns a copy of the transition list, most recent first.
func (e *Entry) History() []Transition {
	out := make([]Transition, len(e.history))
	copy(out, e.history)
	return out
}

// record appends a transition at the head and moves the entry's status.
func (e *Entry) record(at time.Time, event Event, to registry.Status, reason string) {
	t := Transition{At: at, From: e.Status, To: to, Event: event, Reason: reason}
	e.history = append([]Transition{t}, e.history...)
	e.Status = to
	e.LastTransition = at
	e.TransitionCount++
}
