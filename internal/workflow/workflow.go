// Package workflow is the phase sequence the orchestrator drives a
// session through. A workflow owns an ordered list of named phases and a
// small state machine: pending, running, paused, completed, stopped.
// Phase execution itself lives outside the core; the workflow only tracks
// position and state.
package workflow

import (
	"time"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
)

// State is a workflow's lifecycle state.
//
// Valid transitions:
//
//	Pending   -> Running, Stopped
//	Running   -> Paused, Completed, Stopped
//	Paused    -> Running, Stopped
//	Completed -> (terminal)
//	Stopped   -> (terminal)
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

var validTransitions = map[State]map[State]bool{
	StatePending: {
		StateRunning: true,
		StateStopped: true,
	},
	StateRunning: {
		StatePaused:    true,
		StateCompleted: true,
		StateStopped:   true,
	},
	StatePaused: {
		StateRunning: true,
		StateStopped: true,
	},
	StateCompleted: {},
	StateStopped:   {},
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateStopped
}

// CanTransitionTo reports whether the move to target is allowed.
func (s State) CanTransitionTo(target State) bool {
	allowed, ok := validTransitions[s]
	return ok && allowed[target]
}

// Phase is one named step of a workflow.
type Phase struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Roles names the CI roles that participate in this phase.
	Roles []string `yaml:"roles"`
}

// Workflow tracks phase position and running state for one session.
type Workflow struct {
	name    string
	phases  []Phase
	current int
	state   State

	startedAt   time.Time
	completedAt time.Time
}

// New creates a pending workflow over the given phases.
func New(name string, phases []Phase) (*Workflow, error) {
	const op = "workflow.New"

	if name == "" {
		return nil, fault.New(fault.NullArg, op, "empty name")
	}
	if len(phases) == 0 {
		return nil, fault.New(fault.InvalidValue, op, "workflow needs at least one phase")
	}
	copied := make([]Phase, len(phases))
	copy(copied, phases)
	return &Workflow{name: name, phases: copied, state: StatePending}, nil
}

// Name returns the workflow's name.
func (w *Workflow) Name() string { return w.name }

// State returns the current lifecycle state.
func (w *Workflow) State() State { return w.state }

// Running reports whether the workflow is actively executing.
func (w *Workflow) Running() bool { return w.state == StateRunning }

// Phases returns a copy of the phase list.
func (w *Workflow) Phases() []Phase {
	out := make([]Phase, len(w.phases))
	copy(out, w.phases)
	return out
}

// CurrentPhase returns the active phase and its index.
func (w *Workflow) CurrentPhase() (Phase, int) {
	return w.phases[w.current], w.current
}

// StartedAt returns when the workflow entered running, zero before then.
func (w *Workflow) StartedAt() time.Time { return w.startedAt }

// CompletedAt returns when the workflow completed, zero before then.
func (w *Workflow) CompletedAt() time.Time { return w.completedAt }

// Start moves pending to running. Starting a workflow that is already
// past pending is an error.
func (w *Workflow) Start() error {
	const op = "workflow.Start"

	if err := w.transition(op, StateRunning, StatePending); err != nil {
		return err
	}
	w.startedAt = time.Now()
	log.Info(log.CatOrch, "Workflow started", "name", w.name, "phases", len(w.phases))
	return nil
}

// AdvancePhase moves to the next phase. Advancing past the last phase
// completes the workflow.
func (w *Workflow) AdvancePhase() error {
	const op = "workflow.AdvancePhase"

	if w.state != StateRunning {
		return fault.Errorf(fault.InvalidValue, op, "workflow is %s, not running", w.state)
	}
	if w.current+1 >= len(w.phases) {
		w.state = StateCompleted
		w.completedAt = time.Now()
		log.Info(log.CatOrch, "Workflow completed", "name", w.name)
		return nil
	}
	w.current++
	log.Info(log.CatOrch, "Phase advanced", "name", w.name, "phase", w.phases[w.current].Name)
	return nil
}

// Pause suspends a running workflow.
func (w *Workflow) Pause() error {
	return w.transition("workflow.Pause", StatePaused, StateRunning)
}

// Resume restarts a paused workflow.
func (w *Workflow) Resume() error {
	return w.transition("workflow.Resume", StateRunning, StatePaused)
}

// Stop halts the workflow from any non-terminal state.
func (w *Workflow) Stop() error {
	const op = "workflow.Stop"

	if w.state.IsTerminal() {
		return nil
	}
	if !w.state.CanTransitionTo(StateStopped) {
		return fault.Errorf(fault.Logic, op, "cannot stop from %s", w.state)
	}
	w.state = StateStopped
	return nil
}

// Close stops the workflow; it satisfies the shutdown tracker's interface.
func (w *Workflow) Close() error { return w.Stop() }

func (w *Workflow) transition(op string, target, origin State) error {
	if w.state != origin {
		return fault.Errorf(fault.InvalidValue, op, "workflow is %s, not %s", w.state, origin)
	}
	if !w.state.CanTransitionTo(target) {
		return fault.Errorf(fault.Logic, op, "transition %s -> %s not allowed", w.state, target)
	}
	w.state = target
	return nil
}
