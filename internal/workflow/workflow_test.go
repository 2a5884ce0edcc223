package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/fault"
)

func twoPhases() []Phase {
	return []Phase{
		{Name: "plan", Description: "plan the work"},
		{Name: "build", Description: "do the work"},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", twoPhases())
	require.True(t, fault.IsKind(err, fault.NullArg))

	_, err = New("w", nil)
	require.True(t, fault.IsKind(err, fault.InvalidValue))

	w, err := New("w", twoPhases())
	require.NoError(t, err)
	require.Equal(t, StatePending, w.State())

	phase, idx := w.CurrentPhase()
	require.Equal(t, 0, idx)
	require.Equal(t, "plan", phase.Name)
}

func TestStart_RefusesWhenAlreadyRunning(t *testing.T) {
	w, err := New("w", twoPhases())
	require.NoError(t, err)

	require.NoError(t, w.Start())
	require.True(t, w.Running())
	require.False(t, w.StartedAt().IsZero())

	require.Error(t, w.Start(), "second start must be refused")
}

func TestAdvancePhase(t *testing.T) {
	w, err := New("w", twoPhases())
	require.NoError(t, err)

	err = w.AdvancePhase()
	require.Error(t, err, "cannot advance a pending workflow")

	require.NoError(t, w.Start())
	require.NoError(t, w.AdvancePhase())
	phase, idx := w.CurrentPhase()
	require.Equal(t, 1, idx)
	require.Equal(t, "build", phase.Name)

	// Advancing past the last phase completes the workflow.
	require.NoError(t, w.AdvancePhase())
	require.Equal(t, StateCompleted, w.State())
	require.False(t, w.CompletedAt().IsZero())

	require.Error(t, w.AdvancePhase(), "completed workflow cannot advance")
}

func TestPauseResume(t *testing.T) {
	w, err := New("w", twoPhases())
	require.NoError(t, err)

	require.Error(t, w.Pause(), "pending workflow cannot pause")

	require.NoError(t, w.Start())
	require.NoError(t, w.Pause())
	require.Equal(t, StatePaused, w.State())

	require.Error(t, w.AdvancePhase(), "paused workflow cannot advance")

	require.NoError(t, w.Resume())
	require.True(t, w.Running())
}

func TestStop_FromAnyNonTerminal(t *testing.T) {
	for _, setup := range []func(w *Workflow){
		func(*Workflow) {},
		func(w *Workflow) { _ = w.Start() },
		func(w *Workflow) { _ = w.Start(); _ = w.Pause() },
	} {
		w, err := New("w", twoPhases())
		require.NoError(t, err)
		setup(w)
		require.NoError(t, w.Stop())
		require.Equal(t, StateStopped, w.State())

		// Idempotent on terminal states.
		require.NoError(t, w.Stop())
	}
}

func TestStateMachine_Table(t *testing.T) {
	tests := []struct {
		from, to State
		valid    bool
	}{
		{StatePending, StateRunning, true},
		{StatePending, StatePaused, false},
		{StateRunning, StatePaused, true},
		{StateRunning, StateCompleted, true},
		{StatePaused, StateRunning, true},
		{StateCompleted, StateRunning, false},
		{StateStopped, StateRunning, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestParseProfile(t *testing.T) {
	data := []byte(`
name: debate
phases:
  - name: opening
    description: Opening statements
    roles: [requirements]
  - name: rebuttal
    description: Cross examination
    roles: [analysis, builder]
`)
	w, err := ParseProfile(data)
	require.NoError(t, err)
	require.Equal(t, "debate", w.Name())

	phases := w.Phases()
	require.Len(t, phases, 2)
	require.Equal(t, "opening", phases[0].Name)
	require.Equal(t, []string{"analysis", "builder"}, phases[1].Roles)
}

func TestParseProfile_Errors(t *testing.T) {
	_, err := ParseProfile([]byte("::: not yaml"))
	require.True(t, fault.IsKind(err, fault.Format))

	_, err = ParseProfile([]byte("phases:\n  - name: x\n"))
	require.True(t, fault.IsKind(err, fault.Format), "missing name")
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: p\nphases:\n  - name: only\n"), 0o644))

	w, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "p", w.Name())

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, fault.IsKind(err, fault.File))
}

func TestDefault(t *testing.T) {
	w := Default()
	require.Equal(t, "standard", w.Name())
	require.Len(t, w.Phases(), 4)
	require.Equal(t, StatePending, w.State())
}
