package workflow

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/internal/fault"
)

// profile is the YAML shape of a phase profile file.
type profile struct {
	Name   string  `yaml:"name"`
	Phases []Phase `yaml:"phases"`
}

// LoadProfile reads a phase profile from a YAML file and builds a pending
// workflow from it.
func LoadProfile(path string) (*Workflow, error) {
	const op = "workflow.LoadProfile"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.File, op, err)
	}
	return ParseProfile(data)
}

// ParseProfile builds a workflow from YAML profile bytes.
func ParseProfile(data []byte) (*Workflow, error) {
	const op = "workflow.ParseProfile"

	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fault.Wrap(fault.Format, op, err)
	}
	if p.Name == "" {
		return nil, fault.New(fault.Format, op, "profile missing name")
	}
	return New(p.Name, p.Phases)
}

// Default returns the standard four-phase session workflow used when no
// profile is configured.
func Default() *Workflow {
	w, _ := New("standard", []Phase{
		{Name: "requirements", Description: "Gather and confirm requirements", Roles: []string{"requirements", "coordinator"}},
		{Name: "analysis", Description: "Analyze the current state and plan", Roles: []string{"analysis", "coordinator"}},
		{Name: "build", Description: "Implement the planned changes", Roles: []string{"builder"}},
		{Name: "review", Description: "Review, merge, and hand off", Roles: []string{"coordinator"}},
	})
	return w
}
