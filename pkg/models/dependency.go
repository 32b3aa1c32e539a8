package models

import (
	"fmt"
	"time"
)

// DependencyType categorizes the relationship between two tasks.
type DependencyType string

const (
	// DependencyBlocks means the dependent task cannot start until the
	// target completes.
	DependencyBlocks DependencyType = "blocks"
	// DependencyEnables means the target unlocks the dependent but does
	// not strictly gate it.
	DependencyEnables DependencyType = "enables"
	// DependencyRequires means the dependent consumes an artifact of the target.
	DependencyRequires DependencyType = "requires"
	// DependencySuggests is an advisory ordering hint.
	DependencySuggests DependencyType = "suggests"
)

// Valid returns true if the dependency type is a known value.
func (t DependencyType) Valid() bool {
	switch t {
	case DependencyBlocks, DependencyEnables, DependencyRequires, DependencySuggests:
		return true
	default:
		return false
	}
}

// Dependency is a directed edge in the task DAG. FromTask depends on
// ToTask: ToTask must complete first.
type Dependency struct {
	// ID is the unique identifier for this dependency.
	ID string `json:"id" yaml:"id"`
	// FromTaskID is the task that depends on another.
	FromTaskID string `json:"fromTaskId" yaml:"fromTaskId"`
	// ToTaskID is the task that must complete first.
	ToTaskID string `json:"toTaskId" yaml:"toTaskId"`
	// Type categorizes the relationship.
	Type DependencyType `json:"type" yaml:"type"`
	// Description explains why the dependency exists.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Critical marks dependencies that sit on the critical path by design.
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`
	// CreatedAt is when the dependency was created.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	// FormatVersion is the persisted schema version.
	FormatVersion string `json:"formatVersion" yaml:"formatVersion"`
}

// Validate checks the dependency against the schema rules.
func (d *Dependency) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("dependency id must not be empty")
	}
	if d.FromTaskID == "" || d.ToTaskID == "" {
		return fmt.Errorf("dependency %s must name both tasks", d.ID)
	}
	if d.FromTaskID == d.ToTaskID {
		return fmt.Errorf("dependency %s is a self-loop on task %s", d.ID, d.FromTaskID)
	}
	if d.Type != "" && !d.Type.Valid() {
		return fmt.Errorf("unknown dependency type %q", d.Type)
	}
	return nil
}
