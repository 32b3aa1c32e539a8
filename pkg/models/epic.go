package models

import (
	"fmt"
	"regexp"
	"time"
)

// scaffoldingIDPattern matches auto-generated placeholder epic IDs
// (E1, E2, E3, E001, E002, E003) that must never be persisted.
var scaffoldingIDPattern = regexp.MustCompile(`^E0{0,2}[123]$`)

// scaffoldingLiterals are epic IDs and name fragments that indicate a
// placeholder rather than a meaningful functional-area epic.
var scaffoldingLiterals = map[string]bool{
	"default-epic": true,
	"temp-epic":    true,
	"scaffolding":  true,
	"setup":        true,
	"basic":        true,
	"generic":      true,
}

// IsScaffoldingEpicID returns true if the given epic ID is a forbidden
// placeholder. Resolvers must never emit these.
func IsScaffoldingEpicID(id string) bool {
	return scaffoldingIDPattern.MatchString(id) || scaffoldingLiterals[id]
}

// Epic is a named grouping of tasks inside a project by functional area.
type Epic struct {
	// ID is the unique identifier for this epic.
	ID string `json:"id" yaml:"id"`
	// ProjectID is the project this epic belongs to.
	ProjectID string `json:"projectId" yaml:"projectId"`
	// Title is the human-readable epic title.
	Title string `json:"title" yaml:"title"`
	// Description provides detail about the epic.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Status is the current state of the epic.
	Status ProjectStatus `json:"status" yaml:"status"`
	// Priority ranks the epic.
	Priority Priority `json:"priority" yaml:"priority"`
	// EstimatedHours is the total expected effort for the epic.
	EstimatedHours float64 `json:"estimatedHours,omitempty" yaml:"estimatedHours,omitempty"`
	// TaskIDs lists the epic's tasks in order. Every entry references an
	// existing task whose EpicID equals this epic's ID.
	TaskIDs []string `json:"taskIds,omitempty" yaml:"taskIds,omitempty"`
	// Dependencies lists epic IDs this epic depends on, if any.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Dependents lists epic IDs that depend on this epic, if any.
	Dependents []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`
	// Metadata carries creation and versioning bookkeeping.
	Metadata EntityMetadata `json:"metadata" yaml:"metadata"`
	// FormatVersion is the persisted schema version.
	FormatVersion string `json:"formatVersion" yaml:"formatVersion"`
}

// Validate checks the epic against the schema rules, including the
// anti-scaffolding contract on its ID.
func (e *Epic) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("epic id must not be empty")
	}
	if IsScaffoldingEpicID(e.ID) {
		return fmt.Errorf("epic id %q matches a reserved scaffolding pattern", e.ID)
	}
	if e.ProjectID == "" {
		return fmt.Errorf("epic %s has no project id", e.ID)
	}
	if e.Title == "" {
		return fmt.Errorf("epic %s has no title", e.ID)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("unknown epic status %q", e.Status)
	}
	return nil
}

// Touch bumps the version and updated timestamp.
func (m *EntityMetadata) Touch(now time.Time) {
	m.UpdatedAt = now
	m.Version++
}
