package models

import (
	"fmt"
	"time"
)

// ProjectStatus represents the current state of a project or epic.
type ProjectStatus string

const (
	ProjectStatusPending    ProjectStatus = "pending"
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusBlocked    ProjectStatus = "blocked"
	ProjectStatusCancelled  ProjectStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusPending, ProjectStatusInProgress, ProjectStatusCompleted,
		ProjectStatusBlocked, ProjectStatusCancelled:
		return true
	default:
		return false
	}
}

// TechStack describes the technologies a project uses.
type TechStack struct {
	// Languages lists programming languages in use.
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	// Frameworks lists frameworks in use.
	Frameworks []string `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
	// Tools lists build and infrastructure tooling.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// EntityMetadata carries bookkeeping fields shared by projects and epics.
type EntityMetadata struct {
	// CreatedAt is when the entity was created.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	// UpdatedAt is when the entity was last modified.
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
	// Version counts modifications, starting at 1.
	Version int `json:"version" yaml:"version"`
	// CreatedBy records who or what created the entity.
	CreatedBy string `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
}

// Project is the top-level grouping of epics and tasks.
type Project struct {
	// ID is the unique identifier for this project.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable project name.
	Name string `json:"name" yaml:"name"`
	// Description provides detail about the project.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// RootPath is the project's filesystem root.
	RootPath string `json:"rootPath,omitempty" yaml:"rootPath,omitempty"`
	// Status is the current state of the project.
	Status ProjectStatus `json:"status" yaml:"status"`
	// Priority ranks the project.
	Priority Priority `json:"priority" yaml:"priority"`
	// TechStack describes the technologies in use.
	TechStack TechStack `json:"techStack,omitempty" yaml:"techStack,omitempty"`
	// EpicIDs lists the project's epics in order. Contains only live epics.
	EpicIDs []string `json:"epicIds,omitempty" yaml:"epicIds,omitempty"`
	// Metadata carries creation and versioning bookkeeping.
	Metadata EntityMetadata `json:"metadata" yaml:"metadata"`
	// FormatVersion is the persisted schema version.
	FormatVersion string `json:"formatVersion" yaml:"formatVersion"`
}

// Validate checks the project against the schema rules.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id must not be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("project name must not be empty")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("unknown project status %q", p.Status)
	}
	if !p.Priority.Valid() {
		return fmt.Errorf("unknown project priority %q", p.Priority)
	}
	return nil
}

// HasEpic returns true if the project references the given epic.
func (p *Project) HasEpic(epicID string) bool {
	for _, id := range p.EpicIDs {
		if id == epicID {
			return true
		}
	}
	return false
}
