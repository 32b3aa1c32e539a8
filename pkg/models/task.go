package models

import (
	"fmt"
	"time"
)

// FormatVersion is stamped into every persisted entity so that future
// readers can migrate old files.
const FormatVersion = "1.0.0"

// MaxTitleLength is the longest allowed task title.
const MaxTitleLength = 200

// Atomic task duration bounds in hours (5-10 minutes).
const (
	AtomicMinHours = 0.08
	AtomicMaxHours = 0.17
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is assigned and being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCancelled indicates the task was cancelled. Terminal.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusBlocked, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// CanTransitionTo reports whether the status machine allows moving from s to next.
// pending -> in_progress -> (completed | failed | blocked) -> (pending on retry | terminal);
// cancelled is reachable from any non-terminal state.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == next {
		return false
	}
	if next == TaskStatusCancelled {
		return !s.Terminal()
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusInProgress
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusBlocked
	case TaskStatusFailed, TaskStatusBlocked:
		return next == TaskStatusPending
	default:
		return false
	}
}

// TaskType categorizes the kind of work a task represents.
type TaskType string

const (
	TaskTypeDevelopment   TaskType = "development"
	TaskTypeTesting       TaskType = "testing"
	TaskTypeDocumentation TaskType = "documentation"
	TaskTypeResearch      TaskType = "research"
	TaskTypeReview        TaskType = "review"
	TaskTypeRefactoring   TaskType = "refactoring"
	TaskTypeDeployment    TaskType = "deployment"
	TaskTypeDebugging     TaskType = "debugging"
)

// Valid returns true if the task type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeDevelopment, TaskTypeTesting, TaskTypeDocumentation,
		TaskTypeResearch, TaskTypeReview, TaskTypeRefactoring,
		TaskTypeDeployment, TaskTypeDebugging:
		return true
	default:
		return false
	}
}

// TestingRequirements describes how a task's output must be tested.
type TestingRequirements struct {
	// UnitTests lists unit test files or suites to add or update.
	UnitTests []string `json:"unitTests,omitempty" yaml:"unitTests,omitempty"`
	// IntegrationTests lists integration tests to add or update.
	IntegrationTests []string `json:"integrationTests,omitempty" yaml:"integrationTests,omitempty"`
	// CoverageTarget is the desired coverage percentage, 0 when unset.
	CoverageTarget float64 `json:"coverageTarget,omitempty" yaml:"coverageTarget,omitempty"`
}

// QualityCriteria captures non-functional expectations for a task.
type QualityCriteria struct {
	// CodeQuality lists code-quality checks (lint, vet, review).
	CodeQuality []string `json:"codeQuality,omitempty" yaml:"codeQuality,omitempty"`
	// Documentation lists documentation expectations.
	Documentation []string `json:"documentation,omitempty" yaml:"documentation,omitempty"`
	// Performance lists performance expectations.
	Performance []string `json:"performance,omitempty" yaml:"performance,omitempty"`
}

// AtomicTask is the unit of schedulable work.
type AtomicTask struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the task. At most 200 characters.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task. Never empty.
	Description string `json:"description" yaml:"description"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status"`
	// Priority orders this task relative to its peers.
	Priority Priority `json:"priority" yaml:"priority"`
	// Type categorizes the work.
	Type TaskType `json:"type" yaml:"type"`
	// FunctionalArea groups the task by product area (auth, api, ui, ...).
	FunctionalArea string `json:"functionalArea,omitempty" yaml:"functionalArea,omitempty"`
	// EstimatedHours is the expected effort. Atomic tasks fall in [0.08, 0.17].
	EstimatedHours float64 `json:"estimatedHours" yaml:"estimatedHours"`
	// AcceptanceCriteria lists the completion criteria. Exactly one for atomic tasks.
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty" yaml:"acceptanceCriteria,omitempty"`
	// Dependencies lists task IDs this task depends on (must complete first).
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Dependents lists task IDs that depend on this task.
	Dependents []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`
	// FilePaths lists files this task is expected to touch.
	FilePaths []string `json:"filePaths,omitempty" yaml:"filePaths,omitempty"`
	// Testing describes the testing requirements.
	Testing TestingRequirements `json:"testingRequirements,omitempty" yaml:"testingRequirements,omitempty"`
	// Quality describes the quality criteria.
	Quality QualityCriteria `json:"qualityCriteria,omitempty" yaml:"qualityCriteria,omitempty"`
	// AssignedAgent is the ID of the agent working on this task, if any.
	AssignedAgent string `json:"assignedAgent,omitempty" yaml:"assignedAgent,omitempty"`
	// EpicID is the epic this task belongs to.
	EpicID string `json:"epicId" yaml:"epicId"`
	// ProjectID is the project this task belongs to.
	ProjectID string `json:"projectId" yaml:"projectId"`
	// CreatedBy records who or what created the task.
	CreatedBy string `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	// Tags are free-form labels for search and documentation.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
	// FormatVersion is the persisted schema version.
	FormatVersion string `json:"formatVersion" yaml:"formatVersion"`
}

// Validate checks the task against the schema rules.
func (t *AtomicTask) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if t.Title == "" {
		return fmt.Errorf("task title must not be empty")
	}
	if len(t.Title) > MaxTitleLength {
		return fmt.Errorf("task title exceeds %d characters (got %d)", MaxTitleLength, len(t.Title))
	}
	if t.Description == "" {
		return fmt.Errorf("task description must not be empty")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("unknown task priority %q", t.Priority)
	}
	if t.Type != "" && !t.Type.Valid() {
		return fmt.Errorf("unknown task type %q", t.Type)
	}
	if t.EstimatedHours < 0 {
		return fmt.Errorf("estimated hours must be >= 0 (got %v)", t.EstimatedHours)
	}
	return nil
}

// IsAtomicRange returns true if the estimate falls inside the atomic band.
func (t *AtomicTask) IsAtomicRange() bool {
	return t.EstimatedHours >= AtomicMinHours && t.EstimatedHours <= AtomicMaxHours
}

// Ready returns true if the task is pending and completed reports every
// dependency as done.
func (t *AtomicTask) Ready(completed func(taskID string) bool) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed(dep) {
			return false
		}
	}
	return true
}
