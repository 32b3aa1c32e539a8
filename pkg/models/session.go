package models

import "time"

// SessionStatus represents the state of a decomposition session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning, SessionStatusCompleted, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// TaskOutcome records the per-task result of a decomposition.
type TaskOutcome struct {
	// TaskID identifies the produced task.
	TaskID string `json:"taskId"`
	// Depth is the recursion depth at which the task was produced.
	Depth int `json:"depth"`
	// Atomic is true if the task passed the atomic predicate.
	Atomic bool `json:"atomic"`
	// Warnings lists convergence warnings recorded for the task.
	Warnings []string `json:"warnings,omitempty"`
}

// DecompositionSession tracks one run of the recursive decomposition
// engine. Sessions are transient and owned by exactly one worker.
type DecompositionSession struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// ProjectID is the project being decomposed into.
	ProjectID string `json:"projectId"`
	// RootTask is the task the decomposition started from.
	RootTask *AtomicTask `json:"rootTask"`
	// Status is the current state of the session.
	Status SessionStatus `json:"status"`
	// Progress is a 0-100 completion estimate.
	Progress int `json:"progress"`
	// PersistedTasks is the flat list of all leaf tasks written. Empty
	// when the root task was already atomic.
	PersistedTasks []string `json:"persistedTasks,omitempty"`
	// RichResults records the per-task outcomes.
	RichResults []TaskOutcome `json:"richResults,omitempty"`
	// StartTime is when the session began.
	StartTime time.Time `json:"startTime"`
	// EndTime is when the session finished, if it has.
	EndTime *time.Time `json:"endTime,omitempty"`
}
