// Package oracle defines the LLM-backed calls the core consumes:
// intent recognition, atomic detection, and task decomposition. The
// production implementation talks to the Anthropic API; tests plug in
// a deterministic queue.
package oracle

import (
	"context"

	"github.com/vibecoder/taskman/pkg/models"
)

// Intent is the closed set of recognized command intents.
type Intent string

const (
	IntentCreateProject  Intent = "create_project"
	IntentCreateTask     Intent = "create_task"
	IntentListProjects   Intent = "list_projects"
	IntentListTasks      Intent = "list_tasks"
	IntentUpdateProject  Intent = "update_project"
	IntentCheckStatus    Intent = "check_status"
	IntentRunTask        Intent = "run_task"
	IntentParsePRD       Intent = "parse_prd"
	IntentParseTasks     Intent = "parse_tasks"
	IntentImportArtifact Intent = "import_artifact"
	IntentUnknown        Intent = "unknown"
)

// Valid returns true if the intent is a known value.
func (i Intent) Valid() bool {
	switch i {
	case IntentCreateProject, IntentCreateTask, IntentListProjects,
		IntentListTasks, IntentUpdateProject, IntentCheckStatus,
		IntentRunTask, IntentParsePRD, IntentParseTasks,
		IntentImportArtifact, IntentUnknown:
		return true
	default:
		return false
	}
}

// IntentAlternative is a lower-confidence intent candidate.
type IntentAlternative struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// IntentResult is the outcome of recognizeIntent.
type IntentResult struct {
	Intent       Intent              `json:"intent"`
	Confidence   float64             `json:"confidence"`
	Parameters   map[string]string   `json:"parameters,omitempty"`
	Alternatives []IntentAlternative `json:"alternatives,omitempty"`
}

// AtomicResult is the outcome of detectAtomic.
type AtomicResult struct {
	IsAtomic          bool     `json:"isAtomic"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning,omitempty"`
	EstimatedHours    float64  `json:"estimatedHours,omitempty"`
	ComplexityFactors []string `json:"complexityFactors,omitempty"`
	Recommendations   []string `json:"recommendations,omitempty"`
}

// ChildTask is one decomposition candidate.
type ChildTask struct {
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	EstimatedHours     float64         `json:"estimatedHours"`
	AcceptanceCriteria []string        `json:"acceptanceCriteria"`
	Priority           models.Priority `json:"priority"`
	Tags               []string        `json:"tags,omitempty"`
}

// DecomposeResult is the outcome of decomposeTask.
type DecomposeResult struct {
	Tasks []ChildTask `json:"tasks"`
}

// ProjectContext summarizes the project for oracle prompts.
type ProjectContext struct {
	ProjectID   string   `json:"projectId"`
	Description string   `json:"description,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Frameworks  []string `json:"frameworks,omitempty"`
	Tools       []string `json:"tools,omitempty"`
}

// Oracle is the pluggable LLM interface. Implementations must be safe
// for concurrent use.
type Oracle interface {
	// RecognizeIntent maps a natural-language utterance to an intent.
	RecognizeIntent(ctx context.Context, utterance string, params map[string]string) (*IntentResult, error)
	// DetectAtomic judges whether a task is small enough to execute directly.
	DetectAtomic(ctx context.Context, task *models.AtomicTask, pc ProjectContext) (*AtomicResult, error)
	// DecomposeTask proposes child tasks for a non-atomic task.
	DecomposeTask(ctx context.Context, task *models.AtomicTask, pc ProjectContext) (*DecomposeResult, error)
}
