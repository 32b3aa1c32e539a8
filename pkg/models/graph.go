package models

import "time"

// GraphNode is a task's view inside a derived dependency graph.
type GraphNode struct {
	// TaskID identifies the task.
	TaskID string `json:"taskId" yaml:"taskId"`
	// Title is the task title at generation time.
	Title string `json:"title" yaml:"title"`
	// Status is the task status at generation time.
	Status TaskStatus `json:"status" yaml:"status"`
	// Priority is the task priority at generation time.
	Priority Priority `json:"priority" yaml:"priority"`
	// EstimatedHours is the task estimate at generation time.
	EstimatedHours float64 `json:"estimatedHours" yaml:"estimatedHours"`
	// Dependencies lists task IDs this node depends on.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Dependents lists task IDs depending on this node.
	Dependents []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`
	// Depth is the longest dependency chain leading into this node.
	Depth int `json:"depth" yaml:"depth"`
	// CriticalPath marks nodes on the project's critical path.
	CriticalPath bool `json:"criticalPath" yaml:"criticalPath"`
}

// GraphStatistics summarizes a derived dependency graph.
type GraphStatistics struct {
	// TotalTasks is the number of nodes.
	TotalTasks int `json:"totalTasks" yaml:"totalTasks"`
	// TotalDependencies is the number of edges.
	TotalDependencies int `json:"totalDependencies" yaml:"totalDependencies"`
	// MaxDepth is the longest dependency chain in the graph.
	MaxDepth int `json:"maxDepth" yaml:"maxDepth"`
	// CyclicDependencies counts nodes involved in cycles.
	CyclicDependencies int `json:"cyclicDependencies" yaml:"cyclicDependencies"`
	// OrphanedTasks counts nodes with no edges in either direction.
	OrphanedTasks int `json:"orphanedTasks" yaml:"orphanedTasks"`
}

// GraphMetadata carries generation bookkeeping for a derived graph.
type GraphMetadata struct {
	// GeneratedAt is when the graph was computed.
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt"`
	// IsValid is true when the graph is acyclic and the execution order
	// covers every node.
	IsValid bool `json:"isValid" yaml:"isValid"`
	// ValidationErrors lists problems found during generation.
	ValidationErrors []string `json:"validationErrors,omitempty" yaml:"validationErrors,omitempty"`
}

// DependencyGraph is the per-project derived view of the task DAG.
// It is computed on demand from stored tasks and dependencies, cached,
// and persisted under graphs/<projectId>.json.
type DependencyGraph struct {
	// ProjectID is the project the graph was generated for.
	ProjectID string `json:"projectId" yaml:"projectId"`
	// Nodes maps task ID to its node view.
	Nodes map[string]*GraphNode `json:"nodes" yaml:"nodes"`
	// Edges lists the dependencies the graph was built from.
	Edges []*Dependency `json:"edges,omitempty" yaml:"edges,omitempty"`
	// ExecutionOrder is a topological ordering of the nodes. Empty when
	// the graph is cyclic.
	ExecutionOrder []string `json:"executionOrder,omitempty" yaml:"executionOrder,omitempty"`
	// CriticalPath is the longest chain of dependent tasks by cumulative
	// estimated hours, from first to last.
	CriticalPath []string `json:"criticalPath,omitempty" yaml:"criticalPath,omitempty"`
	// Statistics summarizes the graph.
	Statistics GraphStatistics `json:"statistics" yaml:"statistics"`
	// Metadata carries generation bookkeeping.
	Metadata GraphMetadata `json:"metadata" yaml:"metadata"`
	// FormatVersion is the persisted schema version.
	FormatVersion string `json:"formatVersion" yaml:"formatVersion"`
}
