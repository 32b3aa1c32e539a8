package models

import (
	"fmt"
	"time"
)

// AgentStatus represents the current state of a remote agent.
type AgentStatus string

const (
	// AgentStatusOnline indicates the agent connected but has not yet
	// advertised availability.
	AgentStatusOnline AgentStatus = "online"
	// AgentStatusAvailable indicates the agent can accept more tasks.
	AgentStatusAvailable AgentStatus = "available"
	// AgentStatusBusy indicates the agent is at its concurrency limit.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusOffline indicates the agent is unreachable.
	AgentStatusOffline AgentStatus = "offline"
	// AgentStatusError indicates the agent reported a fault. Transitions
	// into this state require an explicit reason.
	AgentStatusError AgentStatus = "error"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusOnline, AgentStatusAvailable, AgentStatusBusy,
		AgentStatusOffline, AgentStatusError:
		return true
	default:
		return false
	}
}

// TransportType identifies how dispatched work reaches an agent.
type TransportType string

const (
	TransportStdio     TransportType = "stdio"
	TransportSSE       TransportType = "sse"
	TransportWebsocket TransportType = "websocket"
	TransportHTTP      TransportType = "http"
)

// Valid returns true if the transport type is a known value.
func (t TransportType) Valid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportWebsocket, TransportHTTP:
		return true
	default:
		return false
	}
}

// Capability is the closed capability set used for scheduling decisions.
// Free-form tags live alongside in Agent.Metadata.Preferences.
type Capability string

const (
	CapabilityGeneral       Capability = "general"
	CapabilityFrontend      Capability = "frontend"
	CapabilityBackend       Capability = "backend"
	CapabilityDatabase      Capability = "database"
	CapabilityTesting       Capability = "testing"
	CapabilityDevops        Capability = "devops"
	CapabilityDocumentation Capability = "documentation"
	CapabilityRefactoring   Capability = "refactoring"
	CapabilityDebugging     Capability = "debugging"
)

// AgentPerformance tracks an agent's historical throughput.
type AgentPerformance struct {
	// TasksCompleted counts completed tasks.
	TasksCompleted int `json:"tasksCompleted" yaml:"tasksCompleted"`
	// AverageCompletionTime is the mean completion duration.
	AverageCompletionTime time.Duration `json:"averageCompletionTime" yaml:"averageCompletionTime"`
	// SuccessRate is the fraction of dispatched tasks that completed, in [0,1].
	SuccessRate float64 `json:"successRate" yaml:"successRate"`
}

// AgentMetadata carries descriptive agent attributes.
type AgentMetadata struct {
	// Version is the agent software version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// SupportedProtocols lists wire protocols the agent speaks.
	SupportedProtocols []string `json:"supportedProtocols,omitempty" yaml:"supportedProtocols,omitempty"`
	// Preferences are free-form tags for documentation and search.
	Preferences []string `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// Agent is a remote worker capable of executing dispatched tasks.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id" yaml:"id"`
	// Capabilities is the set of capability tags used for matching.
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status" yaml:"status"`
	// StatusReason explains the last transition into the error state.
	StatusReason string `json:"statusReason,omitempty" yaml:"statusReason,omitempty"`
	// Transport identifies the dispatch mechanism.
	Transport TransportType `json:"transportType" yaml:"transportType"`
	// SessionID is the transport-level session identifier.
	SessionID string `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	// MaxConcurrentTasks bounds CurrentTasks.
	MaxConcurrentTasks int `json:"maxConcurrentTasks" yaml:"maxConcurrentTasks"`
	// CurrentTasks lists task IDs currently assigned to the agent.
	CurrentTasks []string `json:"currentTasks,omitempty" yaml:"currentTasks,omitempty"`
	// HTTPEndpoint is the dispatch URL for http transport agents.
	HTTPEndpoint string `json:"httpEndpoint,omitempty" yaml:"httpEndpoint,omitempty"`
	// RegisteredAt is when the agent first registered.
	RegisteredAt time.Time `json:"registeredAt" yaml:"registeredAt"`
	// LastSeen is the last time any message arrived from the agent.
	LastSeen time.Time `json:"lastSeen" yaml:"lastSeen"`
	// LastHeartbeat is the last explicit heartbeat.
	LastHeartbeat time.Time `json:"lastHeartbeat" yaml:"lastHeartbeat"`
	// Performance tracks historical throughput.
	Performance AgentPerformance `json:"performance" yaml:"performance"`
	// Metadata carries descriptive attributes.
	Metadata AgentMetadata `json:"metadata" yaml:"metadata"`
}

// Validate checks the agent against the schema rules.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id must not be empty")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("unknown agent status %q", a.Status)
	}
	if !a.Transport.Valid() {
		return fmt.Errorf("unknown transport type %q", a.Transport)
	}
	if a.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("agent %s must allow at least one concurrent task", a.ID)
	}
	if len(a.CurrentTasks) > a.MaxConcurrentTasks {
		return fmt.Errorf("agent %s holds %d tasks, limit is %d", a.ID, len(a.CurrentTasks), a.MaxConcurrentTasks)
	}
	return nil
}

// HasCapabilities returns true if the agent's capability set covers all
// of required.
func (a *Agent) HasCapabilities(required []Capability) bool {
	for _, want := range required {
		found := false
		for _, have := range a.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasTask returns true if the task is currently assigned to the agent.
func (a *Agent) HasTask(taskID string) bool {
	for _, id := range a.CurrentTasks {
		if id == taskID {
			return true
		}
	}
	return false
}

// LoadStatus returns the status implied by the agent's task load:
// busy exactly when CurrentTasks is full, available otherwise.
func (a *Agent) LoadStatus() AgentStatus {
	if len(a.CurrentTasks) >= a.MaxConcurrentTasks {
		return AgentStatusBusy
	}
	return AgentStatusAvailable
}
