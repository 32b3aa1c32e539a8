// Package orchestrator matches ready tasks to remote agents. The
// Registry is the authoritative record of who the agents are; the
// Orchestrator owns task load and dispatch.
package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// Registry holds the authoritative agent records, indexed by agent ID
// and by transport session ID.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*models.Agent
	sessions map[string]string
	log      zerolog.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		agents:   make(map[string]*models.Agent),
		sessions: make(map[string]string),
		log:      log.With().Str("component", "agent-registry").Logger(),
	}
}

// Register adds an agent record. A duplicate ID is rejected unless the
// incoming registration carries a newer lastSeen, in which case it
// replaces the existing record.
func (r *Registry) Register(agent *models.Agent) error {
	if agent == nil {
		return errs.New(errs.KindValidation, "agent must not be nil")
	}
	now := time.Now().UTC()
	reg := cloneAgent(agent)
	if reg.Status == "" {
		reg.Status = models.AgentStatusOnline
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = now
	}
	if reg.LastSeen.IsZero() {
		reg.LastSeen = now
	}
	if err := reg.Validate(); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid agent registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[reg.ID]; ok {
		if !reg.LastSeen.After(existing.LastSeen) {
			return errs.New(errs.KindConflict, "agent %s is already registered", reg.ID)
		}
		// Re-registration: identity and capabilities refresh, task load
		// stays with the orchestrator.
		reg.CurrentTasks = append([]string(nil), existing.CurrentTasks...)
		reg.RegisteredAt = existing.RegisteredAt
		reg.Performance = existing.Performance
		if existing.SessionID != "" && existing.SessionID != reg.SessionID {
			delete(r.sessions, existing.SessionID)
		}
	}

	r.agents[reg.ID] = reg
	if reg.SessionID != "" {
		r.sessions[reg.SessionID] = reg.ID
	}
	r.log.Info().Str("agentId", reg.ID).Str("transport", string(reg.Transport)).Msg("agent registered")
	return nil
}

// Deregister removes an agent record.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return errs.New(errs.KindNotFound, "agent %s is not registered", id)
	}
	delete(r.agents, id)
	if agent.SessionID != "" {
		delete(r.sessions, agent.SessionID)
	}
	r.log.Info().Str("agentId", id).Msg("agent deregistered")
	return nil
}

// GetAgent returns a copy of the agent record.
func (r *Registry) GetAgent(id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "agent %s is not registered", id)
	}
	return cloneAgent(agent), nil
}

// GetAgentBySession resolves a transport session to its agent.
func (r *Registry) GetAgentBySession(sessionID string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no agent for session %s", sessionID)
	}
	return cloneAgent(r.agents[id]), nil
}

// GetAllAgents returns copies of every record, sorted by agent ID.
func (r *Registry) GetAllAgents() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateAgentStatus transitions an agent's status. A transition into
// the error state requires an explicit reason.
func (r *Registry) UpdateAgentStatus(id string, status models.AgentStatus, reason string) error {
	if !status.Valid() {
		return errs.New(errs.KindValidation, "unknown agent status %q", status)
	}
	if status == models.AgentStatusError && reason == "" {
		return errs.New(errs.KindValidation, "transition to error requires a reason")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return errs.New(errs.KindNotFound, "agent %s is not registered", id)
	}
	if agent.Status == status && agent.StatusReason == reason {
		return nil
	}
	agent.Status = status
	agent.StatusReason = ""
	if status == models.AgentStatusError {
		agent.StatusReason = reason
	}
	agent.LastSeen = time.Now().UTC()
	r.log.Info().Str("agentId", id).Str("status", string(status)).Msg("agent status updated")
	return nil
}

// Heartbeat records agent liveness. An offline agent that heartbeats
// comes back at its load-implied status.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return errs.New(errs.KindNotFound, "agent %s is not registered", id)
	}
	now := time.Now().UTC()
	agent.LastHeartbeat = now
	agent.LastSeen = now
	if agent.Status == models.AgentStatusOffline || agent.Status == models.AgentStatusOnline {
		agent.Status = agent.LoadStatus()
	}
	return nil
}

// mutate applies fn to the live record under the registry lock.
func (r *Registry) mutate(id string, fn func(*models.Agent) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return errs.New(errs.KindNotFound, "agent %s is not registered", id)
	}
	return fn(agent)
}

// cloneAgent deep-copies an agent record.
func cloneAgent(a *models.Agent) *models.Agent {
	out := *a
	out.Capabilities = append([]models.Capability(nil), a.Capabilities...)
	out.CurrentTasks = append([]string(nil), a.CurrentTasks...)
	out.Metadata.SupportedProtocols = append([]string(nil), a.Metadata.SupportedProtocols...)
	out.Metadata.Preferences = append([]string(nil), a.Metadata.Preferences...)
	return &out
}
