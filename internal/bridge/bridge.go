// Package bridge keeps the agent registry and the orchestrator
// consistent with each other and exposes a unified agent view to
// external integrations. The registry is authoritative for identity
// and capabilities; the orchestrator is authoritative for task load.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/orchestrator"
	"github.com/vibecoder/taskman/internal/transport"
	"github.com/vibecoder/taskman/pkg/models"
)

// Source names which side originated a propagated change.
type Source string

const (
	SourceRegistry     Source = "registry"
	SourceOrchestrator Source = "orchestrator"
)

// UnifiedAgent is the registration shape external integrations send.
// Capabilities arrive as free-form strings and are mapped onto the
// closed capability set.
type UnifiedAgent struct {
	ID                 string   `json:"id"`
	Capabilities       []string `json:"capabilities"`
	Transport          string   `json:"transportType"`
	SessionID          string   `json:"sessionId,omitempty"`
	MaxConcurrentTasks int      `json:"maxConcurrentTasks"`
	HTTPEndpoint       string   `json:"httpEndpoint,omitempty"`
	Version            string   `json:"version,omitempty"`
}

// AgentView is the reconciled snapshot the bridge serves.
type AgentView struct {
	ID           string
	Capabilities []models.Capability
	Status       models.AgentStatus
	CurrentTasks []string
	LastSynced   time.Time
}

// TransportFactory opens a dispatch channel for a registered agent.
type TransportFactory func(ctx context.Context, agent *models.Agent) (transport.Transport, error)

// Bridge performs the two-sided writes and the periodic reconcile.
type Bridge struct {
	registry  *orchestrator.Registry
	orch      *orchestrator.Orchestrator
	transport TransportFactory
	log       zerolog.Logger

	mu         sync.Mutex
	views      map[string]*AgentView
	inProgress map[string]bool
}

// New creates a bridge over the registry and orchestrator.
func New(registry *orchestrator.Registry, orch *orchestrator.Orchestrator, factory TransportFactory, log zerolog.Logger) *Bridge {
	return &Bridge{
		registry:   registry,
		orch:       orch,
		transport:  factory,
		views:      make(map[string]*AgentView),
		inProgress: make(map[string]bool),
		log:        log.With().Str("component", "integration-bridge").Logger(),
	}
}

// capabilityMap translates registry capability strings onto the closed
// orchestrator set. The table is stable; unknown strings map to general.
var capabilityMap = map[string]models.Capability{
	"code_generation": models.CapabilityGeneral,
	"frontend":        models.CapabilityFrontend,
	"backend":         models.CapabilityBackend,
	"database":        models.CapabilityDatabase,
	"testing":         models.CapabilityTesting,
	"devops":          models.CapabilityDevops,
	"deployment":      models.CapabilityDevops,
	"documentation":   models.CapabilityDocumentation,
	"refactoring":     models.CapabilityRefactoring,
	"debugging":       models.CapabilityDebugging,
}

// MapCapability translates one registry capability string.
func MapCapability(s string) models.Capability {
	if c, ok := capabilityMap[s]; ok {
		return c
	}
	return models.CapabilityGeneral
}

// MapCapabilities translates and deduplicates a capability list.
func MapCapabilities(in []string) []models.Capability {
	seen := make(map[models.Capability]bool, len(in))
	out := make([]models.Capability, 0, len(in))
	for _, s := range in {
		c := MapCapability(s)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// RegisterAgent performs the two-sided registration: the agent record
// goes to the registry and the dispatch channel to the orchestrator.
// Re-entrant calls for the same agent are rejected so a propagation
// triggered by one side cannot loop back into the other.
func (b *Bridge) RegisterAgent(ctx context.Context, unified UnifiedAgent) error {
	if unified.ID == "" {
		return errs.New(errs.KindValidation, "agent id must not be empty")
	}

	b.mu.Lock()
	if b.inProgress[unified.ID] {
		b.mu.Unlock()
		return errs.New(errs.KindConflict, "registration for agent %s is already in progress", unified.ID)
	}
	b.inProgress[unified.ID] = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inProgress, unified.ID)
		b.mu.Unlock()
	}()

	agent := &models.Agent{
		ID:                 unified.ID,
		Capabilities:       MapCapabilities(unified.Capabilities),
		Status:             models.AgentStatusAvailable,
		Transport:          models.TransportType(unified.Transport),
		SessionID:          unified.SessionID,
		MaxConcurrentTasks: unified.MaxConcurrentTasks,
		HTTPEndpoint:       unified.HTTPEndpoint,
		LastSeen:           time.Now().UTC(),
		Metadata:           models.AgentMetadata{Version: unified.Version},
	}
	if err := b.registry.Register(agent); err != nil {
		return err
	}

	tr, err := b.transport(ctx, agent)
	if err != nil {
		// Undo the registry side so both views stay consistent.
		if derr := b.registry.Deregister(agent.ID); derr != nil {
			b.log.Error().Err(derr).Str("agentId", agent.ID).Msg("registry rollback failed")
		}
		return err
	}
	b.orch.RegisterTransport(agent.ID, tr)

	b.mu.Lock()
	b.views[agent.ID] = &AgentView{
		ID:           agent.ID,
		Capabilities: append([]models.Capability(nil), agent.Capabilities...),
		Status:       agent.Status,
		LastSynced:   time.Now().UTC(),
	}
	b.mu.Unlock()

	b.log.Info().Str("agentId", agent.ID).Str("transport", unified.Transport).Msg("agent registered through bridge")
	return nil
}

// GetView returns the reconciled snapshot for one agent.
func (b *Bridge) GetView(agentID string) (*AgentView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.views[agentID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no bridged view for agent %s", agentID)
	}
	out := *v
	out.Capabilities = append([]models.Capability(nil), v.Capabilities...)
	out.CurrentTasks = append([]string(nil), v.CurrentTasks...)
	return &out, nil
}

// SynchronizeAgents reconciles every bridged view against both sides.
// Identity and capabilities come from the registry; current tasks and
// load-derived status come from the orchestrator's bookkeeping.
func (b *Bridge) SynchronizeAgents(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.views))
	for id := range b.views {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			return b.syncOne(id)
		})
	}
	return g.Wait()
}

// syncOne reconciles a single agent view.
func (b *Bridge) syncOne(agentID string) error {
	agent, err := b.registry.GetAgent(agentID)
	if errs.IsKind(err, errs.KindNotFound) {
		// Deregistered out from under the bridge.
		b.mu.Lock()
		delete(b.views, agentID)
		b.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.views[agentID]
	if !ok {
		return nil
	}
	v.Capabilities = append([]models.Capability(nil), agent.Capabilities...)
	v.CurrentTasks = append([]string(nil), agent.CurrentTasks...)
	v.Status = agent.Status
	v.LastSynced = time.Now().UTC()
	return nil
}

// StartSync reconciles on the given cadence until the context ends.
func (b *Bridge) StartSync(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := b.SynchronizeAgents(ctx); err != nil {
					b.log.Warn().Err(err).Msg("agent synchronization failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// PropagateStatusChange pushes a status delta from one side to the
// other. Repeating the same delta is a no-op.
func (b *Bridge) PropagateStatusChange(agentID string, status models.AgentStatus, reason string, source Source) error {
	switch source {
	case SourceRegistry, SourceOrchestrator:
	default:
		return errs.New(errs.KindValidation, "unknown propagation source %q", source)
	}

	if source == SourceOrchestrator {
		if err := b.registry.UpdateAgentStatus(agentID, status, reason); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.views[agentID]
	if !ok {
		return errs.New(errs.KindNotFound, "no bridged view for agent %s", agentID)
	}
	if v.Status == status {
		return nil
	}
	v.Status = status
	v.LastSynced = time.Now().UTC()
	return nil
}

// PropagateTaskStatusChange mirrors a task lifecycle event into the
// bridged view. Terminal statuses remove the task from the view's
// current set; repeating a delta is a no-op.
func (b *Bridge) PropagateTaskStatusChange(agentID, taskID string, status models.TaskStatus, source Source) error {
	switch source {
	case SourceRegistry, SourceOrchestrator:
	default:
		return errs.New(errs.KindValidation, "unknown propagation source %q", source)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.views[agentID]
	if !ok {
		return errs.New(errs.KindNotFound, "no bridged view for agent %s", agentID)
	}

	has := false
	for _, id := range v.CurrentTasks {
		if id == taskID {
			has = true
			break
		}
	}

	switch status {
	case models.TaskStatusInProgress:
		if !has {
			v.CurrentTasks = append(v.CurrentTasks, taskID)
			v.LastSynced = time.Now().UTC()
		}
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled, models.TaskStatusBlocked, models.TaskStatusPending:
		if has {
			kept := v.CurrentTasks[:0]
			for _, id := range v.CurrentTasks {
				if id != taskID {
					kept = append(kept, id)
				}
			}
			v.CurrentTasks = kept
			v.LastSynced = time.Now().UTC()
		}
	default:
		return errs.New(errs.KindValidation, "unknown task status %q", status)
	}
	return nil
}
