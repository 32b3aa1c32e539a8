package bridge

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/lock"
	"github.com/vibecoder/taskman/internal/orchestrator"
	"github.com/vibecoder/taskman/internal/security"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/internal/transport"
	"github.com/vibecoder/taskman/pkg/models"
)

type fakeTransport struct{}

func (fakeTransport) Kind() models.TransportType { return models.TransportStdio }

func (fakeTransport) Dispatch(ctx context.Context, req transport.DispatchRequest) (*transport.DispatchResponse, error) {
	return &transport.DispatchResponse{TaskID: req.TaskID, Accepted: true}, nil
}

func (fakeTransport) Close() error { return nil }

type world struct {
	registry *orchestrator.Registry
	orch     *orchestrator.Orchestrator
	store    *storage.Engine
	bridge   *Bridge
}

func newTestWorld(t *testing.T, factory TransportFactory) *world {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default(root, root)
	cfg.Locks.AuditEnabled = false

	validator := security.NewValidator(cfg.Security, zerolog.Nop())
	store, err := storage.NewEngine(cfg.Storage, validator, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	locks := lock.NewManager(cfg.Locks, nil, zerolog.Nop())
	t.Cleanup(func() { locks.Close() })

	registry := orchestrator.NewRegistry(zerolog.Nop())
	orch := orchestrator.New(registry, store, locks, cfg.Agents, zerolog.Nop())
	t.Cleanup(func() { orch.Close() })

	if factory == nil {
		factory = func(ctx context.Context, agent *models.Agent) (transport.Transport, error) {
			return fakeTransport{}, nil
		}
	}
	b := New(registry, orch, factory, zerolog.Nop())
	return &world{registry: registry, orch: orch, store: store, bridge: b}
}

func unifiedAgent(id string) UnifiedAgent {
	return UnifiedAgent{
		ID:                 id,
		Capabilities:       []string{"code_generation", "testing"},
		Transport:          "stdio",
		SessionID:          "session-" + id,
		MaxConcurrentTasks: 2,
	}
}

func TestMapCapabilities(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []models.Capability
	}{
		{"identity", []string{"frontend", "backend"}, []models.Capability{models.CapabilityFrontend, models.CapabilityBackend}},
		{"code generation is general", []string{"code_generation"}, []models.Capability{models.CapabilityGeneral}},
		{"deployment folds into devops", []string{"deployment", "devops"}, []models.Capability{models.CapabilityDevops}},
		{"unknown is general", []string{"quantum_annealing"}, []models.Capability{models.CapabilityGeneral}},
		{"duplicates collapse", []string{"code_generation", "quantum_annealing"}, []models.Capability{models.CapabilityGeneral}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MapCapabilities(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("MapCapabilities(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestRegisterAgentTwoSided(t *testing.T) {
	w := newTestWorld(t, nil)

	if err := w.bridge.RegisterAgent(context.Background(), unifiedAgent("agent-a")); err != nil {
		t.Fatalf("register: %v", err)
	}

	agent, err := w.registry.GetAgent("agent-a")
	if err != nil {
		t.Fatalf("registry side missing: %v", err)
	}
	want := []models.Capability{models.CapabilityGeneral, models.CapabilityTesting}
	if !reflect.DeepEqual(agent.Capabilities, want) {
		t.Errorf("capabilities = %v, want %v", agent.Capabilities, want)
	}

	view, err := w.bridge.GetView("agent-a")
	if err != nil {
		t.Fatalf("view missing: %v", err)
	}
	if view.Status != models.AgentStatusAvailable {
		t.Errorf("view status = %q", view.Status)
	}
}

func TestRegisterAgentTransportFailureRollsBack(t *testing.T) {
	w := newTestWorld(t, func(ctx context.Context, agent *models.Agent) (transport.Transport, error) {
		return nil, errs.New(errs.KindTransportFailure, "dial refused")
	})

	err := w.bridge.RegisterAgent(context.Background(), unifiedAgent("agent-a"))
	if !errs.IsKind(err, errs.KindTransportFailure) {
		t.Fatalf("got %v, want transport failure", err)
	}
	if _, err := w.registry.GetAgent("agent-a"); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("registry side not rolled back")
	}
	if _, err := w.bridge.GetView("agent-a"); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("view created despite failure")
	}
}

func TestRegisterAgentNonReentrant(t *testing.T) {
	var w *world
	var reentrantErr error
	w = newTestWorld(t, func(ctx context.Context, agent *models.Agent) (transport.Transport, error) {
		// A callback on one side tries to register the same agent again.
		reentrantErr = w.bridge.RegisterAgent(ctx, unifiedAgent(agent.ID))
		return fakeTransport{}, nil
	})

	if err := w.bridge.RegisterAgent(context.Background(), unifiedAgent("agent-a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !errs.IsKind(reentrantErr, errs.KindConflict) {
		t.Fatalf("re-entrant call got %v, want conflict", reentrantErr)
	}
}

func TestSynchronizeAgentsPullsBothSides(t *testing.T) {
	w := newTestWorld(t, nil)
	ctx := context.Background()

	if err := w.bridge.RegisterAgent(ctx, unifiedAgent("agent-a")); err != nil {
		t.Fatalf("register: %v", err)
	}

	task := &models.AtomicTask{
		ID:                 "T-200",
		Title:              "Add logout endpoint",
		Description:        "Implement POST /logout",
		Status:             models.TaskStatusPending,
		Priority:           models.PriorityMedium,
		Type:               models.TaskTypeDevelopment,
		EstimatedHours:     0.1,
		AcceptanceCriteria: []string{"session invalidated"},
		EpicID:             "PID-WEB-001-auth-epic",
		ProjectID:          "PID-WEB-001",
	}
	if err := w.store.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := w.orch.Assign(ctx, "tester", "T-200"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := w.bridge.SynchronizeAgents(ctx); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	view, err := w.bridge.GetView("agent-a")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.CurrentTasks) != 1 || view.CurrentTasks[0] != "T-200" {
		t.Errorf("view tasks = %v, want orchestrator load", view.CurrentTasks)
	}
	if view.LastSynced.IsZero() {
		t.Error("lastSynced not stamped")
	}
}

func TestSynchronizeDropsDeregisteredAgent(t *testing.T) {
	w := newTestWorld(t, nil)
	ctx := context.Background()

	w.bridge.RegisterAgent(ctx, unifiedAgent("agent-a"))
	if err := w.registry.Deregister("agent-a"); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	if err := w.bridge.SynchronizeAgents(ctx); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if _, err := w.bridge.GetView("agent-a"); !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("view survived deregistration")
	}
}

func TestPropagateStatusChangeIdempotent(t *testing.T) {
	w := newTestWorld(t, nil)
	ctx := context.Background()

	w.bridge.RegisterAgent(ctx, unifiedAgent("agent-a"))

	if err := w.bridge.PropagateStatusChange("agent-a", models.AgentStatusBusy, "", SourceOrchestrator); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	agent, _ := w.registry.GetAgent("agent-a")
	if agent.Status != models.AgentStatusBusy {
		t.Errorf("registry status = %q, want pushed busy", agent.Status)
	}
	view, _ := w.bridge.GetView("agent-a")
	if view.Status != models.AgentStatusBusy {
		t.Errorf("view status = %q", view.Status)
	}

	// Same delta again changes nothing and does not error.
	if err := w.bridge.PropagateStatusChange("agent-a", models.AgentStatusBusy, "", SourceOrchestrator); err != nil {
		t.Fatalf("repeat propagate: %v", err)
	}
}

func TestPropagateStatusChangeUnknownSource(t *testing.T) {
	w := newTestWorld(t, nil)
	w.bridge.RegisterAgent(context.Background(), unifiedAgent("agent-a"))

	err := w.bridge.PropagateStatusChange("agent-a", models.AgentStatusBusy, "", Source("gossip"))
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestPropagateTaskStatusChange(t *testing.T) {
	w := newTestWorld(t, nil)
	ctx := context.Background()

	w.bridge.RegisterAgent(ctx, unifiedAgent("agent-a"))

	if err := w.bridge.PropagateTaskStatusChange("agent-a", "T-300", models.TaskStatusInProgress, SourceOrchestrator); err != nil {
		t.Fatalf("propagate in_progress: %v", err)
	}
	view, _ := w.bridge.GetView("agent-a")
	if len(view.CurrentTasks) != 1 {
		t.Fatalf("view tasks = %v", view.CurrentTasks)
	}

	// Repeating the same delta does not duplicate the task.
	w.bridge.PropagateTaskStatusChange("agent-a", "T-300", models.TaskStatusInProgress, SourceOrchestrator)
	view, _ = w.bridge.GetView("agent-a")
	if len(view.CurrentTasks) != 1 {
		t.Errorf("duplicate propagation grew tasks: %v", view.CurrentTasks)
	}

	if err := w.bridge.PropagateTaskStatusChange("agent-a", "T-300", models.TaskStatusCompleted, SourceOrchestrator); err != nil {
		t.Fatalf("propagate completed: %v", err)
	}
	view, _ = w.bridge.GetView("agent-a")
	if len(view.CurrentTasks) != 0 {
		t.Errorf("completed task still listed: %v", view.CurrentTasks)
	}

	// Terminal delta twice is a no-op.
	if err := w.bridge.PropagateTaskStatusChange("agent-a", "T-300", models.TaskStatusCompleted, SourceOrchestrator); err != nil {
		t.Fatalf("repeat terminal propagate: %v", err)
	}
}

func TestStartSyncReconcilesPeriodically(t *testing.T) {
	w := newTestWorld(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.bridge.RegisterAgent(ctx, unifiedAgent("agent-a"))
	w.registry.UpdateAgentStatus("agent-a", models.AgentStatusBusy, "")

	w.bridge.StartSync(ctx, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		view, err := w.bridge.GetView("agent-a")
		if err == nil && view.Status == models.AgentStatusBusy {
			return
		}
		select {
		case <-deadline:
			t.Fatal("view never converged to registry status")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
