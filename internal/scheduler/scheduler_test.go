package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

func task(id string, priority models.Priority, hours float64, deps ...string) *models.AtomicTask {
	return &models.AtomicTask{
		ID:             id,
		Title:          "Task " + id,
		Description:    "work item " + id,
		Status:         models.TaskStatusPending,
		Priority:       priority,
		EstimatedHours: hours,
		Dependencies:   deps,
		ProjectID:      "PID-WEB-001",
	}
}

// The S5 roster: T1 critical 3h no deps, T2 high 2h deps=[T1],
// T3 low 1h no deps. The ready set at time zero is {T1, T3}.
func s5Tasks() []*models.AtomicTask {
	return []*models.AtomicTask{
		task("T1", models.PriorityCritical, 3),
		task("T2", models.PriorityHigh, 2, "T1"),
		task("T3", models.PriorityLow, 1),
	}
}

func orderOf(t *testing.T, plan *Schedule) []string {
	t.Helper()
	var ids []string
	for _, e := range plan.Entries {
		ids = append(ids, e.TaskID)
	}
	return ids
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("order %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestReadySetExcludesBlockedTasks(t *testing.T) {
	s := New(zerolog.Nop())

	plan, err := s.Schedule(Request{Tasks: s5Tasks()}, PolicyPriorityFirst)
	if err != nil {
		t.Fatal(err)
	}
	// T2 depends on incomplete T1 and must not appear.
	assertOrder(t, orderOf(t, plan), []string{"T1", "T3"})
}

func TestPriorityFirstOrder(t *testing.T) {
	s := New(zerolog.Nop())

	tasks := s5Tasks()
	tasks[0].Status = models.TaskStatusCompleted

	plan, err := s.Schedule(Request{Tasks: tasks}, PolicyPriorityFirst)
	if err != nil {
		t.Fatal(err)
	}
	// With T1 done, T2 becomes ready: high before low.
	assertOrder(t, orderOf(t, plan), []string{"T2", "T3"})
}

func TestShortestJobOrder(t *testing.T) {
	s := New(zerolog.Nop())

	tasks := s5Tasks()
	plan, err := s.Schedule(Request{Tasks: tasks}, PolicyShortestJob)
	if err != nil {
		t.Fatal(err)
	}
	// Ready set is {T1 3h, T3 1h}: shortest first.
	assertOrder(t, orderOf(t, plan), []string{"T3", "T1"})
}

func TestEarliestDeadlineOrder(t *testing.T) {
	s := New(zerolog.Nop())

	now := time.Now()
	plan, err := s.Schedule(Request{
		Tasks: s5Tasks(),
		Deadlines: map[string]time.Time{
			"T3": now.Add(time.Hour),
		},
	}, PolicyEarliestDeadline)
	if err != nil {
		t.Fatal(err)
	}
	// T3 has a deadline; T1 has none and sorts after.
	assertOrder(t, orderOf(t, plan), []string{"T3", "T1"})
}

func TestCriticalPathOrder(t *testing.T) {
	s := New(zerolog.Nop())

	graph := &models.DependencyGraph{CriticalPath: []string{"T3"}}
	plan, err := s.Schedule(Request{Tasks: s5Tasks(), Graph: graph}, PolicyCriticalPath)
	if err != nil {
		t.Fatal(err)
	}
	// T3 sits on the critical path and jumps ahead of critical-priority T1.
	assertOrder(t, orderOf(t, plan), []string{"T3", "T1"})
}

func TestResourceBalancedAssignsLeastLoaded(t *testing.T) {
	s := New(zerolog.Nop())

	agents := []*models.Agent{
		{ID: "agent-a", Status: models.AgentStatusAvailable, Capabilities: []models.Capability{models.CapabilityGeneral}, MaxConcurrentTasks: 2, CurrentTasks: []string{"Tx"}},
		{ID: "agent-b", Status: models.AgentStatusAvailable, Capabilities: []models.Capability{models.CapabilityGeneral}, MaxConcurrentTasks: 2},
	}

	plan, err := s.Schedule(Request{Tasks: s5Tasks(), Agents: agents}, PolicyResourceBalanced)
	if err != nil {
		t.Fatal(err)
	}
	// T1 first by priority, placed on the empty agent-b; T3 then goes
	// to agent-a (both now hold one).
	if plan.ByTask["T1"].AgentID != "agent-b" {
		t.Errorf("T1 agent: got %q", plan.ByTask["T1"].AgentID)
	}
	if plan.ByTask["T3"].AgentID == "" {
		t.Error("T3 was not assigned")
	}
}

func TestResourceBalancedSkipsIncapableAgents(t *testing.T) {
	s := New(zerolog.Nop())

	tasks := []*models.AtomicTask{task("T1", models.PriorityHigh, 1)}
	tasks[0].Type = models.TaskTypeTesting
	agents := []*models.Agent{
		{ID: "agent-a", Status: models.AgentStatusAvailable, Capabilities: []models.Capability{models.CapabilityGeneral}, MaxConcurrentTasks: 1},
	}

	plan, err := s.Schedule(Request{Tasks: tasks, Agents: agents}, PolicyResourceBalanced)
	if err != nil {
		t.Fatal(err)
	}
	if plan.ByTask["T1"].AgentID != "" {
		t.Errorf("incapable agent assigned: %q", plan.ByTask["T1"].AgentID)
	}
}

func TestHybridOptimalDeterministic(t *testing.T) {
	s := New(zerolog.Nop())

	req := Request{Tasks: s5Tasks(), Graph: &models.DependencyGraph{CriticalPath: []string{"T1"}}}
	first, err := s.Schedule(req, PolicyHybridOptimal)
	if err != nil {
		t.Fatal(err)
	}
	// Priority 0.4 and critical path 0.3 dominate the shorter job.
	assertOrder(t, orderOf(t, first), []string{"T1", "T3"})

	for i := 0; i < 5; i++ {
		again, err := s.Schedule(req, PolicyHybridOptimal)
		if err != nil {
			t.Fatal(err)
		}
		assertOrder(t, orderOf(t, again), orderOf(t, first))
	}
}

func TestEveryPolicyCoversReadySetAndRespectsDeps(t *testing.T) {
	s := New(zerolog.Nop())

	policies := []Policy{
		PolicyPriorityFirst, PolicyEarliestDeadline, PolicyCriticalPath,
		PolicyResourceBalanced, PolicyShortestJob, PolicyHybridOptimal,
	}
	for _, policy := range policies {
		plan, err := s.Schedule(Request{Tasks: s5Tasks()}, policy)
		if err != nil {
			t.Fatalf("%s: %v", policy, err)
		}
		if len(plan.Entries) != 2 {
			t.Errorf("%s: expected the 2 ready tasks, got %d", policy, len(plan.Entries))
		}
		for _, e := range plan.Entries {
			if e.TaskID == "T2" {
				t.Errorf("%s scheduled T2 before its dependency completed", policy)
			}
		}
	}
}

func TestUnknownPolicyRejected(t *testing.T) {
	s := New(zerolog.Nop())
	_, err := s.Schedule(Request{Tasks: s5Tasks()}, Policy("fifo"))
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestExpectedDuration(t *testing.T) {
	s := New(zerolog.Nop())
	plan, err := s.Schedule(Request{Tasks: []*models.AtomicTask{task("T1", models.PriorityHigh, 0.1)}}, PolicyPriorityFirst)
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.ByTask["T1"].ExpectedDuration; got != 6*time.Minute {
		t.Errorf("expected duration: got %v", got)
	}
}
