// Package scheduler turns the ready task set into an execution plan.
// Six policies order the plan; all of them respect dependency
// readiness and produce identical output for identical input.
package scheduler

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// Policy selects the scheduling algorithm.
type Policy string

const (
	PolicyPriorityFirst    Policy = "priority_first"
	PolicyEarliestDeadline Policy = "earliest_deadline"
	PolicyCriticalPath     Policy = "critical_path"
	PolicyResourceBalanced Policy = "resource_balanced"
	PolicyShortestJob      Policy = "shortest_job"
	PolicyHybridOptimal    Policy = "hybrid_optimal"
)

// Valid returns true if the policy is a known value.
func (p Policy) Valid() bool {
	switch p {
	case PolicyPriorityFirst, PolicyEarliestDeadline, PolicyCriticalPath,
		PolicyResourceBalanced, PolicyShortestJob, PolicyHybridOptimal:
		return true
	default:
		return false
	}
}

// Hybrid policy weights.
const (
	hybridPriorityWeight = 0.4
	hybridCriticalWeight = 0.3
	hybridShortestWeight = 0.2
	hybridBalanceWeight  = 0.1
)

// Entry is one scheduled task.
type Entry struct {
	// TaskID identifies the task.
	TaskID string `json:"taskId"`
	// AgentID is the selected agent for resource-aware policies, empty
	// when the orchestrator should pick at dispatch time.
	AgentID string `json:"agentId,omitempty"`
	// ScheduledAt is the plan timestamp.
	ScheduledAt time.Time `json:"scheduledAt"`
	// ExpectedDuration derives from the task estimate.
	ExpectedDuration time.Duration `json:"expectedDuration"`
}

// Schedule is an ordered execution plan over the ready set.
type Schedule struct {
	// Policy is the algorithm that produced the plan.
	Policy Policy `json:"policy"`
	// Entries lists scheduled tasks in execution order.
	Entries []Entry `json:"entries"`
	// ByTask indexes entries by task ID.
	ByTask map[string]*Entry `json:"-"`
	// GeneratedAt is when the plan was computed.
	GeneratedAt time.Time `json:"generatedAt"`
}

// Request carries everything one scheduling pass needs.
type Request struct {
	// Tasks is the full task set of the project; the scheduler derives
	// the ready set itself.
	Tasks []*models.AtomicTask
	// Graph is the current derived dependency graph, used by
	// critical-path-aware policies. May be nil.
	Graph *models.DependencyGraph
	// Agents is the current roster, used by resource-aware policies.
	Agents []*models.Agent
	// Deadlines maps task ID to an optional hard deadline. Tasks
	// without one sort last under earliest_deadline.
	Deadlines map[string]time.Time
}

// Scheduler computes execution plans.
type Scheduler struct {
	log zerolog.Logger
}

// New creates a scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{log: log.With().Str("component", "scheduler").Logger()}
}

// Schedule computes the plan for the ready set under the given policy.
// Re-invocation on the same input yields the same order.
func (s *Scheduler) Schedule(req Request, policy Policy) (*Schedule, error) {
	if !policy.Valid() {
		return nil, errs.New(errs.KindValidation, "unknown scheduling policy %q", policy)
	}

	ready := readySet(req.Tasks)
	ordered := s.order(ready, req, policy)

	now := time.Now()
	plan := &Schedule{
		Policy:      policy,
		Entries:     make([]Entry, 0, len(ordered)),
		ByTask:      make(map[string]*Entry, len(ordered)),
		GeneratedAt: now,
	}
	balancer := newBalancer(req.Agents)
	for _, task := range ordered {
		entry := Entry{
			TaskID:           task.ID,
			ScheduledAt:      now,
			ExpectedDuration: hoursToDuration(task.EstimatedHours),
		}
		if policy == PolicyResourceBalanced {
			entry.AgentID = balancer.pick(RequiredCapabilities(task))
		}
		plan.Entries = append(plan.Entries, entry)
		plan.ByTask[entry.TaskID] = &plan.Entries[len(plan.Entries)-1]
	}

	s.log.Debug().Str("policy", string(policy)).Int("ready", len(ordered)).Msg("schedule computed")
	return plan, nil
}

// readySet filters to pending tasks whose dependencies are all
// completed, sorted by ID for a stable starting order.
func readySet(tasks []*models.AtomicTask) []*models.AtomicTask {
	status := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}
	completed := func(id string) bool { return status[id] == models.TaskStatusCompleted }

	var ready []*models.AtomicTask
	for _, t := range tasks {
		if t.Ready(completed) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// order applies the policy's comparison over the ready set.
func (s *Scheduler) order(ready []*models.AtomicTask, req Request, policy Policy) []*models.AtomicTask {
	onCriticalPath := map[string]bool{}
	if req.Graph != nil {
		for _, id := range req.Graph.CriticalPath {
			onCriticalPath[id] = true
		}
	}

	less := func(a, b *models.AtomicTask) bool { return a.ID < b.ID }
	switch policy {
	case PolicyPriorityFirst:
		less = func(a, b *models.AtomicTask) bool {
			if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
				return wa > wb
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		}
	case PolicyEarliestDeadline:
		less = func(a, b *models.AtomicTask) bool {
			da, okA := req.Deadlines[a.ID]
			db, okB := req.Deadlines[b.ID]
			switch {
			case okA && okB && !da.Equal(db):
				return da.Before(db)
			case okA != okB:
				return okA
			}
			if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
				return wa > wb
			}
			return a.ID < b.ID
		}
	case PolicyCriticalPath:
		less = func(a, b *models.AtomicTask) bool {
			if ca, cb := onCriticalPath[a.ID], onCriticalPath[b.ID]; ca != cb {
				return ca
			}
			if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
				return wa > wb
			}
			return a.ID < b.ID
		}
	case PolicyShortestJob:
		less = func(a, b *models.AtomicTask) bool {
			if a.EstimatedHours != b.EstimatedHours {
				return a.EstimatedHours < b.EstimatedHours
			}
			return a.ID < b.ID
		}
	case PolicyResourceBalanced:
		// Order by priority; agent selection happens per entry.
		less = func(a, b *models.AtomicTask) bool {
			if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
				return wa > wb
			}
			return a.ID < b.ID
		}
	case PolicyHybridOptimal:
		scores := s.hybridScores(ready, req, onCriticalPath)
		less = func(a, b *models.AtomicTask) bool {
			if sa, sb := scores[a.ID], scores[b.ID]; sa != sb {
				return sa > sb
			}
			return a.ID < b.ID
		}
	}

	ordered := make([]*models.AtomicTask, len(ready))
	copy(ordered, ready)
	sort.SliceStable(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })
	return ordered
}

// hybridScores computes the weighted combination score per task. All
// component scores are normalized to [0, 1].
func (s *Scheduler) hybridScores(ready []*models.AtomicTask, req Request, onCriticalPath map[string]bool) map[string]float64 {
	maxHours := 0.0
	for _, t := range ready {
		if t.EstimatedHours > maxHours {
			maxHours = t.EstimatedHours
		}
	}

	scores := make(map[string]float64, len(ready))
	for _, t := range ready {
		priority := float64(t.Priority.Weight()) / 4.0

		critical := 0.0
		if onCriticalPath[t.ID] {
			critical = 1.0
		}

		shortest := 1.0
		if maxHours > 0 {
			shortest = 1.0 - t.EstimatedHours/maxHours
		}

		balance := capacityFraction(req.Agents, RequiredCapabilities(t))

		scores[t.ID] = hybridPriorityWeight*priority +
			hybridCriticalWeight*critical +
			hybridShortestWeight*shortest +
			hybridBalanceWeight*balance
	}
	return scores
}

// capacityFraction is the fraction of free slots among capable agents.
func capacityFraction(agents []*models.Agent, required []models.Capability) float64 {
	total, free := 0, 0
	for _, a := range agents {
		if a.Status == models.AgentStatusOffline || a.Status == models.AgentStatusError {
			continue
		}
		if !a.HasCapabilities(required) {
			continue
		}
		total += a.MaxConcurrentTasks
		free += a.MaxConcurrentTasks - len(a.CurrentTasks)
	}
	if total == 0 {
		return 0
	}
	return float64(free) / float64(total)
}

// balancer assigns tasks to the least-loaded capable agent,
// round-robin among ties. Load is tracked across one scheduling pass.
type balancer struct {
	agents []*models.Agent
	load   map[string]int
	next   int
}

func newBalancer(agents []*models.Agent) *balancer {
	sorted := make([]*models.Agent, len(agents))
	copy(sorted, agents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	load := make(map[string]int, len(sorted))
	for _, a := range sorted {
		load[a.ID] = len(a.CurrentTasks)
	}
	return &balancer{agents: sorted, load: load}
}

// pick returns the least-loaded capable available agent, or empty when
// none qualifies.
func (b *balancer) pick(required []models.Capability) string {
	best := ""
	bestLoad := 0
	n := len(b.agents)
	for i := 0; i < n; i++ {
		a := b.agents[(b.next+i)%n]
		if a.Status != models.AgentStatusAvailable {
			continue
		}
		if !a.HasCapabilities(required) {
			continue
		}
		if b.load[a.ID] >= a.MaxConcurrentTasks {
			continue
		}
		if best == "" || b.load[a.ID] < bestLoad {
			best, bestLoad = a.ID, b.load[a.ID]
		}
	}
	if best != "" {
		b.load[best]++
		b.next++
	}
	return best
}

// RequiredCapabilities maps a task's type to the capability set an
// agent needs to run it.
func RequiredCapabilities(task *models.AtomicTask) []models.Capability {
	switch task.Type {
	case models.TaskTypeTesting:
		return []models.Capability{models.CapabilityTesting}
	case models.TaskTypeDocumentation:
		return []models.Capability{models.CapabilityDocumentation}
	case models.TaskTypeRefactoring:
		return []models.Capability{models.CapabilityRefactoring}
	case models.TaskTypeDebugging:
		return []models.Capability{models.CapabilityDebugging}
	case models.TaskTypeDeployment:
		return []models.Capability{models.CapabilityDevops}
	default:
		return []models.Capability{models.CapabilityGeneral}
	}
}

// hoursToDuration converts a fractional hour estimate.
func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
