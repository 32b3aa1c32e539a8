// Package deps maintains the task dependency DAG: edge creation with
// cycle rejection, derived graph generation with a deterministic
// topological order, and project-wide consistency validation.
package deps

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/idgen"
	"github.com/vibecoder/taskman/internal/lock"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/pkg/models"
)

// Ops implements dependency operations over the storage engine,
// serialized by the access manager.
type Ops struct {
	store *storage.Engine
	locks *lock.Manager
	ids   *idgen.Generator
	log   zerolog.Logger
}

// NewOps creates the dependency operations facade.
func NewOps(store *storage.Engine, locks *lock.Manager, ids *idgen.Generator, log zerolog.Logger) *Ops {
	return &Ops{
		store: store,
		locks: locks,
		ids:   ids,
		log:   log.With().Str("component", "deps").Logger(),
	}
}

// CreateRequest describes a new dependency edge.
type CreateRequest struct {
	// FromTaskID is the task that depends on another.
	FromTaskID string
	// ToTaskID is the task that must complete first.
	ToTaskID string
	// Type categorizes the relationship. Defaults to blocks.
	Type models.DependencyType
	// Description explains why the dependency exists.
	Description string
	// Critical marks the edge as critical by design.
	Critical bool
}

// Create adds a dependency edge. The edge is rejected when either task
// is missing, when it is a self-loop, or when it would introduce a
// cycle; rejection leaves both tasks and the store unchanged.
func (o *Ops) Create(ctx context.Context, holder string, req CreateRequest) (*models.Dependency, error) {
	if req.FromTaskID == req.ToTaskID {
		return nil, errs.New(errs.KindValidation, "task %s cannot depend on itself", req.FromTaskID)
	}
	if req.Type == "" {
		req.Type = models.DependencyBlocks
	}
	if !req.Type.Valid() {
		return nil, errs.New(errs.KindValidation, "unknown dependency type %q", req.Type)
	}

	locks, err := o.locks.AcquireMany(ctx,
		[]string{lock.TaskKey(req.FromTaskID), lock.TaskKey(req.ToTaskID)},
		holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	defer lock.ReleaseAll(o.locks, locks)

	from, err := o.store.GetTask(req.FromTaskID)
	if err != nil {
		return nil, err
	}
	to, err := o.store.GetTask(req.ToTaskID)
	if err != nil {
		return nil, err
	}

	for _, dep := range from.Dependencies {
		if dep == req.ToTaskID {
			return nil, errs.New(errs.KindConflict, "task %s already depends on %s", req.FromTaskID, req.ToTaskID)
		}
	}

	// The new edge closes a cycle exactly when the prerequisite already
	// depends, transitively, on the dependent.
	if onPath, err := o.dependsOn(req.ToTaskID, req.FromTaskID); err != nil {
		return nil, err
	} else if onPath {
		return nil, errs.New(errs.KindCycleDetected,
			"dependency %s -> %s would close a cycle: %s already depends on %s",
			req.FromTaskID, req.ToTaskID, req.ToTaskID, req.FromTaskID)
	}

	id, err := o.ids.DependencyID(req.FromTaskID, req.ToTaskID)
	if err != nil {
		return nil, err
	}

	dep := &models.Dependency{
		ID:          id,
		FromTaskID:  req.FromTaskID,
		ToTaskID:    req.ToTaskID,
		Type:        req.Type,
		Description: req.Description,
		Critical:    req.Critical,
		CreatedAt:   time.Now(),
	}
	if err := o.store.CreateDependency(dep); err != nil {
		return nil, err
	}

	from.Dependencies = append(from.Dependencies, req.ToTaskID)
	to.Dependents = append(to.Dependents, req.FromTaskID)
	if err := o.store.UpdateTask(from); err != nil {
		return nil, err
	}
	if err := o.store.UpdateTask(to); err != nil {
		return nil, err
	}

	o.store.InvalidateGraph(from.ProjectID)
	o.log.Info().Str("dependency", id).Str("from", req.FromTaskID).Str("to", req.ToTaskID).Msg("dependency created")
	return dep, nil
}

// Delete removes a dependency edge and untangles both task lists.
func (o *Ops) Delete(ctx context.Context, holder, depID string) error {
	dep, err := o.store.GetDependency(depID)
	if err != nil {
		return err
	}

	locks, err := o.locks.AcquireMany(ctx,
		[]string{lock.TaskKey(dep.FromTaskID), lock.TaskKey(dep.ToTaskID), lock.DependencyKey(depID)},
		holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return err
	}
	defer lock.ReleaseAll(o.locks, locks)

	if err := o.store.DeleteDependency(depID); err != nil {
		return err
	}

	var projectID string
	if from, err := o.store.GetTask(dep.FromTaskID); err == nil {
		from.Dependencies = remove(from.Dependencies, dep.ToTaskID)
		projectID = from.ProjectID
		if err := o.store.UpdateTask(from); err != nil {
			return err
		}
	}
	if to, err := o.store.GetTask(dep.ToTaskID); err == nil {
		to.Dependents = remove(to.Dependents, dep.FromTaskID)
		if err := o.store.UpdateTask(to); err != nil {
			return err
		}
	}

	if projectID != "" {
		o.store.InvalidateGraph(projectID)
	}
	o.log.Info().Str("dependency", depID).Msg("dependency deleted")
	return nil
}

// dependsOn reports whether start transitively depends on target.
func (o *Ops) dependsOn(start, target string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true

		task, err := o.store.GetTask(id)
		if err != nil {
			if errs.IsKind(err, errs.KindNotFound) {
				continue
			}
			return false, err
		}
		for _, dep := range task.Dependencies {
			if dep == target {
				return true, nil
			}
			stack = append(stack, dep)
		}
	}
	return false, nil
}

// remove drops the first occurrence of v from s.
func remove(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Generate computes, persists, and returns the derived dependency graph
// for a project. The execution order is deterministic: ready tasks are
// emitted by priority weight descending, then creation time ascending,
// then task ID.
func (o *Ops) Generate(ctx context.Context, projectID string) (*models.DependencyGraph, error) {
	tasks, err := o.store.ListTasks(projectID, "")
	if err != nil {
		return nil, err
	}
	edges, err := o.store.ListDependencies(projectID)
	if err != nil {
		return nil, err
	}

	g := buildGraph(projectID, tasks, edges)
	if err := o.store.SaveDependencyGraph(projectID, g); err != nil {
		return nil, err
	}
	return g, nil
}

// buildGraph derives the graph view from tasks and edges.
func buildGraph(projectID string, tasks []*models.AtomicTask, edges []*models.Dependency) *models.DependencyGraph {
	byID := make(map[string]*models.AtomicTask, len(tasks))
	nodes := make(map[string]*models.GraphNode, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		nodes[t.ID] = &models.GraphNode{
			TaskID:         t.ID,
			Title:          t.Title,
			Status:         t.Status,
			Priority:       t.Priority,
			EstimatedHours: t.EstimatedHours,
		}
	}

	var validationErrors []string
	indegree := make(map[string]int, len(tasks))
	for _, e := range edges {
		from, okFrom := nodes[e.FromTaskID]
		to, okTo := nodes[e.ToTaskID]
		if !okFrom || !okTo {
			validationErrors = append(validationErrors,
				"dependency "+e.ID+" references a task outside the project")
			continue
		}
		from.Dependencies = append(from.Dependencies, e.ToTaskID)
		to.Dependents = append(to.Dependents, e.FromTaskID)
		indegree[e.FromTaskID]++
	}

	order := topoOrder(byID, nodes, indegree)

	cyclic := len(nodes) - len(order)
	if cyclic > 0 {
		validationErrors = append(validationErrors, "dependency graph contains a cycle")
		order = nil
	}

	depths := nodeDepths(nodes, order)
	maxDepth := 0
	for id, d := range depths {
		nodes[id].Depth = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	critical := criticalPath(byID, nodes, order)
	for _, id := range critical {
		nodes[id].CriticalPath = true
	}

	orphans := 0
	for _, n := range nodes {
		if len(n.Dependencies) == 0 && len(n.Dependents) == 0 {
			orphans++
		}
	}

	return &models.DependencyGraph{
		ProjectID:      projectID,
		Nodes:          nodes,
		Edges:          edges,
		ExecutionOrder: order,
		CriticalPath:   critical,
		Statistics: models.GraphStatistics{
			TotalTasks:         len(nodes),
			TotalDependencies:  len(edges),
			MaxDepth:           maxDepth,
			CyclicDependencies: cyclic,
			OrphanedTasks:      orphans,
		},
		Metadata: models.GraphMetadata{
			GeneratedAt:      time.Now(),
			IsValid:          cyclic == 0,
			ValidationErrors: validationErrors,
		},
	}
}

// topoOrder runs Kahn's algorithm with the deterministic tie-break.
// Returns a partial order when the graph is cyclic.
func topoOrder(byID map[string]*models.AtomicTask, nodes map[string]*models.GraphNode, indegree map[string]int) []string {
	var ready []string
	for id := range nodes {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	less := func(a, b string) bool {
		ta, tb := byID[a], byID[b]
		if wa, wb := ta.Priority.Weight(), tb.Priority.Weight(); wa != wb {
			return wa > wb
		}
		if !ta.CreatedAt.Equal(tb.CreatedAt) {
			return ta.CreatedAt.Before(tb.CreatedAt)
		}
		return a < b
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range nodes[id].Dependents {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order
}

// nodeDepths computes the longest prerequisite chain into each node,
// walking the topological order so prerequisites are always resolved
// first.
func nodeDepths(nodes map[string]*models.GraphNode, order []string) map[string]int {
	depths := make(map[string]int, len(nodes))
	for _, id := range order {
		d := 0
		for _, dep := range nodes[id].Dependencies {
			if dd := depths[dep] + 1; dd > d {
				d = dd
			}
		}
		depths[id] = d
	}
	return depths
}

// criticalPath returns the chain of tasks with the largest cumulative
// estimated hours, from first prerequisite to last dependent.
func criticalPath(byID map[string]*models.AtomicTask, nodes map[string]*models.GraphNode, order []string) []string {
	if len(order) == 0 {
		return nil
	}

	cost := make(map[string]float64, len(order))
	prev := make(map[string]string, len(order))
	var endID string
	var best float64
	for _, id := range order {
		c := byID[id].EstimatedHours
		var via string
		var viaCost float64
		for _, dep := range nodes[id].Dependencies {
			if cost[dep] > viaCost || via == "" {
				via, viaCost = dep, cost[dep]
			}
		}
		cost[id] = c + viaCost
		if via != "" {
			prev[id] = via
		}
		if cost[id] > best || endID == "" {
			endID, best = id, cost[id]
		}
	}

	var path []string
	for id := endID; id != ""; id = prev[id] {
		path = append(path, id)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Validate checks a project's dependency state for structural problems
// and returns a human-readable finding per issue. An empty slice means
// the project is consistent.
func (o *Ops) Validate(ctx context.Context, projectID string) ([]string, error) {
	tasks, err := o.store.ListTasks(projectID, "")
	if err != nil {
		return nil, err
	}
	edges, err := o.store.ListDependencies(projectID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.AtomicTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var findings []string
	for _, e := range edges {
		if _, ok := byID[e.FromTaskID]; !ok {
			findings = append(findings, "dependency "+e.ID+" names missing task "+e.FromTaskID)
		}
		if _, ok := byID[e.ToTaskID]; !ok {
			findings = append(findings, "dependency "+e.ID+" names missing task "+e.ToTaskID)
		}
	}

	// Task lists must mirror the stored edges.
	edgeSet := make(map[string]bool, len(edges))
	for _, e := range edges {
		edgeSet[e.FromTaskID+"->"+e.ToTaskID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if !edgeSet[t.ID+"->"+dep] {
				findings = append(findings, "task "+t.ID+" lists dependency on "+dep+" with no stored edge")
			}
		}
		for _, dependent := range t.Dependents {
			if !edgeSet[dependent+"->"+t.ID] {
				findings = append(findings, "task "+t.ID+" lists dependent "+dependent+" with no stored edge")
			}
		}
	}

	g := buildGraph(projectID, tasks, edges)
	if !g.Metadata.IsValid {
		findings = append(findings, g.Metadata.ValidationErrors...)
	}
	return findings, nil
}
