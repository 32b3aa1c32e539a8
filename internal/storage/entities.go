package storage

import (
	"sort"
	"strings"
	"time"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// CreateProject persists a new project. Rejects duplicate IDs.
func (e *Engine) CreateProject(p *models.Project) error {
	if err := p.Validate(); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid project")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index.Has(p.ID) {
		return errs.New(errs.KindConflict, "project %s already exists", p.ID)
	}
	stampProject(p)
	return e.writeEntity(dirProjects, p.ID, p)
}

// GetProject loads a project by ID.
func (e *Engine) GetProject(id string) (*models.Project, error) {
	p := &models.Project{}
	if err := e.readEntity(dirProjects, id, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProject rewrites an existing project.
func (e *Engine) UpdateProject(p *models.Project) error {
	if err := p.Validate(); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid project")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.index.Has(p.ID) {
		return errs.New(errs.KindNotFound, "project %s not found", p.ID)
	}
	p.Metadata.Touch(time.Now())
	return e.writeEntity(dirProjects, p.ID, p)
}

// DeleteProject removes a project.
func (e *Engine) DeleteProject(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteEntity(dirProjects, id)
}

// ListProjects loads all projects.
func (e *Engine) ListProjects() ([]*models.Project, error) {
	var projects []*models.Project
	for _, id := range e.idsIn(dirProjects) {
		p, err := e.GetProject(id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// FindProjectByName returns the project whose name matches
// case-insensitively, or NotFound.
func (e *Engine) FindProjectByName(name string) (*models.Project, error) {
	projects, err := e.ListProjects()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, "no project named %q", name)
}

// CreateEpic persists a new epic. Rejects duplicate and scaffolding IDs.
func (e *Engine) CreateEpic(ep *models.Epic) error {
	if err := ep.Validate(); err != nil {
		if models.IsScaffoldingEpicID(ep.ID) {
			return errs.Wrap(errs.KindScaffoldingEpic, err, "invalid epic")
		}
		return errs.Wrap(errs.KindValidation, err, "invalid epic")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index.Has(ep.ID) {
		return errs.New(errs.KindConflict, "epic %s already exists", ep.ID)
	}
	stampEpic(ep)
	return e.writeEntity(dirEpics, ep.ID, ep)
}

// GetEpic loads an epic by ID.
func (e *Engine) GetEpic(id string) (*models.Epic, error) {
	ep := &models.Epic{}
	if err := e.readEntity(dirEpics, id, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// UpdateEpic rewrites an existing epic.
func (e *Engine) UpdateEpic(ep *models.Epic) error {
	if err := ep.Validate(); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid epic")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.index.Has(ep.ID) {
		return errs.New(errs.KindNotFound, "epic %s not found", ep.ID)
	}
	ep.Metadata.Touch(time.Now())
	return e.writeEntity(dirEpics, ep.ID, ep)
}

// DeleteEpic removes an epic.
func (e *Engine) DeleteEpic(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteEntity(dirEpics, id)
}

// ListEpics loads all epics for a project. An empty projectID lists all.
func (e *Engine) ListEpics(projectID string) ([]*models.Epic, error) {
	var epics []*models.Epic
	for _, id := range e.idsIn(dirEpics) {
		ep, err := e.GetEpic(id)
		if err != nil {
			return nil, err
		}
		if projectID != "" && ep.ProjectID != projectID {
			continue
		}
		epics = append(epics, ep)
	}
	sort.Slice(epics, func(i, j int) bool { return epics[i].ID < epics[j].ID })
	return epics, nil
}

// CreateTask persists a new task. Rejects duplicate IDs.
func (e *Engine) CreateTask(t *models.AtomicTask) error {
	if err := t.Validate(); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid task")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index.Has(t.ID) {
		return errs.New(errs.KindConflict, "task %s already exists", t.ID)
	}
	stampTask(t)
	return e.writeEntity(dirTasks, t.ID, t)
}

// GetTask loads a task by ID.
func (e *Engine) GetTask(id string) (*models.AtomicTask, error) {
	t := &models.AtomicTask{}
	if err := e.readEntity(dirTasks, id, t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTask rewrites an existing task.
func (e *Engine) UpdateTask(t *models.AtomicTask) error {
	if err := t.Validate(); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid task")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.index.Has(t.ID) {
		return errs.New(errs.KindNotFound, "task %s not found", t.ID)
	}
	t.UpdatedAt = time.Now()
	return e.writeEntity(dirTasks, t.ID, t)
}

// DeleteTask removes a task.
func (e *Engine) DeleteTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteEntity(dirTasks, id)
}

// ListTasks loads tasks filtered by project and epic. Empty filters
// match everything.
func (e *Engine) ListTasks(projectID, epicID string) ([]*models.AtomicTask, error) {
	var tasks []*models.AtomicTask
	for _, id := range e.idsIn(dirTasks) {
		t, err := e.GetTask(id)
		if err != nil {
			return nil, err
		}
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if epicID != "" && t.EpicID != epicID {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// SearchTasks returns tasks whose title, description, or tags contain
// the query, case-insensitively.
func (e *Engine) SearchTasks(query, projectID string) ([]*models.AtomicTask, error) {
	all, err := e.ListTasks(projectID, "")
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []*models.AtomicTask
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.Title), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			tagsContain(t.Tags, q) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTasksByStatus returns tasks in the given status.
func (e *Engine) GetTasksByStatus(status models.TaskStatus, projectID string) ([]*models.AtomicTask, error) {
	all, err := e.ListTasks(projectID, "")
	if err != nil {
		return nil, err
	}
	var out []*models.AtomicTask
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTasksByPriority returns tasks at the given priority.
func (e *Engine) GetTasksByPriority(priority models.Priority, projectID string) ([]*models.AtomicTask, error) {
	all, err := e.ListTasks(projectID, "")
	if err != nil {
		return nil, err
	}
	var out []*models.AtomicTask
	for _, t := range all {
		if t.Priority == priority {
			out = append(out, t)
		}
	}
	return out, nil
}

// CreateDependency persists a new dependency edge.
func (e *Engine) CreateDependency(d *models.Dependency) error {
	if err := d.Validate(); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid dependency")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index.Has(d.ID) {
		return errs.New(errs.KindConflict, "dependency %s already exists", d.ID)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.FormatVersion = models.FormatVersion
	return e.writeEntity(dirDependencies, d.ID, d)
}

// GetDependency loads a dependency by ID.
func (e *Engine) GetDependency(id string) (*models.Dependency, error) {
	d := &models.Dependency{}
	if err := e.readEntity(dirDependencies, id, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDependency removes a dependency edge.
func (e *Engine) DeleteDependency(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteEntity(dirDependencies, id)
}

// ListDependencies loads all dependencies touching tasks of a project.
// An empty projectID lists all.
func (e *Engine) ListDependencies(projectID string) ([]*models.Dependency, error) {
	var taskSet map[string]bool
	if projectID != "" {
		tasks, err := e.ListTasks(projectID, "")
		if err != nil {
			return nil, err
		}
		taskSet = make(map[string]bool, len(tasks))
		for _, t := range tasks {
			taskSet[t.ID] = true
		}
	}

	var deps []*models.Dependency
	for _, id := range e.idsIn(dirDependencies) {
		d, err := e.GetDependency(id)
		if err != nil {
			return nil, err
		}
		if taskSet != nil && !taskSet[d.FromTaskID] && !taskSet[d.ToTaskID] {
			continue
		}
		deps = append(deps, d)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
	return deps, nil
}

// SaveDependencyGraph persists a derived graph and refreshes the cache.
func (e *Engine) SaveDependencyGraph(projectID string, g *models.DependencyGraph) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g.FormatVersion = models.FormatVersion
	if err := e.writeEntity(dirGraphs, graphID(projectID), g); err != nil {
		return err
	}
	e.graphs.SetDefault(projectID, g)
	return nil
}

// LoadDependencyGraph returns the cached or persisted graph for a project.
func (e *Engine) LoadDependencyGraph(projectID string) (*models.DependencyGraph, error) {
	if cached, ok := e.graphs.Get(projectID); ok {
		return cached.(*models.DependencyGraph), nil
	}

	g := &models.DependencyGraph{}
	if err := e.readEntity(dirGraphs, graphID(projectID), g); err != nil {
		return nil, err
	}
	e.graphs.SetDefault(projectID, g)
	return g, nil
}

// InvalidateGraph drops the cached graph for a project.
func (e *Engine) InvalidateGraph(projectID string) {
	e.graphs.Delete(projectID)
}

// graphID is the index key for a project's derived graph. Graphs are
// stored per project but share the index namespace with entities.
func graphID(projectID string) string {
	return "graph:" + projectID
}

// tagsContain reports whether any tag contains the lowercased query.
func tagsContain(tags []string, q string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// stampProject fills bookkeeping fields on first write.
func stampProject(p *models.Project) {
	now := time.Now()
	if p.Metadata.CreatedAt.IsZero() {
		p.Metadata.CreatedAt = now
	}
	p.Metadata.UpdatedAt = now
	if p.Metadata.Version == 0 {
		p.Metadata.Version = 1
	}
	p.FormatVersion = models.FormatVersion
}

// stampEpic fills bookkeeping fields on first write.
func stampEpic(ep *models.Epic) {
	now := time.Now()
	if ep.Metadata.CreatedAt.IsZero() {
		ep.Metadata.CreatedAt = now
	}
	ep.Metadata.UpdatedAt = now
	if ep.Metadata.Version == 0 {
		ep.Metadata.Version = 1
	}
	ep.FormatVersion = models.FormatVersion
}

// stampTask fills bookkeeping fields on first write.
func stampTask(t *models.AtomicTask) {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.FormatVersion = models.FormatVersion
}
