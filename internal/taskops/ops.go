// Package taskops is the entry point for task and project lifecycle
// operations. It composes the storage engine, the access manager, the
// ID generator, and the epic resolver into the flows external callers
// use, including the intent-driven creation path.
package taskops

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/epic"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/idgen"
	"github.com/vibecoder/taskman/internal/lock"
	"github.com/vibecoder/taskman/internal/oracle"
	"github.com/vibecoder/taskman/internal/perf"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/pkg/models"
)

// Ops bundles the collaborators behind the task lifecycle operations.
type Ops struct {
	store    *storage.Engine
	locks    *lock.Manager
	ids      *idgen.Generator
	resolver *epic.Resolver
	oracle   oracle.Oracle
	perf     *perf.Monitor
	log      zerolog.Logger
}

// New creates the operations facade.
func New(store *storage.Engine, locks *lock.Manager, ids *idgen.Generator, resolver *epic.Resolver, orc oracle.Oracle, mon *perf.Monitor, log zerolog.Logger) *Ops {
	return &Ops{
		store:    store,
		locks:    locks,
		ids:      ids,
		resolver: resolver,
		oracle:   orc,
		perf:     mon,
		log:      log.With().Str("component", "taskops").Logger(),
	}
}

// CreateProjectRequest carries the fields for a new project.
type CreateProjectRequest struct {
	Name        string
	Description string
	RootPath    string
	Priority    models.Priority
	TechStack   models.TechStack
	CreatedBy   string
}

// CreateProject validates and persists a new project.
func (o *Ops) CreateProject(ctx context.Context, holder string, req CreateProjectRequest) (*models.Project, error) {
	span := o.perf.StartOperation("taskops.create_project")
	defer span.End()

	if req.Name == "" {
		return nil, errs.New(errs.KindValidation, "project name must not be empty")
	}
	if existing, err := o.store.FindProjectByName(req.Name); err == nil && existing != nil {
		return nil, errs.New(errs.KindConflict, "project named %q already exists as %s", req.Name, existing.ID)
	}

	id, err := o.ids.ProjectID(req.Name)
	if err != nil {
		return nil, err
	}

	l, err := o.locks.Acquire(ctx, lock.ProjectKey(id), holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	defer o.locks.Release(l.ID)

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	project := &models.Project{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		RootPath:    req.RootPath,
		Status:      models.ProjectStatusPending,
		Priority:    priority,
		TechStack:   req.TechStack,
		Metadata:    models.EntityMetadata{CreatedBy: req.CreatedBy},
	}
	if err := o.store.CreateProject(project); err != nil {
		return nil, err
	}
	o.log.Info().Str("projectId", id).Str("name", req.Name).Msg("project created")
	return project, nil
}

// CreateTaskRequest carries the fields for a new task. EpicID is
// optional; when omitted the epic is resolved from the task context.
type CreateTaskRequest struct {
	ProjectID          string
	EpicID             string
	Title              string
	Description        string
	Priority           models.Priority
	Type               models.TaskType
	FunctionalArea     string
	EstimatedHours     float64
	AcceptanceCriteria []string
	FilePaths          []string
	Tags               []string
	CreatedBy          string
}

// CreateTask persists a new pending task under the project and epic.
// Partial state is reverted if any step fails.
func (o *Ops) CreateTask(ctx context.Context, holder string, req CreateTaskRequest) (*models.AtomicTask, error) {
	span := o.perf.StartOperation("taskops.create_task")
	defer span.End()

	if _, err := o.store.GetProject(req.ProjectID); err != nil {
		return nil, err
	}

	epicID := req.EpicID
	if epicID == "" {
		res, err := o.resolver.Resolve(ctx, holder, req.ProjectID, epic.TaskContext{
			Title:          req.Title,
			Description:    req.Description,
			Tags:           req.Tags,
			FunctionalArea: req.FunctionalArea,
		})
		if err != nil {
			return nil, err
		}
		epicID = res.EpicID
	} else if models.IsScaffoldingEpicID(epicID) {
		return nil, errs.New(errs.KindScaffoldingEpic, "epic id %q matches a forbidden scaffolding pattern", epicID)
	}

	taskID, err := o.ids.TaskID(req.ProjectID, epicID)
	if err != nil {
		return nil, err
	}

	// Composite lock in the fixed global order.
	held, err := o.locks.AcquireMany(ctx,
		[]string{lock.ProjectKey(req.ProjectID), lock.EpicKey(epicID), lock.TaskKey(taskID)},
		holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	defer lock.ReleaseAll(o.locks, held)

	ep, err := o.store.GetEpic(epicID)
	if err != nil {
		return nil, err
	}
	if ep.ProjectID != req.ProjectID {
		return nil, errs.New(errs.KindValidation, "epic %s belongs to project %s, not %s", epicID, ep.ProjectID, req.ProjectID)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	task := &models.AtomicTask{
		ID:                 taskID,
		Title:              req.Title,
		Description:        req.Description,
		Status:             models.TaskStatusPending,
		Priority:           priority,
		Type:               req.Type,
		FunctionalArea:     req.FunctionalArea,
		EstimatedHours:     req.EstimatedHours,
		AcceptanceCriteria: req.AcceptanceCriteria,
		FilePaths:          req.FilePaths,
		Tags:               req.Tags,
		EpicID:             epicID,
		ProjectID:          req.ProjectID,
		CreatedBy:          req.CreatedBy,
	}
	if err := task.Validate(); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid task")
	}
	if err := o.store.CreateTask(task); err != nil {
		return nil, err
	}

	ep.TaskIDs = append(ep.TaskIDs, taskID)
	if err := o.store.UpdateEpic(ep); err != nil {
		// Revert the orphaned task so the epic invariant holds.
		if delErr := o.store.DeleteTask(taskID); delErr != nil {
			o.log.Error().Err(delErr).Str("taskId", taskID).Msg("task revert failed")
		}
		return nil, err
	}

	o.log.Info().Str("taskId", taskID).Str("epicId", epicID).Str("projectId", req.ProjectID).Msg("task created")
	return task, nil
}

// GetTask reads a task under a shared lock.
func (o *Ops) GetTask(ctx context.Context, holder, taskID string) (*models.AtomicTask, error) {
	l, err := o.locks.Acquire(ctx, lock.TaskKey(taskID), holder, lock.ModeRead, lock.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	defer o.locks.Release(l.ID)
	return o.store.GetTask(taskID)
}

// UpdateTaskStatus moves a task along its lifecycle, enforcing the
// transition rules.
func (o *Ops) UpdateTaskStatus(ctx context.Context, holder, taskID string, status models.TaskStatus) (*models.AtomicTask, error) {
	span := o.perf.StartOperation("taskops.update_task_status")
	defer span.End()

	if !status.Valid() {
		return nil, errs.New(errs.KindValidation, "unknown task status %q", status)
	}

	l, err := o.locks.Acquire(ctx, lock.TaskKey(taskID), holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	defer o.locks.Release(l.ID)

	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.CanTransitionTo(status) {
		return nil, errs.New(errs.KindConflict, "task %s cannot move from %s to %s", taskID, task.Status, status)
	}
	task.Status = status
	if status != models.TaskStatusInProgress {
		task.AssignedAgent = ""
	}
	if err := o.store.UpdateTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task and its epic membership. Tasks that other
// tasks depend on cannot be deleted.
func (o *Ops) DeleteTask(ctx context.Context, holder, taskID string) error {
	span := o.perf.StartOperation("taskops.delete_task")
	defer span.End()

	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if len(task.Dependents) > 0 {
		return errs.New(errs.KindConflict, "task %s has %d dependents and cannot be deleted", taskID, len(task.Dependents))
	}

	held, err := o.locks.AcquireMany(ctx,
		[]string{lock.EpicKey(task.EpicID), lock.TaskKey(taskID)},
		holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return err
	}
	defer lock.ReleaseAll(o.locks, held)

	if err := o.store.DeleteTask(taskID); err != nil {
		return err
	}

	ep, err := o.store.GetEpic(task.EpicID)
	if err == nil {
		kept := ep.TaskIDs[:0]
		for _, id := range ep.TaskIDs {
			if id != taskID {
				kept = append(kept, id)
			}
		}
		ep.TaskIDs = kept
		if err := o.store.UpdateEpic(ep); err != nil {
			return err
		}
	}
	return nil
}
