package orchestrator

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/lock"
	"github.com/vibecoder/taskman/internal/scheduler"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/internal/transport"
	"github.com/vibecoder/taskman/pkg/models"
)

// Dispatch retry delay: a fixed base plus uniform jitter.
const (
	dispatchRetryBase   = 25 * time.Millisecond
	dispatchRetryJitter = 100 * time.Millisecond
)

// Orchestrator assigns ready tasks to capable agents and dispatches
// them over each agent's transport. Task load lives here; agent
// identity lives in the Registry.
type Orchestrator struct {
	registry *Registry
	store    *storage.Engine
	locks    *lock.Manager
	cfg      config.AgentConfig
	log      zerolog.Logger

	mu         sync.Mutex
	transports map[string]transport.Transport
	closed     bool
}

// New creates an orchestrator over the given registry.
func New(registry *Registry, store *storage.Engine, locks *lock.Manager, cfg config.AgentConfig, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		store:      store,
		locks:      locks,
		cfg:        cfg,
		transports: make(map[string]transport.Transport),
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// RegisterTransport binds an agent's dispatch channel. A previous
// transport for the same agent is closed.
func (o *Orchestrator) RegisterTransport(agentID string, t transport.Transport) {
	o.mu.Lock()
	prev := o.transports[agentID]
	o.transports[agentID] = t
	o.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// transportFor looks up the agent's dispatch channel.
func (o *Orchestrator) transportFor(agentID string) (transport.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.transports[agentID]
	if !ok {
		return nil, errs.New(errs.KindTransportFailure, "no transport registered for agent %s", agentID)
	}
	return t, nil
}

// Assign picks an agent for the task, records the assignment, and
// dispatches. On dispatch failure both the task and agent mutations
// are rolled back.
func (o *Orchestrator) Assign(ctx context.Context, holder string, taskID string) (string, error) {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return "", err
	}
	if task.Status != models.TaskStatusPending {
		return "", errs.New(errs.KindConflict, "task %s is %s, only pending tasks can be assigned", taskID, task.Status)
	}
	required := scheduler.RequiredCapabilities(task)

	agentID, err := o.selectAgent(required)
	if err != nil {
		return "", err
	}

	// Fixed acquisition order: task before agent.
	locks, err := o.locks.AcquireMany(ctx,
		[]string{lock.TaskKey(taskID), lock.AgentKey(agentID)},
		holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return "", err
	}
	defer lock.ReleaseAll(o.locks, locks)

	// Re-read under the lock; the ready check above was advisory.
	task, err = o.store.GetTask(taskID)
	if err != nil {
		return "", err
	}
	if task.Status != models.TaskStatusPending {
		return "", errs.New(errs.KindConflict, "task %s is %s, only pending tasks can be assigned", taskID, task.Status)
	}

	if err := o.recordAssignment(task, agentID); err != nil {
		return "", err
	}

	err = o.dispatch(ctx, agentID, task)
	if err != nil && errs.IsKind(err, errs.KindTransportFailure) && ctx.Err() == nil {
		// Transient transport failures get one more chance; the jitter
		// keeps simultaneous assigners from retrying in lockstep.
		wait := dispatchRetryBase + time.Duration(rand.Int63n(int64(dispatchRetryJitter)))
		o.log.Warn().Err(err).Str("taskId", taskID).Str("agentId", agentID).
			Dur("wait", wait).Msg("dispatch failed, retrying once")
		select {
		case <-time.After(wait):
			err = o.dispatch(ctx, agentID, task)
		case <-ctx.Done():
			err = errs.Wrap(errs.KindCancelled, ctx.Err(), "assignment of task %s cancelled", taskID)
		}
	}
	if err != nil {
		if rbErr := o.rollbackAssignment(task, agentID); rbErr != nil {
			o.log.Error().Err(rbErr).Str("taskId", taskID).Str("agentId", agentID).
				Msg("rollback after dispatch failure also failed")
		}
		return "", err
	}

	o.log.Info().Str("taskId", taskID).Str("agentId", agentID).Msg("task dispatched")
	return agentID, nil
}

// selectAgent filters available agents with the required capabilities
// and picks the least-loaded, ties broken by agent ID.
func (o *Orchestrator) selectAgent(required []models.Capability) (string, error) {
	candidates := make([]*models.Agent, 0)
	for _, a := range o.registry.GetAllAgents() {
		if a.Status != models.AgentStatusAvailable {
			continue
		}
		if !a.HasCapabilities(required) {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return "", errs.New(errs.KindConflict, "no available agent has capabilities %v", required)
	}

	sort.Slice(candidates, func(i, j int) bool {
		li, lj := len(candidates[i].CurrentTasks), len(candidates[j].CurrentTasks)
		if li != lj {
			return li < lj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].ID, nil
}

// recordAssignment mutates the task and the agent together.
func (o *Orchestrator) recordAssignment(task *models.AtomicTask, agentID string) error {
	err := o.registry.mutate(agentID, func(a *models.Agent) error {
		if len(a.CurrentTasks) >= a.MaxConcurrentTasks {
			return errs.New(errs.KindConflict, "agent %s is at its concurrency limit", agentID)
		}
		a.CurrentTasks = append(a.CurrentTasks, task.ID)
		a.Status = a.LoadStatus()
		return nil
	})
	if err != nil {
		return err
	}

	task.Status = models.TaskStatusInProgress
	task.AssignedAgent = agentID
	if err := o.store.UpdateTask(task); err != nil {
		o.registry.mutate(agentID, func(a *models.Agent) error {
			a.CurrentTasks = removeString(a.CurrentTasks, task.ID)
			a.Status = a.LoadStatus()
			return nil
		})
		return err
	}
	return nil
}

// rollbackAssignment undoes recordAssignment after a dispatch failure.
func (o *Orchestrator) rollbackAssignment(task *models.AtomicTask, agentID string) error {
	task.Status = models.TaskStatusPending
	task.AssignedAgent = ""
	storeErr := o.store.UpdateTask(task)

	regErr := o.registry.mutate(agentID, func(a *models.Agent) error {
		a.CurrentTasks = removeString(a.CurrentTasks, task.ID)
		a.Status = a.LoadStatus()
		return nil
	})
	if storeErr != nil {
		return storeErr
	}
	return regErr
}

// dispatch sends the task over the agent's transport.
func (o *Orchestrator) dispatch(ctx context.Context, agentID string, task *models.AtomicTask) error {
	t, err := o.transportFor(agentID)
	if err != nil {
		return err
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()

	resp, err := t.Dispatch(dispatchCtx, transport.DispatchRequest{
		TaskID:   task.ID,
		Task:     task,
		Deadline: time.Now().Add(o.cfg.DispatchTimeout),
	})
	if err != nil {
		return err
	}
	if !resp.Accepted {
		return errs.New(errs.KindTransportFailure, "agent %s rejected task %s: %s", agentID, task.ID, resp.Message)
	}
	return nil
}

// CompleteTask records the agent's terminal report for an assigned
// task. Failed and blocked tasks can later return to pending.
func (o *Orchestrator) CompleteTask(ctx context.Context, holder, taskID string, status models.TaskStatus) error {
	switch status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusBlocked:
	default:
		return errs.New(errs.KindValidation, "completion status must be completed, failed, or blocked (got %q)", status)
	}

	l, err := o.locks.Acquire(ctx, lock.TaskKey(taskID), holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return err
	}
	defer o.locks.Release(l.ID)

	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if !task.Status.CanTransitionTo(status) {
		return errs.New(errs.KindConflict, "task %s cannot move from %s to %s", taskID, task.Status, status)
	}

	agentID := task.AssignedAgent
	task.Status = status
	task.AssignedAgent = ""
	if err := o.store.UpdateTask(task); err != nil {
		return err
	}

	if agentID != "" {
		o.registry.mutate(agentID, func(a *models.Agent) error {
			a.CurrentTasks = removeString(a.CurrentTasks, taskID)
			if a.Status == models.AgentStatusBusy || a.Status == models.AgentStatusAvailable {
				a.Status = a.LoadStatus()
			}
			if status == models.TaskStatusCompleted {
				a.Performance.TasksCompleted++
			}
			return nil
		})
	}
	return nil
}

// StartHeartbeatMonitor checks agent liveness until the context ends.
func (o *Orchestrator) StartHeartbeatMonitor(ctx context.Context, holder string) {
	go func() {
		ticker := time.NewTicker(o.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.CheckHeartbeats(ctx, holder, time.Now().UTC())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CheckHeartbeats marks agents that missed two heartbeat intervals
// offline and re-queues their tasks.
func (o *Orchestrator) CheckHeartbeats(ctx context.Context, holder string, now time.Time) {
	cutoff := 2 * o.cfg.HeartbeatInterval
	for _, a := range o.registry.GetAllAgents() {
		if a.Status == models.AgentStatusOffline {
			continue
		}
		last := a.LastHeartbeat
		if last.IsZero() {
			last = a.RegisteredAt
		}
		if now.Sub(last) <= cutoff {
			continue
		}
		if err := o.markOffline(ctx, holder, a.ID); err != nil {
			o.log.Error().Err(err).Str("agentId", a.ID).Msg("offline transition failed")
		}
	}
}

// markOffline transitions the agent offline and re-queues its tasks.
func (o *Orchestrator) markOffline(ctx context.Context, holder, agentID string) error {
	var orphaned []string
	err := o.registry.mutate(agentID, func(a *models.Agent) error {
		orphaned = a.CurrentTasks
		a.CurrentTasks = nil
		a.Status = models.AgentStatusOffline
		return nil
	})
	if err != nil {
		return err
	}
	o.log.Warn().Str("agentId", agentID).Int("requeued", len(orphaned)).Msg("agent missed heartbeats, marked offline")

	for _, taskID := range orphaned {
		if err := o.requeueTask(ctx, holder, taskID); err != nil {
			o.log.Error().Err(err).Str("taskId", taskID).Msg("re-queue failed")
		}
	}
	return nil
}

// requeueTask returns an in-progress task to pending.
func (o *Orchestrator) requeueTask(ctx context.Context, holder, taskID string) error {
	l, err := o.locks.Acquire(ctx, lock.TaskKey(taskID), holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return err
	}
	defer o.locks.Release(l.ID)

	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusInProgress {
		return nil
	}
	task.Status = models.TaskStatusPending
	task.AssignedAgent = ""
	return o.store.UpdateTask(task)
}

// Close shuts down every registered transport.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	for id, t := range o.transports {
		if err := t.Close(); err != nil {
			o.log.Warn().Err(err).Str("agentId", id).Msg("transport close failed")
		}
		delete(o.transports, id)
	}
	return nil
}

// Dispose implements lifecycle.Disposable.
func (o *Orchestrator) Dispose() error { return o.Close() }

// removeString drops the first occurrence of s.
func removeString(in []string, s string) []string {
	for i, v := range in {
		if v == s {
			return append(in[:i], in[i+1:]...)
		}
	}
	return in
}
