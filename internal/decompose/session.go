package decompose

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/oracle"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/pkg/models"
)

// SessionManager runs decompositions end to end: it drives the engine,
// persists the atomic leaves, links them into their epics, and tracks
// progress on a DecompositionSession.
type SessionManager struct {
	engine *Engine
	store  *storage.Engine
	log    zerolog.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(engine *Engine, store *storage.Engine, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		engine: engine,
		store:  store,
		log:    log.With().Str("component", "decompose-session").Logger(),
	}
}

// Run decomposes rootTask and persists every atomic leaf. When the
// root is already atomic the session completes with no persisted
// tasks. The returned session is final; Run does not retain it.
func (m *SessionManager) Run(ctx context.Context, holder string, rootTask *models.AtomicTask, pc oracle.ProjectContext) (*models.DecompositionSession, error) {
	session := &models.DecompositionSession{
		ID:        uuid.NewString(),
		ProjectID: rootTask.ProjectID,
		RootTask:  rootTask,
		Status:    models.SessionStatusRunning,
		StartTime: time.Now(),
	}

	res, err := m.engine.Decompose(ctx, holder, rootTask, pc)
	if err != nil {
		m.finish(session, models.SessionStatusFailed)
		return session, err
	}

	if res.IsAtomic {
		session.Progress = 100
		m.finish(session, models.SessionStatusCompleted)
		m.log.Info().Str("session", session.ID).Str("task", rootTask.ID).Msg("root task already atomic")
		return session, nil
	}

	for i, leaf := range res.SubTasks {
		if err := ctx.Err(); err != nil {
			m.revert(session)
			m.finish(session, models.SessionStatusFailed)
			return session, errs.Wrap(errs.KindCancelled, err, "session %s cancelled after %d of %d leaves", session.ID, i, len(res.SubTasks))
		}
		if err := m.persistLeaf(leaf); err != nil {
			m.revert(session)
			m.finish(session, models.SessionStatusFailed)
			return session, err
		}
		session.PersistedTasks = append(session.PersistedTasks, leaf.ID)
		session.Progress = (i + 1) * 100 / len(res.SubTasks)
	}
	session.RichResults = res.Outcomes

	m.finish(session, models.SessionStatusCompleted)
	m.log.Info().
		Str("session", session.ID).
		Int("leaves", len(session.PersistedTasks)).
		Int("warnings", len(res.Warnings)).
		Msg("decomposition completed")
	for _, w := range res.Warnings {
		m.log.Warn().Str("session", session.ID).Msg(w)
	}
	return session, nil
}

// persistLeaf stores a leaf task and links it into its epic.
func (m *SessionManager) persistLeaf(leaf *models.AtomicTask) error {
	if err := m.store.CreateTask(leaf); err != nil {
		return err
	}

	ep, err := m.store.GetEpic(leaf.EpicID)
	if err != nil {
		return err
	}
	for _, id := range ep.TaskIDs {
		if id == leaf.ID {
			return nil
		}
	}
	ep.TaskIDs = append(ep.TaskIDs, leaf.ID)
	return m.store.UpdateEpic(ep)
}

// revert deletes every leaf the session persisted so far and unlinks
// it from its epic. A session either lands all of its leaves or none.
func (m *SessionManager) revert(session *models.DecompositionSession) {
	for i := len(session.PersistedTasks) - 1; i >= 0; i-- {
		id := session.PersistedTasks[i]
		if task, err := m.store.GetTask(id); err == nil {
			if ep, err := m.store.GetEpic(task.EpicID); err == nil {
				ep.TaskIDs = withoutID(ep.TaskIDs, id)
				if err := m.store.UpdateEpic(ep); err != nil {
					m.log.Error().Err(err).Str("taskId", id).Str("epicId", ep.ID).Msg("revert could not unlink task from epic")
				}
			}
		}
		if err := m.store.DeleteTask(id); err != nil {
			m.log.Error().Err(err).Str("taskId", id).Msg("revert could not delete task")
		}
	}
	if n := len(session.PersistedTasks); n > 0 {
		m.log.Warn().Str("session", session.ID).Int("reverted", n).Msg("partial decomposition reverted")
	}
	session.PersistedTasks = nil
	session.Progress = 0
}

// withoutID drops every occurrence of id.
func withoutID(in []string, id string) []string {
	out := in[:0]
	for _, v := range in {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// finish stamps the terminal status and end time.
func (m *SessionManager) finish(session *models.DecompositionSession, status models.SessionStatus) {
	now := time.Now()
	session.Status = status
	session.EndTime = &now
}
