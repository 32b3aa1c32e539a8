// Package lock provides per-resource read/write locks with timeouts,
// deadlock detection, orphan cleanup, and an audit trail. The lock
// table guards every mutation of stored entities.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
)

// Mode is the lock sharing mode.
type Mode string

const (
	// ModeRead locks compose with other read locks.
	ModeRead Mode = "read"
	// ModeWrite locks are exclusive.
	ModeWrite Mode = "write"
)

// Lock is a granted lock table entry.
type Lock struct {
	// ID is the unique identifier used to release the lock.
	ID string
	// Resource is the locked resource key.
	Resource string
	// Holder identifies the acquiring worker or operation.
	Holder string
	// Mode is read or write.
	Mode Mode
	// AcquiredAt is when the lock was granted.
	AcquiredAt time.Time
	// Timeout was the acquire timeout used.
	Timeout time.Duration
	// Metadata carries optional caller context for the audit trail.
	Metadata map[string]string
}

// AcquireOptions tune a single acquire.
type AcquireOptions struct {
	// Timeout bounds the wait. Zero means the configured default; values
	// above the configured maximum are clamped.
	Timeout time.Duration
	// Metadata is recorded on the lock and in the audit trail.
	Metadata map[string]string
}

// waiter is a blocked acquire attempt.
type waiter struct {
	lock      *Lock
	ready     chan struct{}
	err       error
	blockedAt time.Time
}

// Manager owns the lock table. All table operations are constant time
// under an internal mutex; waiting happens outside it.
type Manager struct {
	mu sync.Mutex
	// held maps resource key to granted locks. Multiple read locks may
	// coexist; a write lock is always alone.
	held map[string][]*Lock
	// queue maps resource key to blocked acquirers in FIFO order.
	queue map[string][]*waiter

	cfg   config.LockConfig
	audit *AuditTrail
	log   zerolog.Logger

	// holderAlive reports whether a lock holder still exists. Nil
	// disables orphan cleanup.
	holderAlive func(holder string) bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a Manager and starts its background deadlock
// detection and cleanup loops. Audit may be nil to disable the trail.
func NewManager(cfg config.LockConfig, audit *AuditTrail, log zerolog.Logger) *Manager {
	m := &Manager{
		held:  make(map[string][]*Lock),
		queue: make(map[string][]*waiter),
		cfg:   cfg,
		audit: audit,
		log:   log.With().Str("component", "access-manager").Logger(),
		stop:  make(chan struct{}),
	}

	m.wg.Add(1)
	go m.detectLoop()
	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// SetHolderAliveness installs the callback used by orphan cleanup.
func (m *Manager) SetHolderAliveness(fn func(holder string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holderAlive = fn
}

// Acquire obtains a lock on resource for holder in the given mode,
// waiting up to the configured or requested timeout.
func (m *Manager) Acquire(ctx context.Context, resource, holder string, mode Mode, opts AcquireOptions) (*Lock, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	if m.cfg.MaxTimeout > 0 && timeout > m.cfg.MaxTimeout {
		timeout = m.cfg.MaxTimeout
	}

	l := &Lock{
		ID:       uuid.New().String(),
		Resource: resource,
		Holder:   holder,
		Mode:     mode,
		Timeout:  timeout,
		Metadata: opts.Metadata,
	}

	m.mu.Lock()
	if m.grantableLocked(resource, mode) && len(m.queue[resource]) == 0 {
		m.grantLocked(l)
		m.mu.Unlock()
		return l, nil
	}

	w := &waiter{lock: l, ready: make(chan struct{}), blockedAt: time.Now()}
	m.queue[resource] = append(m.queue[resource], w)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		if w.err != nil {
			return nil, w.err
		}
		return l, nil
	case <-ctx.Done():
		m.abandon(resource, w)
		return nil, errs.Wrap(errs.KindCancelled, ctx.Err(), "acquire %s for %s cancelled", resource, holder)
	case <-timer.C:
		m.abandon(resource, w)
		return nil, errs.New(errs.KindLockTimeout, "holder %s timed out after %s waiting for %s %s lock", holder, timeout, resource, mode)
	}
}

// AcquireMany obtains locks on several resources in the fixed global
// order (project, epic, task, dependency, agent). On any failure the
// already-granted locks are released in reverse order.
func (m *Manager) AcquireMany(ctx context.Context, resources []string, holder string, mode Mode, opts AcquireOptions) ([]*Lock, error) {
	ordered := make([]string, len(resources))
	copy(ordered, resources)
	SortResources(ordered)

	granted := make([]*Lock, 0, len(ordered))
	for _, resource := range ordered {
		l, err := m.Acquire(ctx, resource, holder, mode, opts)
		if err != nil {
			ReleaseAll(m, granted)
			return nil, err
		}
		granted = append(granted, l)
	}
	return granted, nil
}

// Release frees a granted lock and promotes waiters.
func (m *Manager) Release(lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(lockID)
}

// ReleaseAll releases locks in reverse acquisition order. Errors are
// logged, not returned: release must succeed on every exit path.
func ReleaseAll(m *Manager, locks []*Lock) {
	for i := len(locks) - 1; i >= 0; i-- {
		if err := m.Release(locks[i].ID); err != nil {
			m.log.Error().Err(err).Str("resource", locks[i].Resource).Msg("release failed")
		}
	}
}

// Held returns a snapshot of all granted locks.
func (m *Manager) Held() []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Lock
	for _, locks := range m.held {
		out = append(out, locks...)
	}
	return out
}

// Close stops the background loops. Idempotent.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}

// Dispose implements lifecycle.Disposable.
func (m *Manager) Dispose() error { return m.Close() }

// grantableLocked reports whether a lock of mode can be granted on
// resource right now. Caller must hold m.mu.
func (m *Manager) grantableLocked(resource string, mode Mode) bool {
	locks := m.held[resource]
	if len(locks) == 0 {
		return true
	}
	if mode == ModeWrite {
		return false
	}
	// Read locks compose unless a write lock is held.
	return locks[0].Mode == ModeRead
}

// grantLocked records a granted lock. Caller must hold m.mu.
func (m *Manager) grantLocked(l *Lock) {
	l.AcquiredAt = time.Now()
	m.held[l.Resource] = append(m.held[l.Resource], l)
	if m.audit != nil && m.cfg.AuditEnabled {
		m.audit.Append(l, ActionAcquire)
	}
}

// releaseLocked removes a lock and promotes waiters. Caller must hold m.mu.
func (m *Manager) releaseLocked(lockID string) error {
	for resource, locks := range m.held {
		for i, l := range locks {
			if l.ID != lockID {
				continue
			}
			m.held[resource] = append(locks[:i], locks[i+1:]...)
			if len(m.held[resource]) == 0 {
				delete(m.held, resource)
			}
			if m.audit != nil && m.cfg.AuditEnabled {
				m.audit.Append(l, ActionRelease)
			}
			m.promoteLocked(resource)
			return nil
		}
	}
	return errs.New(errs.KindNotFound, "lock %s is not held", lockID)
}

// promoteLocked grants queued waiters that are now compatible, FIFO.
// Consecutive read waiters are granted together. Caller must hold m.mu.
func (m *Manager) promoteLocked(resource string) {
	for len(m.queue[resource]) > 0 {
		head := m.queue[resource][0]
		if !m.grantableLocked(resource, head.lock.Mode) {
			return
		}
		m.queue[resource] = m.queue[resource][1:]
		m.grantLocked(head.lock)
		close(head.ready)
		if head.lock.Mode == ModeWrite {
			return
		}
	}
	if len(m.queue[resource]) == 0 {
		delete(m.queue, resource)
	}
}

// abandon removes a waiter that gave up (timeout or cancellation).
// If the waiter was granted concurrently, the granted lock is released.
func (m *Manager) abandon(resource string, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-w.ready:
		// Granted while we were giving up; undo it unless it failed.
		if w.err == nil {
			_ = m.releaseLocked(w.lock.ID)
		}
		return
	default:
	}

	q := m.queue[resource]
	for i, other := range q {
		if other == w {
			m.queue[resource] = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(m.queue[resource]) == 0 {
		delete(m.queue, resource)
	}
}

// detectLoop periodically walks the wait-for graph.
func (m *Manager) detectLoop() {
	defer m.wg.Done()

	interval := m.cfg.DeadlockInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.detectDeadlocks()
		}
	}
}

// detectDeadlocks builds the wait-for graph of blocked holders and
// fails the most-recently-blocked acquirer of any cycle with Deadlock.
func (m *Manager) detectDeadlocks() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// waitsFor maps a blocked holder to the holders it waits on.
	waitsFor := make(map[string]map[string]bool)
	// newestWaiter tracks, per blocked holder, the most recent waiter.
	newestWaiter := make(map[string]*waiter)

	for resource, waiters := range m.queue {
		holders := m.held[resource]
		for _, w := range waiters {
			from := w.lock.Holder
			if waitsFor[from] == nil {
				waitsFor[from] = make(map[string]bool)
			}
			for _, h := range holders {
				if h.Holder != from {
					waitsFor[from][h.Holder] = true
				}
			}
			if cur, ok := newestWaiter[from]; !ok || w.blockedAt.After(cur.blockedAt) {
				newestWaiter[from] = w
			}
		}
	}

	cycle := findCycle(waitsFor)
	if len(cycle) == 0 {
		return
	}

	// Fail the most recently blocked participant.
	var victim *waiter
	for _, holder := range cycle {
		w := newestWaiter[holder]
		if w == nil {
			continue
		}
		if victim == nil || w.blockedAt.After(victim.blockedAt) {
			victim = w
		}
	}
	if victim == nil {
		return
	}

	m.log.Warn().Strs("cycle", cycle).Str("victim", victim.lock.Holder).Msg("deadlock detected")

	victim.err = errs.New(errs.KindDeadlock, "holder %s deadlocked waiting for %s", victim.lock.Holder, victim.lock.Resource).
		WithDetail("cycle", cycle)
	m.removeWaiterLocked(victim)
	close(victim.ready)
}

// removeWaiterLocked drops a waiter from its queue. Caller must hold m.mu.
func (m *Manager) removeWaiterLocked(w *waiter) {
	q := m.queue[w.lock.Resource]
	for i, other := range q {
		if other == w {
			m.queue[w.lock.Resource] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// findCycle returns the holders forming a cycle in the wait-for graph,
// or nil when the graph is acyclic.
func findCycle(waitsFor map[string]map[string]bool) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int)

	var cycle []string
	var visit func(node string, path []string) bool
	visit = func(node string, path []string) bool {
		colors[node] = gray
		path = append(path, node)
		for next := range waitsFor[node] {
			switch colors[next] {
			case gray:
				for i, p := range path {
					if p == next {
						cycle = append([]string{}, path[i:]...)
						return true
					}
				}
				cycle = append([]string{}, path...)
				return true
			case white:
				if visit(next, path) {
					return true
				}
			}
		}
		colors[node] = black
		return false
	}

	for node := range waitsFor {
		if colors[node] == white {
			if visit(node, nil) {
				return cycle
			}
		}
	}
	return nil
}

// cleanupLoop periodically reaps locks whose holder has disappeared.
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapOrphans()
		}
	}
}

// reapOrphans releases locks held by holders the aliveness callback no
// longer recognizes.
func (m *Manager) reapOrphans() {
	m.mu.Lock()
	alive := m.holderAlive
	if alive == nil {
		m.mu.Unlock()
		return
	}

	var orphaned []string
	for _, locks := range m.held {
		for _, l := range locks {
			if !alive(l.Holder) {
				orphaned = append(orphaned, l.ID)
			}
		}
	}
	for _, id := range orphaned {
		if err := m.releaseLocked(id); err == nil {
			m.log.Warn().Str("lock", id).Msg("reaped orphaned lock")
		}
	}
	m.mu.Unlock()
}
