package lock

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
)

func testLockConfig() config.LockConfig {
	return config.LockConfig{
		DefaultTimeout:   2 * time.Second,
		MaxTimeout:       5 * time.Second,
		CleanupInterval:  time.Hour,
		DeadlockInterval: 20 * time.Millisecond,
		AuditEnabled:     false,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(testLockConfig(), nil, zerolog.Nop())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire(context.Background(), TaskKey("T1"), "worker-1", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Resource != "task:T1" {
		t.Errorf("resource: got %q", l.Resource)
	}
	if err := m.Release(l.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(l.ID); err == nil {
		t.Fatal("double release should fail")
	}
}

func TestReadLocksCompose(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.Acquire(ctx, TaskKey("T1"), "reader-1", ModeRead, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Acquire(ctx, TaskKey("T1"), "reader-2", ModeRead, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m.Release(a.ID)
	m.Release(b.ID)
}

func TestWriteLockExclusive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.Acquire(ctx, TaskKey("T1"), "writer-1", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Acquire(ctx, TaskKey("T1"), "writer-2", ModeWrite, AcquireOptions{Timeout: 50 * time.Millisecond})
	if !errs.IsKind(err, errs.KindLockTimeout) {
		t.Fatalf("expected LockTimeout, got %v", err)
	}

	m.Release(a.ID)

	// Now the second writer can get in.
	b, err := m.Acquire(ctx, TaskKey("T1"), "writer-2", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m.Release(b.ID)
}

func TestWaiterPromotedOnRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.Acquire(ctx, TaskKey("T1"), "writer-1", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan *Lock, 1)
	go func() {
		l, err := m.Acquire(ctx, TaskKey("T1"), "writer-2", ModeWrite, AcquireOptions{})
		if err != nil {
			t.Error(err)
			return
		}
		done <- l
	}()

	// Give the second acquire time to queue, then release.
	time.Sleep(20 * time.Millisecond)
	m.Release(a.ID)

	select {
	case l := <-done:
		m.Release(l.ID)
	case <-time.After(time.Second):
		t.Fatal("queued writer was never promoted")
	}
}

func TestCancellation(t *testing.T) {
	m := newTestManager(t)

	a, err := m.Acquire(context.Background(), TaskKey("T1"), "writer-1", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a.ID)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, TaskKey("T1"), "writer-2", ModeWrite, AcquireOptions{})
	if !errs.IsKind(err, errs.KindCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestDeadlockDetection(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// worker-1 holds A, worker-2 holds B; then each requests the other.
	a, err := m.Acquire(ctx, TaskKey("A"), "worker-1", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Acquire(ctx, TaskKey("B"), "worker-2", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l, err := m.Acquire(ctx, TaskKey("B"), "worker-1", ModeWrite, AcquireOptions{Timeout: 3 * time.Second})
		if err != nil {
			errCh <- err
			return
		}
		m.Release(l.ID)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		l, err := m.Acquire(ctx, TaskKey("A"), "worker-2", ModeWrite, AcquireOptions{Timeout: 3 * time.Second})
		if err != nil {
			errCh <- err
			return
		}
		m.Release(l.ID)
	}()

	select {
	case err := <-errCh:
		if !errs.IsKind(err, errs.KindDeadlock) {
			t.Fatalf("expected Deadlock, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock was never detected")
	}

	m.Release(a.ID)
	m.Release(b.ID)
	wg.Wait()
}

func TestAcquireManyFixedOrderAndRollback(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	resources := []string{AgentKey("Ag"), TaskKey("T1"), ProjectKey("P1")}
	locks, err := m.AcquireMany(ctx, resources, "worker-1", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(locks) != 3 {
		t.Fatalf("expected 3 locks, got %d", len(locks))
	}
	// Fixed global order: project before task before agent.
	if locks[0].Resource != "project:P1" || locks[1].Resource != "task:T1" || locks[2].Resource != "agent:Ag" {
		t.Errorf("wrong acquisition order: %s, %s, %s", locks[0].Resource, locks[1].Resource, locks[2].Resource)
	}
	ReleaseAll(m, locks)

	// Rollback: block one of the resources, then watch a composite
	// acquire fail and leave nothing held.
	blocker, err := m.Acquire(ctx, TaskKey("T1"), "other", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.AcquireMany(ctx, resources, "worker-1", ModeWrite, AcquireOptions{Timeout: 50 * time.Millisecond})
	if !errs.IsKind(err, errs.KindLockTimeout) {
		t.Fatalf("expected LockTimeout, got %v", err)
	}
	held := m.Held()
	if len(held) != 1 || held[0].ID != blocker.ID {
		t.Errorf("partial locks leaked: %d held", len(held))
	}
	m.Release(blocker.ID)
}

func TestOrphanCleanup(t *testing.T) {
	cfg := testLockConfig()
	cfg.CleanupInterval = 20 * time.Millisecond
	m := NewManager(cfg, nil, zerolog.Nop())
	defer m.Close()

	alive := true
	var mu sync.Mutex
	m.SetHolderAliveness(func(holder string) bool {
		mu.Lock()
		defer mu.Unlock()
		return alive
	})

	_, err := m.Acquire(context.Background(), TaskKey("T1"), "ghost", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	alive = false
	mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(m.Held()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("orphaned lock was never reaped")
}

func TestAuditTrail(t *testing.T) {
	dir := t.TempDir()
	trail, err := OpenAuditTrail(filepath.Join(dir, ".audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()

	cfg := testLockConfig()
	cfg.AuditEnabled = true
	m := NewManager(cfg, trail, zerolog.Nop())
	defer m.Close()

	l, err := m.Acquire(context.Background(), TaskKey("T1"), "worker-1", ModeWrite, AcquireOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m.Release(l.ID)

	entries, err := trail.Entries(TaskKey("T1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != ActionAcquire || entries[1].Action != ActionRelease {
		t.Errorf("wrong actions: %s, %s", entries[0].Action, entries[1].Action)
	}
}
