package container

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/lifecycle"
)

func newTestContainer() *Container {
	return New(lifecycle.NewRegistry(zerolog.Nop()), zerolog.Nop())
}

type countingService struct {
	n        int
	disposed bool
}

func (s *countingService) Dispose() error {
	s.disposed = true
	return nil
}

func TestSingletonResolvesOnce(t *testing.T) {
	c := newTestContainer()

	built := 0
	err := c.Register("counter", Singleton, nil, func(c *Container) (any, error) {
		built++
		return &countingService{n: built}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	a, err := c.Resolve("counter")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, err := c.Resolve("counter")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if a != b {
		t.Error("singleton returned distinct instances")
	}
	if built != 1 {
		t.Errorf("factory ran %d times", built)
	}
}

func TestTransientResolvesFresh(t *testing.T) {
	c := newTestContainer()

	built := 0
	c.Register("scratch", Transient, nil, func(c *Container) (any, error) {
		built++
		return &countingService{n: built}, nil
	})

	a, _ := c.Resolve("scratch")
	b, _ := c.Resolve("scratch")
	if a == b {
		t.Error("transient returned the same instance")
	}
	if built != 2 {
		t.Errorf("factory ran %d times", built)
	}
}

func TestDependenciesResolveFirst(t *testing.T) {
	c := newTestContainer()

	var order []string
	c.Register("store", Singleton, nil, func(c *Container) (any, error) {
		order = append(order, "store")
		return &countingService{}, nil
	})
	c.Register("ops", Singleton, []Token{"store"}, func(c *Container) (any, error) {
		order = append(order, "ops")
		if _, err := c.Resolve("store"); err != nil {
			return nil, err
		}
		return &countingService{}, nil
	})

	if _, err := c.Resolve("ops"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(order) != 2 || order[0] != "store" || order[1] != "ops" {
		t.Errorf("construction order = %v", order)
	}
}

func TestCycleRejectedAtRegistration(t *testing.T) {
	c := newTestContainer()

	if err := c.Register("a", Singleton, []Token{"b"}, nilFactory); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := c.Register("b", Singleton, []Token{"c"}, nilFactory); err != nil {
		t.Fatalf("register b: %v", err)
	}

	err := c.Register("c", Singleton, []Token{"a"}, nilFactory)
	if !errs.IsKind(err, errs.KindCycleDetected) {
		t.Fatalf("got %v, want cycle rejection", err)
	}

	// The rejected registration left no trace; c can re-register cleanly.
	if err := c.Register("c", Singleton, nil, nilFactory); err != nil {
		t.Fatalf("re-register c: %v", err)
	}
}

func TestSelfCycleRejected(t *testing.T) {
	c := newTestContainer()

	err := c.Register("a", Singleton, []Token{"a"}, nilFactory)
	if !errs.IsKind(err, errs.KindCycleDetected) {
		t.Fatalf("got %v, want cycle rejection", err)
	}
}

func TestDuplicateTokenRejected(t *testing.T) {
	c := newTestContainer()

	c.Register("a", Singleton, nil, nilFactory)
	if err := c.Register("a", Singleton, nil, nilFactory); !errs.IsKind(err, errs.KindConflict) {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	c := newTestContainer()

	_, err := c.Resolve("ghost")
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestSingletonDisposedOnClose(t *testing.T) {
	c := newTestContainer()

	svc := &countingService{}
	c.Register("svc", Singleton, nil, func(c *Container) (any, error) {
		return svc, nil
	})
	if _, err := c.Resolve("svc"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	c.Close()
	if !svc.disposed {
		t.Error("singleton not disposed on close")
	}
}

func TestConcurrentSingletonResolution(t *testing.T) {
	c := newTestContainer()
	c.Register("svc", Singleton, nil, func(c *Container) (any, error) {
		return &countingService{}, nil
	})

	const workers = 16
	got := make([]any, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := c.Resolve("svc")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			got[i] = inst
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if got[i] != got[0] {
			t.Fatal("concurrent resolution produced distinct singletons")
		}
	}
}

func nilFactory(c *Container) (any, error) { return &countingService{}, nil }
