package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCloseDisposesInReverseOrder(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		r.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}
	r.Close()

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("disposed %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("disposed %v, want %v", order, want)
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	calls := 0
	r.RegisterFunc("counter", func() error {
		calls++
		return nil
	})
	r.Close()
	r.Close()

	if calls != 1 {
		t.Errorf("dispose ran %d times", calls)
	}
}

func TestDisposeErrorDoesNotStopOthers(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	disposed := false
	r.RegisterFunc("survivor", func() error {
		disposed = true
		return nil
	})
	r.RegisterFunc("failing", func() error {
		return errors.New("boom")
	})
	r.Close()

	if !disposed {
		t.Error("error in one disposable stopped the rest")
	}
}

func TestRegisterAfterCloseDisposesImmediately(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Close()

	called := false
	r.RegisterFunc("late", func() error {
		called = true
		return nil
	})
	if !called {
		t.Error("late registration was not disposed")
	}
}
