// Package lifecycle provides deterministic teardown for long-lived
// resources: transports, caches, watchers, timers. Components register
// on construction; shutdown disposes in reverse registration order.
package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Disposable is anything that must be released at shutdown. Dispose
// must be idempotent.
type Disposable interface {
	Dispose() error
}

// DisposeFunc adapts a plain function to Disposable.
type DisposeFunc func() error

// Dispose implements Disposable.
func (f DisposeFunc) Dispose() error { return f() }

// entry pairs a disposable with its registration name.
type entry struct {
	name     string
	resource Disposable
}

// Registry tracks disposables and releases them in reverse
// registration order. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	entries  []entry
	disposed bool
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log.With().Str("component", "lifecycle").Logger()}
}

// Register adds a disposable under a name used only for logging.
// Registrations after Close are disposed immediately.
func (r *Registry) Register(name string, d Disposable) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		r.disposeOne(entry{name: name, resource: d})
		return
	}
	r.entries = append(r.entries, entry{name: name, resource: d})
	r.mu.Unlock()
}

// RegisterFunc adds a plain teardown function.
func (r *Registry) RegisterFunc(name string, f func() error) {
	r.Register(name, DisposeFunc(f))
}

// RegisterTimer wraps a one-shot timer so Close stops it.
func (r *Registry) RegisterTimer(name string, t *time.Timer) {
	r.RegisterFunc(name, func() error {
		t.Stop()
		return nil
	})
}

// RegisterTicker wraps an interval ticker so Close stops it.
func (r *Registry) RegisterTicker(name string, t *time.Ticker) {
	r.RegisterFunc(name, func() error {
		t.Stop()
		return nil
	})
}

// Close disposes everything in reverse registration order. Errors are
// logged, never returned; a failing disposable does not stop the rest.
// Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		r.disposeOne(entries[i])
	}
}

// disposeOne releases a single resource, logging any failure.
func (r *Registry) disposeOne(e entry) {
	if err := e.resource.Dispose(); err != nil {
		r.log.Error().Err(err).Str("resource", e.name).Msg("dispose failed")
		return
	}
	r.log.Debug().Str("resource", e.name).Msg("disposed")
}
