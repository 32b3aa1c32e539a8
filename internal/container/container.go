// Package container is a small token-keyed dependency injection
// container. Providers declare their dependencies up front, so a
// dependency cycle is rejected when it is registered rather than
// discovered as a stack overflow at resolution time.
package container

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/lifecycle"
)

// Token names a registered service.
type Token string

// Lifecycle controls how often the factory runs.
type Lifecycle int

const (
	// Singleton constructs once and caches the instance.
	Singleton Lifecycle = iota
	// Transient constructs on every resolution. Transient disposables
	// belong to the caller; the container does not track them.
	Transient
)

// Factory builds a service, resolving its dependencies from c.
type Factory func(c *Container) (any, error)

type registration struct {
	lifecycle Lifecycle
	deps      []Token
	factory   Factory
}

// Container resolves services by token. Singleton instances that
// implement lifecycle.Disposable are handed to the disposable
// registry for teardown in reverse construction order.
type Container struct {
	mu          sync.Mutex
	regs        map[Token]*registration
	singletons  map[Token]any
	disposables *lifecycle.Registry
	log         zerolog.Logger
}

// New creates an empty container over the given disposable registry.
func New(disposables *lifecycle.Registry, log zerolog.Logger) *Container {
	return &Container{
		regs:        make(map[Token]*registration),
		singletons:  make(map[Token]any),
		disposables: disposables,
		log:         log.With().Str("component", "container").Logger(),
	}
}

// Register binds a factory to a token. Dependencies are declared
// explicitly; a registration whose declared edges close a cycle is
// rejected.
func (c *Container) Register(token Token, lc Lifecycle, deps []Token, factory Factory) error {
	if token == "" {
		return errs.New(errs.KindValidation, "service token must not be empty")
	}
	if factory == nil {
		return errs.New(errs.KindValidation, "factory for %s must not be nil", token)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.regs[token]; ok {
		return errs.New(errs.KindConflict, "service %s is already registered", token)
	}

	c.regs[token] = &registration{lifecycle: lc, deps: deps, factory: factory}
	if cycle := c.findCycleLocked(token); cycle != nil {
		delete(c.regs, token)
		return errs.New(errs.KindCycleDetected, "registering %s closes dependency cycle %v", token, cycle)
	}
	return nil
}

// findCycleLocked walks the declared edges from start and returns the
// cycle path if start is reachable from itself. Edges to tokens not
// yet registered are fine; they cannot close a cycle.
func (c *Container) findCycleLocked(start Token) []Token {
	var path []Token
	visited := make(map[Token]bool)

	var walk func(t Token) bool
	walk = func(t Token) bool {
		reg, ok := c.regs[t]
		if !ok {
			return false
		}
		path = append(path, t)
		for _, dep := range reg.deps {
			if dep == start {
				path = append(path, dep)
				return true
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if walk(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if walk(start) {
		return path
	}
	return nil
}

// Resolve returns the service bound to the token, constructing it and
// its dependencies as needed.
func (c *Container) Resolve(token Token) (any, error) {
	c.mu.Lock()
	reg, ok := c.regs[token]
	if !ok {
		c.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, "no service registered for %s", token)
	}
	if reg.lifecycle == Singleton {
		if inst, done := c.singletons[token]; done {
			c.mu.Unlock()
			return inst, nil
		}
	}
	c.mu.Unlock()

	// Dependencies must resolve first; the registration-time cycle
	// check guarantees this recursion terminates.
	for _, dep := range reg.deps {
		if _, err := c.Resolve(dep); err != nil {
			return nil, errs.Wrap(errs.KindOf(err), err, "resolving %s for %s", dep, token)
		}
	}

	inst, err := reg.factory(c)
	if err != nil {
		return nil, err
	}

	if reg.lifecycle == Singleton {
		c.mu.Lock()
		// A concurrent resolution may have won; keep the first instance.
		if prior, done := c.singletons[token]; done {
			c.mu.Unlock()
			if d, ok := inst.(lifecycle.Disposable); ok {
				d.Dispose()
			}
			return prior, nil
		}
		c.singletons[token] = inst
		c.mu.Unlock()

		if d, ok := inst.(lifecycle.Disposable); ok {
			c.disposables.Register(string(token), d)
		}
	}
	return inst, nil
}

// Tokens returns every registered token, for diagnostics.
func (c *Container) Tokens() []Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Token, 0, len(c.regs))
	for t := range c.regs {
		out = append(out, t)
	}
	return out
}

// Close tears down every singleton through the disposable registry.
func (c *Container) Close() {
	c.disposables.Close()
}
