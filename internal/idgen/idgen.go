// Package idgen produces deterministic, collision-free identifiers for
// every entity kind. Uniqueness is enforced by consulting the storage
// index before emission; generation never sleeps.
package idgen

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// maxOrdinal bounds the per-slug ordinal search. Exceeding it means the
// namespace is exhausted, which is a Conflict.
const maxOrdinal = 999

// ExistsFunc reports whether an ID is already taken.
type ExistsFunc func(id string) bool

// nonSlugChars matches characters stripped from project name slugs.
var nonSlugChars = regexp.MustCompile(`[^A-Z0-9]+`)

// Generator produces entity IDs. Safe for concurrent use.
type Generator struct {
	mu sync.Mutex
	// taskSeq is the monotonic counter for bare task IDs.
	taskSeq int64
	exists  ExistsFunc
	// emitted remembers IDs handed out this process, so concurrent
	// callers cannot receive the same ID before the first one persists.
	emitted map[string]bool
}

// New creates a Generator that checks candidate IDs against exists.
func New(exists ExistsFunc) *Generator {
	if exists == nil {
		exists = func(string) bool { return false }
	}
	return &Generator{exists: exists, emitted: make(map[string]bool)}
}

// taken reports whether a candidate is unusable. Caller must hold g.mu.
func (g *Generator) taken(id string) bool {
	return g.emitted[id] || g.exists(id)
}

// emit records and returns a candidate. Caller must hold g.mu.
func (g *Generator) emit(id string) string {
	g.emitted[id] = true
	return id
}

// ProjectID generates a project ID of the form PID-<NAME-SLUG>-<NNN>.
func (g *Generator) ProjectID(name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	slug := Slug(name)
	if slug == "" {
		slug = "PROJECT"
	}
	for n := 1; n <= maxOrdinal; n++ {
		id := fmt.Sprintf("PID-%s-%03d", slug, n)
		if !g.taken(id) {
			return g.emit(id), nil
		}
	}
	return "", errs.New(errs.KindConflict, "project id namespace exhausted for slug %s", slug)
}

// EpicID generates an epic ID. With a functional area it yields
// <projectId>-<area>-epic; otherwise <projectId>-E<NNN>. Emitted IDs
// never match the reserved scaffolding patterns.
func (g *Generator) EpicID(projectID, functionalArea string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if functionalArea != "" {
		id := fmt.Sprintf("%s-%s-epic", projectID, strings.ToLower(functionalArea))
		if models.IsScaffoldingEpicID(id) {
			return "", errs.New(errs.KindScaffoldingEpic, "generated epic id %q matches a forbidden pattern", id)
		}
		if !g.taken(id) {
			return g.emit(id), nil
		}
		// Fall through to the ordinal form on collision.
	}

	for n := 1; n <= maxOrdinal; n++ {
		id := fmt.Sprintf("%s-E%03d", projectID, n)
		if models.IsScaffoldingEpicID(id) {
			continue
		}
		if !g.taken(id) {
			return g.emit(id), nil
		}
	}
	return "", errs.New(errs.KindConflict, "epic id namespace exhausted for project %s", projectID)
}

// TaskID generates a task ID. With project and epic context it yields
// <projectId>-<epicId>-T<NNN>; otherwise T<monotonic>.
func (g *Generator) TaskID(projectID, epicID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if projectID != "" && epicID != "" {
		for n := 1; n <= maxOrdinal; n++ {
			id := fmt.Sprintf("%s-%s-T%03d", projectID, epicID, n)
			if !g.taken(id) {
				return g.emit(id), nil
			}
		}
		return "", errs.New(errs.KindConflict, "task id namespace exhausted for %s/%s", projectID, epicID)
	}

	for {
		g.taskSeq++
		id := fmt.Sprintf("T%d", g.taskSeq)
		if !g.taken(id) {
			return g.emit(id), nil
		}
	}
}

// DependencyID generates DEP-<fromTaskId>-<toTaskId>-<NNN>.
func (g *Generator) DependencyID(fromTaskID, toTaskID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for n := 1; n <= maxOrdinal; n++ {
		id := fmt.Sprintf("DEP-%s-%s-%03d", fromTaskID, toTaskID, n)
		if !g.taken(id) {
			return g.emit(id), nil
		}
	}
	return "", errs.New(errs.KindConflict, "dependency id namespace exhausted for %s -> %s", fromTaskID, toTaskID)
}

// Slug converts a name to its ID slug form: uppercase, non-alphanumeric
// runs collapsed to single hyphens.
func Slug(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToUpper(name), "-")
	return strings.Trim(slug, "-")
}
