// Package epic maps task context to meaningful functional-area epics.
// The resolver prefers an existing epic of the project, synthesizes a
// functional-area epic when none matches, and never emits a
// scaffolding placeholder.
package epic

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/idgen"
	"github.com/vibecoder/taskman/internal/lock"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/pkg/models"
)

// Source records how an epic was resolved.
type Source string

const (
	// SourceExisting means an existing epic matched the task context.
	SourceExisting Source = "existing"
	// SourceCreated means a functional-area epic was synthesized.
	SourceCreated Source = "created"
	// SourceFallback means the project main epic was used.
	SourceFallback Source = "fallback"
)

// TaskContext carries the task fields the resolver inspects.
type TaskContext struct {
	Title       string
	Description string
	Tags        []string
	// FunctionalArea, when set, pins the area directly and skips token
	// extraction.
	FunctionalArea string
}

// Resolution is the outcome of a resolve call.
type Resolution struct {
	// EpicID identifies the resolved epic. Never a scaffolding ID.
	EpicID string
	// EpicName is the resolved epic's title.
	EpicName string
	// Source records how the epic was chosen.
	Source Source
	// Created is true when the resolve call created the epic.
	Created bool
}

// areaKeywords maps context words to functional areas. First match by
// area wins on count ties, so more specific areas come first.
var areaKeywords = map[string][]string{
	"auth":        {"auth", "authentication", "authorization", "login", "logout", "session", "password", "oauth", "token", "credential"},
	"api":         {"api", "endpoint", "rest", "graphql", "route", "handler", "webhook", "rpc"},
	"ui":          {"ui", "frontend", "component", "page", "view", "layout", "form", "button", "screen", "css", "style"},
	"data":        {"data", "database", "schema", "migration", "storage", "query", "model", "index", "cache"},
	"integration": {"integration", "sync", "import", "export", "connector", "bridge", "external"},
	"admin":       {"admin", "dashboard", "management", "settings", "configuration"},
	"performance": {"performance", "benchmark", "optimize", "optimization", "latency", "profiling"},
	"docs":        {"docs", "documentation", "readme", "guide"},
	"testing":     {"test", "testing", "coverage", "e2e"},
	"user":        {"user", "profile", "account", "preferences"},
}

// wordPattern splits context into candidate tokens.
var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9-]*`)

// Resolver maps task context to epics, creating them when needed.
type Resolver struct {
	store *storage.Engine
	locks *lock.Manager
	ids   *idgen.Generator
	log   zerolog.Logger
}

// NewResolver creates an epic resolver.
func NewResolver(store *storage.Engine, locks *lock.Manager, ids *idgen.Generator, log zerolog.Logger) *Resolver {
	return &Resolver{
		store: store,
		locks: locks,
		ids:   ids,
		log:   log.With().Str("component", "epic-resolver").Logger(),
	}
}

// Resolve finds or creates the epic a task belongs in. Strategy, in
// order: an existing project epic whose title or description overlaps
// the context's functional-area tokens; a synthesized
// <projectId>-<area>-epic; the project main epic.
func (r *Resolver) Resolve(ctx context.Context, holder, projectID string, tc TaskContext) (*Resolution, error) {
	locks, err := r.locks.AcquireMany(ctx, []string{lock.ProjectKey(projectID)},
		holder, lock.ModeWrite, lock.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	defer lock.ReleaseAll(r.locks, locks)

	project, err := r.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	areas := extractAreas(tc)

	if res, err := r.matchExisting(projectID, areas); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	if len(areas) > 0 {
		return r.createAreaEpic(project, areas[0])
	}
	return r.fallback(project)
}

// matchExisting returns the project epic with the highest token
// overlap against the context areas, or nil when none overlaps.
func (r *Resolver) matchExisting(projectID string, areas []string) (*Resolution, error) {
	if len(areas) == 0 {
		return nil, nil
	}

	epics, err := r.store.ListEpics(projectID)
	if err != nil {
		return nil, err
	}

	var best *models.Epic
	bestScore := 0
	for _, ep := range epics {
		text := strings.ToLower(ep.ID + " " + ep.Title + " " + ep.Description)
		score := 0
		for _, area := range areas {
			if strings.Contains(text, area) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ep, score
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Resolution{EpicID: best.ID, EpicName: best.Title, Source: SourceExisting}, nil
}

// createAreaEpic synthesizes <projectId>-<area>-epic.
func (r *Resolver) createAreaEpic(project *models.Project, area string) (*Resolution, error) {
	id, err := r.ids.EpicID(project.ID, area)
	if err != nil {
		return nil, err
	}
	title := strings.ToUpper(area[:1]) + area[1:]
	return r.persist(project, id, title, SourceCreated)
}

// fallback resolves to the project main epic, creating it if absent.
func (r *Resolver) fallback(project *models.Project) (*Resolution, error) {
	id := project.ID + "-main-epic"
	if ep, err := r.store.GetEpic(id); err == nil {
		return &Resolution{EpicID: ep.ID, EpicName: ep.Title, Source: SourceFallback}, nil
	} else if !errs.IsKind(err, errs.KindNotFound) {
		return nil, err
	}
	return r.persist(project, id, "Main", SourceFallback)
}

// persist creates the epic and links it into the project.
func (r *Resolver) persist(project *models.Project, id, title string, source Source) (*Resolution, error) {
	if models.IsScaffoldingEpicID(id) {
		return nil, errs.New(errs.KindScaffoldingEpic, "resolved epic id %q matches a forbidden pattern", id)
	}

	ep := &models.Epic{
		ID:        id,
		ProjectID: project.ID,
		Title:     title,
		Status:    models.ProjectStatusPending,
		Priority:  project.Priority,
	}
	if err := r.store.CreateEpic(ep); err != nil {
		return nil, err
	}

	if !project.HasEpic(id) {
		project.EpicIDs = append(project.EpicIDs, id)
		if err := r.store.UpdateProject(project); err != nil {
			return nil, err
		}
	}

	r.log.Info().Str("epic", id).Str("project", project.ID).Str("source", string(source)).Msg("epic created")
	return &Resolution{EpicID: id, EpicName: title, Source: source, Created: true}, nil
}

// extractAreas returns the functional areas present in the context,
// most frequent first, ties broken alphabetically. An explicit
// FunctionalArea takes precedence over token extraction.
func extractAreas(tc TaskContext) []string {
	if area := strings.ToLower(strings.TrimSpace(tc.FunctionalArea)); area != "" {
		return []string{area}
	}
	text := strings.ToLower(tc.Title + " " + tc.Description + " " + strings.Join(tc.Tags, " "))
	tokens := map[string]int{}
	for _, w := range wordPattern.FindAllString(text, -1) {
		tokens[w]++
	}

	counts := map[string]int{}
	for area, keywords := range areaKeywords {
		for _, kw := range keywords {
			counts[area] += tokens[kw]
		}
	}

	var areas []string
	for area, n := range counts {
		if n > 0 {
			areas = append(areas, area)
		}
	}
	sort.Slice(areas, func(i, j int) bool {
		if counts[areas[i]] != counts[areas[j]] {
			return counts[areas[i]] > counts[areas[j]]
		}
		return areas[i] < areas[j]
	})
	return areas
}
