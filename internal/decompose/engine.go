package decompose

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/epic"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/idgen"
	"github.com/vibecoder/taskman/internal/oracle"
	"github.com/vibecoder/taskman/pkg/models"
)

// Child-count band the oracle is expected to stay inside.
const (
	minChildren = 2
	maxChildren = 8
)

// Result is the outcome of one decomposition call.
type Result struct {
	// Success is false only when the engine failed outright.
	Success bool
	// IsAtomic is true when the input task needed no decomposition.
	IsAtomic bool
	// Depth is the deepest recursion level reached.
	Depth int
	// SubTasks is the flat list of atomic leaves, in creation order.
	// Empty when IsAtomic.
	SubTasks []*models.AtomicTask
	// Outcomes records per-leaf bookkeeping for the session.
	Outcomes []models.TaskOutcome
	// Warnings lists convergence warnings (estimate drift, forced
	// acceptance at the depth bound, out-of-band child counts).
	Warnings []string
}

// Engine recursively decomposes tasks into atomic leaves.
type Engine struct {
	oracle   oracle.Oracle
	detector *Detector
	resolver *epic.Resolver
	ids      *idgen.Generator
	cfg      config.DecomposeConfig
	log      zerolog.Logger
}

// NewEngine creates a decomposition engine.
func NewEngine(o oracle.Oracle, detector *Detector, resolver *epic.Resolver, ids *idgen.Generator, cfg config.DecomposeConfig, log zerolog.Logger) *Engine {
	return &Engine{
		oracle:   o,
		detector: detector,
		resolver: resolver,
		ids:      ids,
		cfg:      cfg,
		log:      log.With().Str("component", "rdd-engine").Logger(),
	}
}

// Decompose breaks a task into atomic leaves. The input task is not
// persisted or modified; leaves carry resolved epic IDs and generated
// task IDs and are ready to store.
func (e *Engine) Decompose(ctx context.Context, holder string, task *models.AtomicTask, pc oracle.ProjectContext) (*Result, error) {
	run := &runState{
		holder: holder,
		pc:     pc,
		seen:   map[string]bool{fingerprint(task.Title, task.Description): true},
	}

	res := &Result{Success: true}
	atomic, err := e.recurse(ctx, run, task, 0, res)
	if err != nil {
		return nil, err
	}
	res.IsAtomic = atomic
	if atomic {
		res.SubTasks = nil
		res.Outcomes = nil
	}
	return res, nil
}

// runState carries per-session recursion state.
type runState struct {
	holder string
	pc     oracle.ProjectContext
	// seen holds (title, description) fingerprints; duplicates coalesce.
	seen map[string]bool
}

// recurse returns true when task itself is atomic; otherwise it
// appends task's atomic leaves to res.
func (e *Engine) recurse(ctx context.Context, run *runState, task *models.AtomicTask, depth int, res *Result) (bool, error) {
	if depth > res.Depth {
		res.Depth = depth
	}

	// The depth bound terminates without consulting the oracle.
	if depth >= e.cfg.MaxDepth {
		if depth > 0 {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("task %q accepted at the depth bound without an atomic verdict", task.Title))
		}
		return true, nil
	}

	det, err := e.detector.Detect(ctx, task, run.pc)
	if err != nil {
		return false, err
	}
	if det.IsAtomic && det.Confidence >= 0.9 {
		return true, nil
	}

	dec, err := e.oracle.DecomposeTask(ctx, task, run.pc)
	if err != nil {
		if errs.Retryable(err) || errs.IsKind(err, errs.KindOracleMalformed) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("task %q accepted as-is: decomposition oracle failed (%v)", task.Title, errs.KindOf(err)))
			return true, nil
		}
		return false, err
	}

	children := dec.Tasks
	if len(children) < minChildren || len(children) > maxChildren {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("task %q decomposed into %d children, outside the expected %d-%d band",
				task.Title, len(children), minChildren, maxChildren))
	}
	if len(children) == 0 {
		return true, nil
	}

	var childSum float64
	for _, child := range children {
		fp := fingerprint(child.Title, child.Description)
		if run.seen[fp] {
			continue
		}
		run.seen[fp] = true
		childSum += child.EstimatedHours

		built, err := e.buildChild(ctx, run, task, child)
		if err != nil {
			return false, err
		}

		atomic, err := e.recurse(ctx, run, built, depth+1, res)
		if err != nil {
			return false, err
		}
		if atomic {
			res.SubTasks = append(res.SubTasks, built)
			res.Outcomes = append(res.Outcomes, models.TaskOutcome{
				TaskID: built.ID,
				Depth:  depth + 1,
				Atomic: built.IsAtomicRange(),
			})
		}
	}

	if task.EstimatedHours > 0 && e.cfg.EstimateTolerance > 0 {
		drift := math.Abs(childSum-task.EstimatedHours) / task.EstimatedHours
		if drift > e.cfg.EstimateTolerance {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("children of %q sum to %.2fh against a %.2fh parent estimate",
					task.Title, childSum, task.EstimatedHours))
		}
	}
	return false, nil
}

// buildChild turns an oracle candidate into a storable task with a
// resolved epic and a fresh ID.
func (e *Engine) buildChild(ctx context.Context, run *runState, parent *models.AtomicTask, child oracle.ChildTask) (*models.AtomicTask, error) {
	resolution, err := e.resolver.Resolve(ctx, run.holder, parent.ProjectID, epic.TaskContext{
		Title:       child.Title,
		Description: child.Description,
		Tags:        child.Tags,
	})
	if err != nil {
		return nil, err
	}
	if models.IsScaffoldingEpicID(resolution.EpicID) {
		return nil, errs.New(errs.KindScaffoldingEpic, "resolver emitted forbidden epic id %q", resolution.EpicID)
	}

	id, err := e.ids.TaskID(parent.ProjectID, resolution.EpicID)
	if err != nil {
		return nil, err
	}

	priority := child.Priority
	if !priority.Valid() {
		priority = parent.Priority
	}

	return &models.AtomicTask{
		ID:                 id,
		Title:              child.Title,
		Description:        child.Description,
		Status:             models.TaskStatusPending,
		Priority:           priority,
		Type:               parent.Type,
		EstimatedHours:     child.EstimatedHours,
		AcceptanceCriteria: child.AcceptanceCriteria,
		EpicID:             resolution.EpicID,
		ProjectID:          parent.ProjectID,
		CreatedBy:          "rdd-engine",
		Tags:               child.Tags,
	}, nil
}

// fingerprint normalizes a (title, description) pair for duplicate
// coalescing.
func fingerprint(title, description string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "\x00" + strings.ToLower(strings.TrimSpace(description))
}
