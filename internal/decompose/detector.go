// Package decompose implements atomic detection and recursive task
// decomposition. The oracle proposes; deterministic rules dispose:
// depth bounds, the atomic estimate band, and the anti-scaffolding
// contract always win over oracle output.
package decompose

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/oracle"
	"github.com/vibecoder/taskman/pkg/models"
)

// maxHeuristicFilePaths bounds file fan-out for the heuristic atomic check.
const maxHeuristicFilePaths = 3

// Detection is the outcome of an atomic check.
type Detection struct {
	// IsAtomic is the final verdict after confidence gating.
	IsAtomic bool
	// Confidence is the oracle's confidence, or 1.0 on the heuristic path.
	Confidence float64
	// Reasoning explains the verdict.
	Reasoning string
	// EstimatedHours is the oracle's revised estimate when provided.
	EstimatedHours float64
	// ComplexityFactors and Recommendations pass through from the oracle.
	ComplexityFactors []string
	Recommendations   []string
	// Heuristic is true when the oracle was unreachable and the
	// deterministic rule decided.
	Heuristic bool
}

// Detector decides whether a task is atomic.
type Detector struct {
	oracle        oracle.Oracle
	minConfidence float64
	log           zerolog.Logger
}

// NewDetector creates an atomic detector.
func NewDetector(o oracle.Oracle, cfg config.DecomposeConfig, log zerolog.Logger) *Detector {
	return &Detector{
		oracle:        o,
		minConfidence: cfg.MinConfidence,
		log:           log.With().Str("component", "atomic-detector").Logger(),
	}
}

// Detect consults the oracle and gates the answer by confidence. When
// the oracle is unreachable the deterministic heuristic decides. A
// low-confidence "atomic" is demoted to "not atomic" unless the
// heuristic agrees.
func (d *Detector) Detect(ctx context.Context, task *models.AtomicTask, pc oracle.ProjectContext) (*Detection, error) {
	res, err := d.oracle.DetectAtomic(ctx, task, pc)
	if err != nil {
		if !errs.Retryable(err) && !errs.IsKind(err, errs.KindOracleMalformed) {
			return nil, err
		}
		d.log.Warn().Err(err).Str("task", task.ID).Msg("oracle unreachable, using heuristic")
		atomic := heuristicAtomic(task)
		return &Detection{
			IsAtomic:   atomic,
			Confidence: 1.0,
			Reasoning:  "oracle unavailable; deterministic estimate/criteria/file-count rule applied",
			Heuristic:  true,
		}, nil
	}

	det := &Detection{
		IsAtomic:          res.IsAtomic,
		Confidence:        res.Confidence,
		Reasoning:         res.Reasoning,
		EstimatedHours:    res.EstimatedHours,
		ComplexityFactors: res.ComplexityFactors,
		Recommendations:   res.Recommendations,
	}
	if res.Confidence < d.minConfidence && res.IsAtomic && !heuristicAtomic(task) {
		det.IsAtomic = false
		det.Reasoning = "low-confidence atomic verdict rejected; heuristic disagrees"
	}
	return det, nil
}

// heuristicAtomic is the deterministic fallback rule: atomic estimate
// band, exactly one acceptance criterion, at most three files.
func heuristicAtomic(task *models.AtomicTask) bool {
	return task.IsAtomicRange() &&
		len(task.AcceptanceCriteria) == 1 &&
		len(task.FilePaths) <= maxHeuristicFilePaths
}
