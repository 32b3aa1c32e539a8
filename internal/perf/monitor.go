// Package perf times core operations, detects regressions against a
// rolling baseline, and optionally applies known remediations.
package perf

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
)

// Severity classifies a detected regression.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Regression severity bands as fractions over baseline.
const (
	criticalBand = 0.50
	highBand     = 0.30
	mediumBand   = 0.20
	lowBand      = 0.10
)

// Sample is one recorded operation execution.
type Sample struct {
	// At is when the operation finished.
	At time.Time
	// Duration is the wall-clock execution time.
	Duration time.Duration
	// MemoryDelta is the heap growth across the operation, in bytes.
	// Negative when a GC ran mid-operation.
	MemoryDelta int64
}

// Span is an in-flight measurement returned by StartOperation.
type Span struct {
	monitor   *Monitor
	operation string
	start     time.Time
	heapStart uint64
}

// Regression describes a detected slowdown for one operation.
type Regression struct {
	// Operation names the regressed operation.
	Operation string
	// Baseline is the mean duration of old samples.
	Baseline time.Duration
	// Recent is the mean duration of new samples.
	Recent time.Duration
	// Percent is (recent-baseline)/baseline.
	Percent float64
	// Severity bands the regression.
	Severity Severity
}

// Optimizer applies one known remediation and reports what it did.
type Optimizer func() string

// Monitor records operation timings in bounded sliding windows.
type Monitor struct {
	mu         sync.Mutex
	windows    map[string][]Sample
	optimizers []Optimizer

	windowSize   int
	baselineAge  time.Duration
	autoOptimize bool
	log          zerolog.Logger
}

// NewMonitor creates a performance monitor.
func NewMonitor(cfg config.PerfConfig, log zerolog.Logger) *Monitor {
	size := cfg.WindowSize
	if size <= 0 {
		size = 1000
	}
	return &Monitor{
		windows:      make(map[string][]Sample),
		windowSize:   size,
		baselineAge:  cfg.BaselineAge,
		autoOptimize: cfg.AutoOptimize,
		log:          log.With().Str("component", "perf").Logger(),
	}
}

// RegisterOptimizer adds a remediation candidate for auto-optimize.
func (m *Monitor) RegisterOptimizer(o Optimizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optimizers = append(m.optimizers, o)
}

// StartOperation begins timing an operation.
func (m *Monitor) StartOperation(operation string) *Span {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &Span{
		monitor:   m,
		operation: operation,
		start:     time.Now(),
		heapStart: ms.HeapAlloc,
	}
}

// End records the span's sample and returns it.
func (s *Span) End() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	sample := Sample{
		At:          time.Now(),
		Duration:    time.Since(s.start),
		MemoryDelta: int64(ms.HeapAlloc) - int64(s.heapStart),
	}
	s.monitor.record(s.operation, sample)
	return sample
}

// record appends to the operation's sliding window.
func (m *Monitor) record(operation string, sample Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := append(m.windows[operation], sample)
	if len(w) > m.windowSize {
		w = w[len(w)-m.windowSize:]
	}
	m.windows[operation] = w
}

// Operations returns the operation names seen so far, sorted.
func (m *Monitor) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, 0, len(m.windows))
	for op := range m.windows {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Samples returns a copy of the operation's window.
func (m *Monitor) Samples(operation string) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windows[operation]
	out := make([]Sample, len(w))
	copy(out, w)
	return out
}

// DetectRegressions splits each window into baseline (older than the
// configured age) and recent samples and compares their means.
func (m *Monitor) DetectRegressions(now time.Time) []Regression {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.baselineAge)
	var out []Regression
	for op, w := range m.windows {
		var baseline, recent []Sample
		for _, s := range w {
			if s.At.Before(cutoff) {
				baseline = append(baseline, s)
			} else {
				recent = append(recent, s)
			}
		}
		if len(baseline) == 0 || len(recent) == 0 {
			continue
		}

		b, r := meanDuration(baseline), meanDuration(recent)
		if b <= 0 {
			continue
		}
		pct := float64(r-b) / float64(b)
		sev := severityOf(pct)
		if sev == SeverityNone {
			continue
		}
		out = append(out, Regression{
			Operation: op,
			Baseline:  b,
			Recent:    r,
			Percent:   pct,
			Severity:  sev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// AutoOptimize runs the registered remediations when any regression is
// at least the medium band, returning the applied action descriptions.
func (m *Monitor) AutoOptimize(now time.Time) []string {
	if !m.autoOptimize {
		return nil
	}

	trigger := false
	for _, r := range m.DetectRegressions(now) {
		if r.Severity == SeverityMedium || r.Severity == SeverityHigh || r.Severity == SeverityCritical {
			trigger = true
			m.log.Warn().
				Str("operation", r.Operation).
				Str("severity", string(r.Severity)).
				Float64("percent", r.Percent*100).
				Msg("performance regression detected")
		}
	}
	if !trigger {
		return nil
	}

	m.mu.Lock()
	optimizers := make([]Optimizer, len(m.optimizers))
	copy(optimizers, m.optimizers)
	m.mu.Unlock()

	var actions []string
	for _, o := range optimizers {
		actions = append(actions, o())
	}
	for _, a := range actions {
		m.log.Info().Str("action", a).Msg("auto-optimization applied")
	}
	return actions
}

// severityOf bands a regression percentage.
func severityOf(pct float64) Severity {
	switch {
	case pct > criticalBand:
		return SeverityCritical
	case pct > highBand:
		return SeverityHigh
	case pct > mediumBand:
		return SeverityMedium
	case pct > lowBand:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// meanDuration averages sample durations.
func meanDuration(samples []Sample) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s.Duration
	}
	return total / time.Duration(len(samples))
}
