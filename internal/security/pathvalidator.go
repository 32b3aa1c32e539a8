// Package security constrains filesystem access to configured roots.
// Every storage operation validates its path here before touching disk.
package security

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
)

// AccessMode distinguishes read paths from write paths.
type AccessMode string

const (
	// ModeRead validates against the read root.
	ModeRead AccessMode = "read"
	// ModeWrite validates against the write root.
	ModeWrite AccessMode = "write"
)

// ViolationType categorizes a rejected path.
type ViolationType string

const (
	// ViolationEscape means the path resolved outside its root.
	ViolationEscape ViolationType = "escape"
	// ViolationReservedRoot means the path resolved to the filesystem root.
	ViolationReservedRoot ViolationType = "reserved-root"
	// ViolationTraversal means the path still contained ".." after
	// normalization.
	ViolationTraversal ViolationType = "traversal"
)

// Result is the outcome of a single validation.
type Result struct {
	// Valid is true when the path may be used.
	Valid bool
	// ResolvedPath is the cleaned absolute path when valid.
	ResolvedPath string
	// Violation categorizes the rejection when invalid.
	Violation ViolationType
	// Err carries the rejection as a PathViolation error.
	Err error
}

// Validator checks paths against the configured read and write roots.
type Validator struct {
	readRoot  string
	writeRoot string
	mode      config.SecurityMode
	threshold time.Duration
	log       zerolog.Logger
}

// NewValidator creates a Validator from the security configuration.
// Roots are cleaned to absolute form once at construction.
func NewValidator(cfg config.SecurityConfig, log zerolog.Logger) *Validator {
	return &Validator{
		readRoot:  filepath.Clean(cfg.ReadRoot),
		writeRoot: filepath.Clean(cfg.WriteRoot),
		mode:      cfg.Mode,
		threshold: time.Duration(cfg.PerformanceThresholdMS) * time.Millisecond,
		log:       log.With().Str("component", "path-validator").Logger(),
	}
}

// ReadRoot returns the configured read root.
func (v *Validator) ReadRoot() string { return v.readRoot }

// WriteRoot returns the configured write root.
func (v *Validator) WriteRoot() string { return v.writeRoot }

// Validate checks that path lies beneath the root for the given mode.
// Relative paths are resolved against that root. Violations surface as
// hard errors regardless of security mode; permissive mode only relaxes
// logging verbosity.
func (v *Validator) Validate(path string, mode AccessMode) Result {
	start := time.Now()
	defer func() {
		if d := time.Since(start); d > v.threshold {
			v.log.Warn().Dur("elapsed", d).Str("path", path).Msg("path validation exceeded threshold")
		}
	}()

	root := v.readRoot
	if mode == ModeWrite {
		root = v.writeRoot
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	if hasTraversalSegment(resolved) {
		return v.reject(path, ViolationTraversal, "path %q contains traversal segments", path)
	}
	if resolved == string(filepath.Separator) {
		return v.reject(path, ViolationReservedRoot, "path %q resolves to the filesystem root", path)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return v.reject(path, ViolationEscape, "path %q escapes the %s root %s", path, mode, root)
	}

	return Result{Valid: true, ResolvedPath: resolved}
}

// hasTraversalSegment reports whether any path element is exactly
// "..". Filenames that merely contain consecutive dots are legal.
func hasTraversalSegment(path string) bool {
	for _, seg := range strings.Split(path, string(filepath.Separator)) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// reject builds a failure Result and logs it.
func (v *Validator) reject(path string, vt ViolationType, format string, args ...any) Result {
	err := errs.New(errs.KindPathViolation, format, args...).WithDetail("violation", string(vt))
	ev := v.log.Error()
	if v.mode == config.SecurityModePermissive {
		ev = v.log.Warn()
	}
	ev.Str("path", path).Str("violation", string(vt)).Msg("path rejected")
	return Result{Violation: vt, Err: err}
}
