package security

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
)

func newTestValidator(t *testing.T) (*Validator, string, string) {
	t.Helper()
	readRoot := t.TempDir()
	writeRoot := t.TempDir()
	cfg := config.SecurityConfig{
		ReadRoot:               readRoot,
		WriteRoot:              writeRoot,
		Mode:                   config.SecurityModeStrict,
		PerformanceThresholdMS: 1000,
	}
	return NewValidator(cfg, zerolog.Nop()), readRoot, writeRoot
}

func TestValidateInsideRoot(t *testing.T) {
	v, _, writeRoot := newTestValidator(t)

	res := v.Validate(filepath.Join(writeRoot, "tasks", "T1.json"), ModeWrite)
	if !res.Valid {
		t.Fatalf("expected valid, got violation %s: %v", res.Violation, res.Err)
	}
}

func TestValidateRelativePathResolvesAgainstRoot(t *testing.T) {
	v, _, writeRoot := newTestValidator(t)

	res := v.Validate("tasks/T1.json", ModeWrite)
	if !res.Valid {
		t.Fatalf("expected valid, got %v", res.Err)
	}
	want := filepath.Join(writeRoot, "tasks", "T1.json")
	if res.ResolvedPath != want {
		t.Errorf("resolved path: got %q, want %q", res.ResolvedPath, want)
	}
}

func TestValidateEscape(t *testing.T) {
	v, readRoot, _ := newTestValidator(t)

	res := v.Validate("/somewhere/else/file.json", ModeRead)
	if res.Valid {
		t.Fatal("expected escape violation")
	}
	if res.Violation != ViolationEscape {
		t.Errorf("got violation %s, want escape", res.Violation)
	}
	if !errs.IsKind(res.Err, errs.KindPathViolation) {
		t.Errorf("expected PathViolation error, got %v", res.Err)
	}

	// The write root is not a valid read target.
	res = v.Validate(readRoot, ModeWrite)
	if res.Valid {
		t.Error("read root should not validate against write mode")
	}
}

func TestValidateTraversal(t *testing.T) {
	v, _, writeRoot := newTestValidator(t)

	// Traversal that escapes the root after cleaning.
	res := v.Validate(filepath.Join(writeRoot, "..", "..", "etc", "passwd"), ModeWrite)
	if res.Valid {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestValidateDotsInFilenameAllowed(t *testing.T) {
	v, _, writeRoot := newTestValidator(t)

	for _, rel := range []string{
		"notes..md",
		"archive..2024/report.txt",
		filepath.Join("tasks", "T1..backup.json"),
	} {
		res := v.Validate(rel, ModeWrite)
		if !res.Valid {
			t.Errorf("%q: filename dots are not traversal, got violation %s: %v", rel, res.Violation, res.Err)
		}
	}

	// A genuine ".." segment still escapes.
	res := v.Validate(filepath.Join(writeRoot, "..", "elsewhere"), ModeWrite)
	if res.Valid {
		t.Error("parent-directory segment must be rejected")
	}
}

func TestValidateReservedRoot(t *testing.T) {
	v, _, _ := newTestValidator(t)

	res := v.Validate("/", ModeWrite)
	if res.Valid {
		t.Fatal("expected filesystem root to be rejected")
	}
	if res.Violation != ViolationReservedRoot && res.Violation != ViolationEscape {
		t.Errorf("got violation %s", res.Violation)
	}
}

func TestValidateRootItself(t *testing.T) {
	v, _, writeRoot := newTestValidator(t)

	res := v.Validate(writeRoot, ModeWrite)
	if !res.Valid {
		t.Fatalf("root itself should be valid: %v", res.Err)
	}
}
