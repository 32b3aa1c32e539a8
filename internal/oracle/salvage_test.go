package oracle

import (
	"encoding/json"
	"strings"
	"testing"
)

func hasFileScores(raw json.RawMessage) bool {
	var probe struct {
		FileScores []json.RawMessage `json:"fileScores"`
	}
	return json.Unmarshal(raw, &probe) == nil && probe.FileScores != nil
}

func TestSalvageShortInputUnchanged(t *testing.T) {
	in := `{"fileScores": [1]}`
	if got := Salvage(in, 1024, hasFileScores, "fileScores"); got != in {
		t.Errorf("short input must pass through unchanged, got %q", got)
	}
}

func TestSalvageExtractsObjectFromProse(t *testing.T) {
	obj := `{"fileScores": [{"path": "a.go", "score": 0.9}]}`
	in := "Sure! Here is the analysis you asked for.\n" +
		strings.Repeat("filler prose ", 100) + "\n" + obj + "\nHope that helps!"

	got := Salvage(in, 1024, hasFileScores, "fileScores")
	if got != obj {
		t.Errorf("got %q, want the embedded object", got)
	}
}

func TestSalvagePrefersLongestPrimaryArray(t *testing.T) {
	small := `{"fileScores": [1]}`
	large := `{"fileScores": [1, 2, 3]}`
	in := strings.Repeat("x", 1100) + " " + small + " some text " + large

	got := Salvage(in, 1024, hasFileScores, "fileScores")
	if got != large {
		t.Errorf("got %q, want the candidate with the longest fileScores", got)
	}
}

func TestSalvageNoValidCandidateReturnsInput(t *testing.T) {
	in := strings.Repeat("y", 1100) + ` {"other": true} {broken json`
	if got := Salvage(in, 1024, hasFileScores, "fileScores"); got != in {
		t.Errorf("malformed input must be returned unchanged, got %q", got)
	}
}

func TestSalvageIgnoresBracesInsideStrings(t *testing.T) {
	obj := `{"fileScores": [1], "note": "brace } inside { string"}`
	in := strings.Repeat("z", 1100) + " " + obj

	got := Salvage(in, 1024, hasFileScores, "fileScores")
	if got != obj {
		t.Errorf("got %q, want the object with embedded braces", got)
	}
}

func TestSalvageThresholdBoundary(t *testing.T) {
	// Exactly at the threshold still passes through unchanged.
	in := strings.Repeat("a", 1024)
	if got := Salvage(in, 1024, hasFileScores, "fileScores"); got != in {
		t.Error("input at the threshold must pass through unchanged")
	}
}
