package models

import (
	"testing"
	"time"
)

func TestIsScaffoldingEpicID(t *testing.T) {
	forbidden := []string{"E1", "E2", "E3", "E01", "E02", "E03", "E001", "E002", "E003",
		"default-epic", "temp-epic", "scaffolding", "setup", "basic", "generic"}
	for _, id := range forbidden {
		if !IsScaffoldingEpicID(id) {
			t.Errorf("expected %q to be rejected as scaffolding", id)
		}
	}

	allowed := []string{"P1-auth-epic", "P1-main-epic", "E004", "E10", "PID-WEBAPP-001-E001-auth"}
	for _, id := range allowed {
		if IsScaffoldingEpicID(id) {
			t.Errorf("expected %q to be accepted", id)
		}
	}
}

func TestEpicValidate(t *testing.T) {
	epic := &Epic{
		ID:        "P1-auth-epic",
		ProjectID: "P1",
		Title:     "Authentication",
		Status:    ProjectStatusPending,
		Priority:  PriorityMedium,
	}
	if err := epic.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	epic.ID = "E001"
	if err := epic.Validate(); err == nil {
		t.Fatal("expected error for scaffolding epic id")
	}
}

func TestEntityMetadataTouch(t *testing.T) {
	m := EntityMetadata{Version: 1}
	now := time.Now()
	m.Touch(now)
	if m.Version != 2 {
		t.Errorf("expected version 2, got %d", m.Version)
	}
	if !m.UpdatedAt.Equal(now) {
		t.Errorf("expected updated at %v, got %v", now, m.UpdatedAt)
	}
}
