package taskops

import (
	"context"
	"testing"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/oracle"
	"github.com/vibecoder/taskman/pkg/models"
)

func TestHandleIntentCreateTask(t *testing.T) {
	ops, store, orc := newTestOps(t)
	seedProject(t, ops, "Web App")

	orc.PushIntent(&oracle.IntentResult{
		Intent:     oracle.IntentCreateTask,
		Confidence: 0.92,
		Parameters: map[string]string{
			"projectName": "Web App",
			"title":       "Add user authentication",
		},
	})

	out, err := ops.HandleIntent(context.Background(), "gateway", "add auth to the web app")
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	if !out.Handled {
		t.Error("create_task should be handled")
	}
	if out.Task == nil {
		t.Fatal("no task in outcome")
	}
	if out.Task.Title != "Add user authentication" {
		t.Errorf("title = %q", out.Task.Title)
	}
	if out.Task.Status != models.TaskStatusPending {
		t.Errorf("status = %q, want pending", out.Task.Status)
	}
	if models.IsScaffoldingEpicID(out.Task.EpicID) {
		t.Errorf("task landed in scaffolding epic %q", out.Task.EpicID)
	}
	// Description defaults to the title when the utterance gave none.
	if out.Task.Description != out.Task.Title {
		t.Errorf("description = %q", out.Task.Description)
	}

	persisted, err := store.GetTask(out.Task.ID)
	if err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
	if persisted.EpicID != out.Task.EpicID {
		t.Errorf("persisted epic = %q, want %q", persisted.EpicID, out.Task.EpicID)
	}
}

func TestHandleIntentCreateTaskMissingProjectName(t *testing.T) {
	ops, _, orc := newTestOps(t)

	orc.PushIntent(&oracle.IntentResult{
		Intent:     oracle.IntentCreateTask,
		Confidence: 0.8,
		Parameters: map[string]string{"title": "orphan task"},
	})

	_, err := ops.HandleIntent(context.Background(), "gateway", "make a task")
	if !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestHandleIntentCreateProject(t *testing.T) {
	ops, _, orc := newTestOps(t)

	orc.PushIntent(&oracle.IntentResult{
		Intent:     oracle.IntentCreateProject,
		Confidence: 0.95,
		Parameters: map[string]string{
			"name":        "Billing Service",
			"description": "invoicing and payments",
		},
	})

	out, err := ops.HandleIntent(context.Background(), "gateway", "start a billing service project")
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	if out.Project == nil || out.Project.Name != "Billing Service" {
		t.Fatalf("project = %+v", out.Project)
	}
	if out.Project.Description != "invoicing and payments" {
		t.Errorf("description = %q", out.Project.Description)
	}
}

func TestHandleIntentListProjects(t *testing.T) {
	ops, _, orc := newTestOps(t)
	seedProject(t, ops, "Web App")
	seedProject(t, ops, "Mobile App")

	orc.PushIntent(&oracle.IntentResult{Intent: oracle.IntentListProjects, Confidence: 0.9})

	out, err := ops.HandleIntent(context.Background(), "gateway", "show my projects")
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	if len(out.Projects) != 2 {
		t.Errorf("projects = %d, want 2", len(out.Projects))
	}
}

func TestHandleIntentListTasksForProject(t *testing.T) {
	ops, _, orc := newTestOps(t)
	project := seedProject(t, ops, "Web App")
	other := seedProject(t, ops, "Mobile App")

	for _, p := range []*models.Project{project, other} {
		_, err := ops.CreateTask(context.Background(), "tester", CreateTaskRequest{
			ProjectID:          p.ID,
			Title:              "Task in " + p.Name,
			Description:        "work",
			EstimatedHours:     0.5,
			AcceptanceCriteria: []string{"done"},
			CreatedBy:          "tester",
		})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	orc.PushIntent(&oracle.IntentResult{
		Intent:     oracle.IntentListTasks,
		Confidence: 0.85,
		Parameters: map[string]string{"projectName": "Web App"},
	})

	out, err := ops.HandleIntent(context.Background(), "gateway", "list web app tasks")
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	if len(out.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(out.Tasks))
	}
	if out.Tasks[0].ProjectID != project.ID {
		t.Errorf("task project = %q, want %q", out.Tasks[0].ProjectID, project.ID)
	}
}

func TestHandleIntentCheckStatusByTask(t *testing.T) {
	ops, _, orc := newTestOps(t)
	project := seedProject(t, ops, "Web App")

	task, err := ops.CreateTask(context.Background(), "tester", CreateTaskRequest{
		ProjectID:          project.ID,
		Title:              "Status probe",
		Description:        "check me",
		EstimatedHours:     0.5,
		AcceptanceCriteria: []string{"done"},
		CreatedBy:          "tester",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	orc.PushIntent(&oracle.IntentResult{
		Intent:     oracle.IntentCheckStatus,
		Confidence: 0.88,
		Parameters: map[string]string{"taskId": task.ID},
	})

	out, err := ops.HandleIntent(context.Background(), "gateway", "how is "+task.ID+" doing")
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	if out.Task == nil || out.Task.ID != task.ID {
		t.Fatalf("task = %+v", out.Task)
	}
}

func TestHandleIntentUpdateProject(t *testing.T) {
	ops, store, orc := newTestOps(t)
	project := seedProject(t, ops, "Web App")

	orc.PushIntent(&oracle.IntentResult{
		Intent:     oracle.IntentUpdateProject,
		Confidence: 0.9,
		Parameters: map[string]string{
			"projectName": "Web App",
			"status":      "in_progress",
		},
	})

	out, err := ops.HandleIntent(context.Background(), "gateway", "start work on web app")
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	if out.Project.Status != models.ProjectStatusInProgress {
		t.Errorf("status = %q", out.Project.Status)
	}
	persisted, err := store.GetProject(project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if persisted.Status != models.ProjectStatusInProgress {
		t.Errorf("persisted status = %q", persisted.Status)
	}
}

func TestHandleIntentUpdateProjectBadStatus(t *testing.T) {
	ops, _, orc := newTestOps(t)
	seedProject(t, ops, "Web App")

	orc.PushIntent(&oracle.IntentResult{
		Intent:     oracle.IntentUpdateProject,
		Confidence: 0.9,
		Parameters: map[string]string{
			"projectName": "Web App",
			"status":      "half-done",
		},
	})

	_, err := ops.HandleIntent(context.Background(), "gateway", "mark web app half-done")
	if !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestHandleIntentExternalIntentsUnhandled(t *testing.T) {
	ops, _, orc := newTestOps(t)

	for _, intent := range []oracle.Intent{
		oracle.IntentRunTask, oracle.IntentParsePRD,
		oracle.IntentParseTasks, oracle.IntentImportArtifact,
	} {
		orc.PushIntent(&oracle.IntentResult{Intent: intent, Confidence: 0.9})
		out, err := ops.HandleIntent(context.Background(), "gateway", "do the external thing")
		if err != nil {
			t.Fatalf("%s: %v", intent, err)
		}
		if out.Handled {
			t.Errorf("%s should be delegated, not handled", intent)
		}
		if out.Intent != intent {
			t.Errorf("intent = %q, want %q", out.Intent, intent)
		}
	}
}

func TestHandleIntentUnknown(t *testing.T) {
	ops, _, orc := newTestOps(t)

	orc.PushIntent(&oracle.IntentResult{Intent: oracle.IntentUnknown, Confidence: 0.2})

	_, err := ops.HandleIntent(context.Background(), "gateway", "flurble the wantler")
	if !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}
