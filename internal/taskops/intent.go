package taskops

import (
	"context"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/oracle"
	"github.com/vibecoder/taskman/pkg/models"
)

// IntentOutcome reports what an utterance resolved to and what, if
// anything, was created or fetched.
type IntentOutcome struct {
	Intent     oracle.Intent
	Confidence float64
	Project    *models.Project
	Task       *models.AtomicTask
	Projects   []*models.Project
	Tasks      []*models.AtomicTask
	// Handled is false when the intent is recognized but its execution
	// lives outside the core (parse_prd, run_task, import_artifact).
	Handled bool
}

// HandleIntent recognizes an utterance and executes the intents the
// core owns. Unknown intents surface as validation errors so the
// gateway can re-prompt.
func (o *Ops) HandleIntent(ctx context.Context, holder, utterance string) (*IntentOutcome, error) {
	span := o.perf.StartOperation("taskops.handle_intent")
	defer span.End()

	result, err := o.oracle.RecognizeIntent(ctx, utterance, nil)
	if err != nil {
		return nil, err
	}
	out := &IntentOutcome{Intent: result.Intent, Confidence: result.Confidence}

	switch result.Intent {
	case oracle.IntentCreateProject:
		project, err := o.CreateProject(ctx, holder, CreateProjectRequest{
			Name:        result.Parameters["name"],
			Description: result.Parameters["description"],
			CreatedBy:   holder,
		})
		if err != nil {
			return nil, err
		}
		out.Project = project
		out.Handled = true

	case oracle.IntentCreateTask:
		projectName := result.Parameters["projectName"]
		if projectName == "" {
			return nil, errs.New(errs.KindValidation, "create_task intent is missing projectName")
		}
		project, err := o.store.FindProjectByName(projectName)
		if err != nil {
			return nil, err
		}
		title := result.Parameters["title"]
		description := result.Parameters["description"]
		if description == "" {
			description = title
		}
		task, err := o.CreateTask(ctx, holder, CreateTaskRequest{
			ProjectID:          project.ID,
			Title:              title,
			Description:        description,
			EstimatedHours:     0.1,
			AcceptanceCriteria: []string{title + " works as described"},
			CreatedBy:          holder,
		})
		if err != nil {
			return nil, err
		}
		out.Project = project
		out.Task = task
		out.Handled = true

	case oracle.IntentListProjects:
		projects, err := o.store.ListProjects()
		if err != nil {
			return nil, err
		}
		out.Projects = projects
		out.Handled = true

	case oracle.IntentListTasks:
		projectID := ""
		if name := result.Parameters["projectName"]; name != "" {
			project, err := o.store.FindProjectByName(name)
			if err != nil {
				return nil, err
			}
			projectID = project.ID
			out.Project = project
		}
		tasks, err := o.store.ListTasks(projectID, "")
		if err != nil {
			return nil, err
		}
		out.Tasks = tasks
		out.Handled = true

	case oracle.IntentCheckStatus:
		if taskID := result.Parameters["taskId"]; taskID != "" {
			task, err := o.GetTask(ctx, holder, taskID)
			if err != nil {
				return nil, err
			}
			out.Task = task
			out.Handled = true
			break
		}
		if name := result.Parameters["projectName"]; name != "" {
			project, err := o.store.FindProjectByName(name)
			if err != nil {
				return nil, err
			}
			out.Project = project
			out.Handled = true
		}

	case oracle.IntentUpdateProject:
		name := result.Parameters["projectName"]
		if name == "" {
			return nil, errs.New(errs.KindValidation, "update_project intent is missing projectName")
		}
		project, err := o.store.FindProjectByName(name)
		if err != nil {
			return nil, err
		}
		if desc := result.Parameters["description"]; desc != "" {
			project.Description = desc
		}
		if status := models.ProjectStatus(result.Parameters["status"]); status != "" {
			if !status.Valid() {
				return nil, errs.New(errs.KindValidation, "unknown project status %q", status)
			}
			project.Status = status
		}
		if err := o.store.UpdateProject(project); err != nil {
			return nil, err
		}
		out.Project = project
		out.Handled = true

	case oracle.IntentRunTask, oracle.IntentParsePRD, oracle.IntentParseTasks, oracle.IntentImportArtifact:
		// Recognized but executed by external collaborators.

	case oracle.IntentUnknown:
		return nil, errs.New(errs.KindValidation, "utterance %q did not match a known intent", utterance)

	default:
		return nil, errs.New(errs.KindValidation, "unrecognized intent %q", result.Intent)
	}

	return out, nil
}
