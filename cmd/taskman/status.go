package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/security"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show projects and task progress",
	Long: `Display every project in the store with its epics and task counts
by status.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := zerolog.Nop()
	validator := security.NewValidator(cfg.Security, log)
	store, err := storage.NewEngine(cfg.Storage, validator, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	projects, err := store.ListProjects()
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects. The core is empty.")
		return nil
	}

	for _, p := range projects {
		fmt.Printf("%s %s (%s)\n", statusGlyph(string(p.Status)), color.New(color.Bold).Sprint(p.Name), p.ID)

		tasks, err := store.ListTasks(p.ID, "")
		if err != nil {
			return fmt.Errorf("list tasks for %s: %w", p.ID, err)
		}
		counts := make(map[models.TaskStatus]int)
		for _, task := range tasks {
			counts[task.Status]++
		}
		fmt.Printf("  epics: %d  tasks: %d", len(p.EpicIDs), len(tasks))
		for _, s := range []models.TaskStatus{
			models.TaskStatusPending, models.TaskStatusInProgress,
			models.TaskStatusCompleted, models.TaskStatusFailed,
			models.TaskStatusBlocked, models.TaskStatusCancelled,
		} {
			if counts[s] > 0 {
				fmt.Printf("  %s: %d", s, counts[s])
			}
		}
		fmt.Println()
	}
	return nil
}

// statusGlyph colors a one-character marker per status.
func statusGlyph(status string) string {
	switch status {
	case "completed":
		return color.GreenString("✓")
	case "in_progress":
		return color.YellowString("▶")
	case "blocked", "cancelled":
		return color.RedString("✗")
	default:
		return color.CyanString("•")
	}
}
