package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/internal/taskstore"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var importReplace bool

var importCmd = &cobra.Command{
	Use:   "import <tasks.yaml>",
	Short: "Import a task graph from a YAML file",
	Long: `Import a decomposed task graph into the project database.

The file contains a top-level "tasks" list. Each entry uses the task
fields directly:

  tasks:
    - id: auth-schema
      name: Design auth schema
      is_subtask: true
      parent_task_id: auth
      estimated_hours: 2
      priority: high
      labels: [design]
      provides: auth schema

The graph is validated on import: unknown dependency references and
dependency cycles are rejected with the offending task IDs.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "Replace any previously imported tasks")
}

type taskFile struct {
	Tasks []*models.Task `yaml:"tasks"`
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read task file: %w", err)
	}

	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse task file: %w", err)
	}
	if len(file.Tasks) == 0 {
		return fmt.Errorf("no tasks found in %s", args[0])
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	db, err := state.OpenProject(cwd)
	if err != nil {
		return fmt.Errorf("open project database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if !importReplace {
		existing, err := db.LoadTasks()
		if err != nil {
			return fmt.Errorf("check existing tasks: %w", err)
		}
		if len(existing) > 0 {
			return fmt.Errorf("project already has %d tasks; use --replace to overwrite", len(existing))
		}
	}

	// Validate before persisting anything.
	store, err := taskstore.Load(file.Tasks)
	if err != nil {
		return fmt.Errorf("invalid task graph: %w", err)
	}

	if err := db.SaveTasks(store.Snapshot()); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}

	green := color.New(color.FgGreen)
	fmt.Printf("%s Imported %d tasks (%d workable subtasks)\n",
		green.Sprint("✓"), store.Len(), len(store.Workable()))
	return nil
}
