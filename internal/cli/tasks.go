package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pablomarino/teleops/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List saved task definitions",
	RunE:  runTasks,
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := task.NewStore(cfg.TasksDir, logger)
	if err != nil {
		return err
	}

	defs, err := store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(defs) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no tasks saved"))
		return nil
	}

	for _, def := range defs {
		fmt.Fprintf(out, "%s  %s\n", promptStyle.Render(def.Name), def.Command)
		if def.Description != "" {
			fmt.Fprintf(out, "  %s\n", dimStyle.Render(def.Description))
		}
	}
	return nil
}
