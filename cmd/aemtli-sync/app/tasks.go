package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aemtliapp/aemtli-sync/internal/model"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and change the task list",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the task list as JSON",
	RunE:  runTasksList,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksAdd,
}

var tasksToggleCmd = &cobra.Command{
	Use:   "toggle <task-id>",
	Short: "Flip a task's done flag",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksToggle,
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksDelete,
}

func init() {
	tasksAddCmd.Flags().String("recurrence", "once", "Recurrence (once, daily, weekly, monthly)")
	tasksAddCmd.Flags().String("assignee", "", "Member ID to assign the task to")
	tasksAddCmd.Flags().String("deadline", "", "Deadline (RFC 3339)")
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksToggleCmd)
	tasksCmd.AddCommand(tasksDeleteCmd)
}

func runTasksList(_ *cobra.Command, _ []string) error {
	return withApp(func(_ context.Context, app *syncApp) error {
		output, err := json.MarshalIndent(map[string]any{
			"tasks":   app.controller.Tasks(),
			"members": app.controller.Members(),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	})
}

func runTasksAdd(cmd *cobra.Command, args []string) error {
	title := args[0]

	rawRecurrence, err := cmd.Flags().GetString("recurrence")
	if err != nil {
		return err
	}
	recurrence, ok := model.ParseRecurrence(rawRecurrence)
	if !ok {
		return fmt.Errorf("unknown recurrence %q", rawRecurrence)
	}

	var assignee *uuid.UUID
	if raw, _ := cmd.Flags().GetString("assignee"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid assignee ID: %w", err)
		}
		assignee = &id
	}

	var deadline *time.Time
	if raw, _ := cmd.Flags().GetString("deadline"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid deadline: %w", err)
		}
		deadline = &ts
	}

	return withApp(func(ctx context.Context, app *syncApp) error {
		task, err := app.controller.AddTask(ctx, title, assignee, recurrence, deadline)
		if err != nil {
			return fmt.Errorf("failed to add task: %w", err)
		}
		slog.Info("Task added", "id", task.ID, "title", task.Title)
		return nil
	})
}

func runTasksToggle(_ *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid task ID: %w", err)
	}

	return withApp(func(ctx context.Context, app *syncApp) error {
		if err := app.controller.ToggleTask(ctx, id); err != nil {
			return fmt.Errorf("failed to toggle task: %w", err)
		}
		return nil
	})
}

func runTasksDelete(_ *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid task ID: %w", err)
	}

	return withApp(func(ctx context.Context, app *syncApp) error {
		if err := app.controller.DeleteTask(ctx, id); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		return nil
	})
}
