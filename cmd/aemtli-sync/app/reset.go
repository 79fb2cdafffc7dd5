package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear every task's done flag",
	Long: `Clear the done flag on every task without deleting anything. This is the
manual counterpart of the automatic midnight reset, which replaces the task
list with the defaults.`,
	RunE: runReset,
}

func runReset(_ *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, app *syncApp) error {
		if err := app.controller.ResetDoneFlags(ctx); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		slog.Info("Done flags cleared", "tasks", len(app.controller.Tasks()))
		return nil
	})
}
