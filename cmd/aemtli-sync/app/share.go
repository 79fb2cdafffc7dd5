package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Manage the family share",
}

var shareCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the family share and print its URL",
	RunE:  runShareCreate,
}

var shareAcceptCmd = &cobra.Command{
	Use:   "accept <share-url>",
	Short: "Join a family via its share URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareAccept,
}

var shareStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current share phase and participants",
	RunE:  runShareStatus,
}

var shareLeaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Leave the family share (owners tear it down)",
	RunE:  runShareLeave,
}

func init() {
	shareCreateCmd.Flags().Bool("force-new", false, "Replace an existing share, invalidating its URL")
	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareAcceptCmd)
	shareCmd.AddCommand(shareStatusCmd)
	shareCmd.AddCommand(shareLeaveCmd)
}

func withApp(fn func(ctx context.Context, app *syncApp) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newSyncApp(ctx)
	if err != nil {
		return err
	}
	defer app.close()
	return fn(ctx, app)
}

func runShareCreate(cmd *cobra.Command, _ []string) error {
	forceNew, err := cmd.Flags().GetBool("force-new")
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, app *syncApp) error {
		sh, err := app.controller.CreateFamilyShare(ctx, forceNew)
		if err != nil {
			return fmt.Errorf("failed to create share: %w", err)
		}
		slog.Info("Share ready", "participants", len(sh.Participants))
		fmt.Println(sh.URL)
		return nil
	})
}

func runShareAccept(_ *cobra.Command, args []string) error {
	shareURL := args[0]
	return withApp(func(ctx context.Context, app *syncApp) error {
		if err := app.controller.JoinFamily(ctx, shareURL); err != nil {
			return fmt.Errorf("failed to join family: %w", err)
		}
		slog.Info("Joined family",
			"phase", app.controller.SharePhase(),
			"tasks", len(app.controller.Tasks()),
			"members", len(app.controller.Members()))
		return nil
	})
}

func runShareStatus(_ *cobra.Command, _ []string) error {
	return withApp(func(_ context.Context, app *syncApp) error {
		status := map[string]any{
			"phase":        app.controller.SharePhase(),
			"participants": app.coord.Participants(),
		}
		if sh := app.coord.ActiveShare(); sh != nil {
			status["url"] = sh.URL
		}
		if user := app.controller.CurrentUser(); user != nil {
			status["currentUser"] = user.Name
		}

		output, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	})
}

func runShareLeave(_ *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, app *syncApp) error {
		if err := app.controller.LeaveFamily(ctx); err != nil {
			return fmt.Errorf("failed to leave share: %w", err)
		}
		slog.Info("Left family share", "phase", app.controller.SharePhase())
		return nil
	})
}
