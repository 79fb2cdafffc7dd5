package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/aemtliapp/aemtli-sync/internal/config"
	"github.com/aemtliapp/aemtli-sync/internal/controller"
	"github.com/aemtliapp/aemtli-sync/internal/gateway"
	"github.com/aemtliapp/aemtli-sync/internal/migrate"
	"github.com/aemtliapp/aemtli-sync/internal/remote"
	"github.com/aemtliapp/aemtli-sync/internal/remote/httpapi"
	"github.com/aemtliapp/aemtli-sync/internal/remote/memstore"
	"github.com/aemtliapp/aemtli-sync/internal/share"
	"github.com/aemtliapp/aemtli-sync/internal/state"
	"github.com/aemtliapp/aemtli-sync/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon: start up against the record store, keep the local
cache converged via the change feed and apply the daily task reset at
midnight. Stops on SIGINT/SIGTERM.`,
	RunE: runDaemon,
}

// syncApp is the composition root shared by the daemon and the one-shot
// commands.
type syncApp struct {
	cfg        *config.Config
	controller *controller.Controller
	coord      *share.Coordinator

	// Exactly one of these backs the change feed.
	client *httpapi.Client
	svc    *memstore.Service
}

func loadAppConfig() (*config.Config, error) {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newSyncApp wires the full stack: record-store container, local state,
// share coordinator, role-routed gateway, synced store, migrator and
// controller, then runs migration and the controller startup sequence.
func newSyncApp(ctx context.Context) (*syncApp, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}

	app := &syncApp{cfg: cfg}
	identity := cfg.Remote.Identity

	var container remote.Container
	if cfg.Remote.BaseURL != "" {
		slog.Info("Using record store", "baseUrl", cfg.Remote.BaseURL, "identity", identity)
		app.client = httpapi.NewClient(cfg.Remote.BaseURL, identity)
		container = app.client
	} else {
		slog.Info("No remote.baseUrl configured, using embedded in-memory store")
		app.svc = memstore.New()
		container = app.svc.Container(identity)
	}

	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	localState := state.NewFileStore(dataDir)

	exec := remote.NewExecutor(uint(cfg.Remote.GetMaxAttempts()), cfg.Remote.GetInitialBackoff())
	privateZone := remote.ZoneID{Name: remote.DefaultZoneName, Owner: identity}

	app.coord = share.New(container, localState, privateZone,
		share.WithExecutor(exec),
		share.WithDiscoverDelay(cfg.Sync.GetDiscoverBaseDelay()))
	gw := gateway.New(container, app.coord, privateZone, exec)
	syncedStore := store.New(gw)

	app.controller = controller.New(container, app.coord, gw, syncedStore, localState, controller.Config{
		VerifyAttempts:         cfg.Sync.GetVerifyAttempts(),
		VerifyBaseDelay:        cfg.Sync.GetVerifyBaseDelay(),
		DeleteSettleDelay:      cfg.Sync.GetDeleteSettleDelay(),
		DiscoverAttempts:       cfg.Sync.GetDiscoverAttempts(),
		NotifyDiscoverAttempts: cfg.Sync.GetNotifyDiscoverAttempts(),
	})

	if err := migrate.New(gw, syncedStore, localState).Run(ctx); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	if err := app.controller.Start(ctx); err != nil {
		return nil, fmt.Errorf("sync startup failed: %w", err)
	}
	return app, nil
}

func (a *syncApp) close() {
	a.controller.Stop()
}

// waitChanges blocks until the record store's revision exceeds since.
func (a *syncApp) waitChanges(ctx context.Context, since int64) (int64, error) {
	if a.client != nil {
		return a.client.WaitChanges(ctx, since)
	}
	return a.svc.WaitChange(ctx, since)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newSyncApp(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	slog.Info("Sync daemon started",
		"phase", app.controller.SharePhase(),
		"tasks", len(app.controller.Tasks()),
		"members", len(app.controller.Members()))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return app.followChanges(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Sync daemon stopped")
	return nil
}

// followChanges drives the controller off the record store's change feed.
func (a *syncApp) followChanges(ctx context.Context) error {
	var since int64
	for {
		rev, err := a.waitChanges(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Change feed interrupted, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		since = rev

		if err := a.controller.OnRemoteChange(ctx); err != nil {
			slog.Warn("Failed to apply remote change", "revision", rev, "error", err)
			continue
		}
		slog.Debug("Applied remote change", "revision", rev, "tasks", len(a.controller.Tasks()))
	}
}
