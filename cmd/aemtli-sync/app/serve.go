package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aemtliapp/aemtli-sync/internal/remote/httpapi"
	"github.com/aemtliapp/aemtli-sync/internal/remote/memstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a record-store server",
	Long: `Start a standalone record-store server backed by in-process storage.

Clients point their remote.baseUrl at it and sync against it like against
the managed backend. Intended for development and integration testing.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	// Write timeout must exceed the change-feed long-poll window.
	serverWriteTimeout = 30 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8484", "Address to listen on")
	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	serveCmd.Flags().Duration("propagation-delay", 0, "Artificial query-index lag for testing sync behavior")
	if err := viper.BindPFlag("propagation-delay", serveCmd.Flags().Lookup("propagation-delay")); err != nil {
		slog.Error("Failed to bind propagation-delay flag", "error", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	address := viper.GetString("address")

	var opts []memstore.Option
	if delay := viper.GetDuration("propagation-delay"); delay > 0 {
		slog.Info("Simulating query-index propagation lag", "delay", delay)
		opts = append(opts, memstore.WithPropagationDelay(delay))
	}
	svc := memstore.New(opts...)

	server := &http.Server{
		Addr:         address,
		Handler:      httpapi.NewRouter(svc),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Record store listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
