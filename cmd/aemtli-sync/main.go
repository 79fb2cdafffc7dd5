// Package main is the entry point for the family task sync service.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/aemtliapp/aemtli-sync/cmd/aemtli-sync/app"
)

// getLogLevel parses the AEMTLI_LOG_LEVEL environment variable, falling back
// to LOG_LEVEL. Defaults to info when unset or invalid.
func getLogLevel() slog.Level {
	v := viper.New()
	v.SetEnvPrefix("AEMTLI")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
		return slog.LevelInfo
	}
}

func main() {
	// Log to stderr so stdout stays clean for commands that output data
	// (e.g., version --format json).
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: getLogLevel()})
	slog.SetDefault(slog.New(handler))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
