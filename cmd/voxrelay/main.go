// Command voxrelay serves a full-duplex speech model to browser clients over
// a websocket.
//
// Usage:
//
//	voxrelay [--config path] <command>
//
// Commands:
//
//	serve   - warm up the model and accept connections
//	bench   - measure per-frame model latency
//	version - print the build version
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voxrelay/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; ${VAR} references in the config resolve from it.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "voxrelay",
		Short:         "Real-time duplex speech relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newBenchCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "voxrelay", version)
		},
	}
}

// loadConfig loads path. A missing file is only an error when the user named
// it explicitly; otherwise the built-in defaults are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Info("no config file found, using defaults", "config", path)
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, nil
	default:
		return nil, err
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func levelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger returns a stderr text logger whose level follows lv, so a config
// reload can change verbosity without rebuilding handlers.
func newLogger(lv *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
