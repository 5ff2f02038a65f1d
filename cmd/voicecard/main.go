// Command voicecard serves voice-driven payment card enrollment.
//
// Usage:
//
//	voicecard [--config path] <command>
//
// Commands:
//
//	serve     - run the HTTP API and voice WebSocket server
//	migrate   - prepare the configured card store
//	simulate  - run an enrollment dialogue in the terminal
//	voices    - list the voices of the configured TTS provider
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicecard/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "voicecard:", err)
		os.Exit(1)
	}
}

// rootOptions carries the persistent flags and the shared log level, which
// the config watcher adjusts at runtime.
type rootOptions struct {
	configPath string
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{level: new(slog.LevelVar)}
	root := &cobra.Command{
		Use:           "voicecard",
		Short:         "Voice-driven payment card enrollment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.AddCommand(
		newServeCmd(o),
		newMigrateCmd(o),
		newSimulateCmd(o),
		newVoicesCmd(o),
	)
	return root
}

// load reads the config file and installs the default logger at its level.
// With optional set, a missing file at the default path yields the
// built-in defaults instead of an error.
func (o *rootOptions) load(cmd *cobra.Command, optional bool) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && optional && !cmd.Flags().Changed("config"):
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		if err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", o.configPath)
	default:
		return nil, err
	}

	o.level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.level})))
	return cfg, nil
}

func slogLevel(level config.LogLevel) slog.Level {
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
