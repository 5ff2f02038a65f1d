package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicecard/internal/app"
	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/internal/observe"
	"github.com/MrWong99/voicecard/internal/resilience"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and voice WebSocket server",
		Long: `Run the enrollment server.

The enrollment section and the log level are reloaded when the config file
changes; other sections take effect after a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, false)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), o, cfg)
		},
	}
}

func serve(ctx context.Context, o *rootOptions, cfg *config.Config) error {
	slog.Info("voicecard starting",
		"version", version,
		"config", o.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, func(name string, from, to resilience.State) {
		metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
	})
	if err != nil {
		return err
	}

	fmt.Println(startupSummary(os.Stdout, cfg))

	a, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler),
	)
	if err != nil {
		return err
	}

	w, err := config.NewWatcher(o.configPath, func(_, next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			o.level.Set(slogLevel(d.NewLogLevel))
		}
		if err := a.ApplyConfig(next, d); err != nil {
			slog.Error("config reload failed", "err", err)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer w.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	runErr := a.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	slog.Info("stopping")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
