package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/config"
	"github.com/roach88/sensorgate/internal/httpapi"
	"github.com/roach88/sensorgate/internal/metrics"
	"github.com/roach88/sensorgate/internal/validator"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Listen     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the submission gateway",
		Long: `Start the HTTP submission gateway.

Without --config the gateway uses the embedded sensor catalog, an in-memory
replay ledger and the marker integrity stage. With a config file, the file is
hashed at start and watched; any later change is logged as tampering.

Example:
  sensorgate serve
  sensorgate serve --config ./sensorgate.yaml --listen 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	catalog, err := loadCatalog(cfg.CatalogDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, catalogErrorCode(err), "failed to load catalog", err)
	}

	led, closeLedger, err := openLedger(cfg.Ledger.Path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}
	defer func() {
		if closeErr := closeLedger(); closeErr != nil {
			logger.Error("error closing ledger", "error", closeErr)
		}
	}()

	unsealer, err := buildUnsealer(cfg.Integrity.Mode, cfg.Integrity.KeyDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeKeys, "failed to load integrity keys", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	m := metrics.New()
	v := validator.New(catalog, led,
		validator.WithUnsealer(unsealer),
		validator.WithMaxClockSkew(cfg.MaxClockSkew),
		validator.WithObserver(m),
		validator.WithLogger(logger),
	)
	if n, err := led.Len(ctx); err == nil {
		m.SetLedgerEntries(n)
	}

	if cfg.Watch() && cfg.Path() != "" {
		if err := startTamperWatch(ctx, cfg.Path(), m, logger); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to watch config", err)
		}
	}

	serverOpts := []httpapi.ServerOption{httpapi.WithMetrics(m), httpapi.WithLogger(logger)}
	if cfg.RateLimit.Requests > 0 {
		serverOpts = append(serverOpts, httpapi.WithRateLimiter(httpapi.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)))
	}
	server := httpapi.NewServer(v, serverOpts...)

	logger.Info("gateway starting",
		"listen", cfg.Listen,
		"integrity", cfg.Integrity.Mode,
		"ledger", ledgerLabel(cfg.Ledger.Path),
		"sensor_types", len(catalog.Types()),
		"rate_limit", cfg.RateLimit.Requests,
	)
	if err := server.ListenAndServe(ctx, cfg.Listen); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeServe, "server error", err)
	}

	logger.Info("gateway stopped gracefully")
	return nil
}

func startTamperWatch(ctx context.Context, path string, m *metrics.Metrics, logger *slog.Logger) error {
	w, err := config.NewTamperWatcher(path, func(string, string, string) {
		m.ConfigTampered()
	}, logger)
	if err != nil {
		return err
	}
	logger.Debug("watching config", "path", path, "sha256", w.Baseline())
	go w.Run(ctx)
	return nil
}

func ledgerLabel(path string) string {
	if path == "" {
		return "memory"
	}
	return fmt.Sprintf("sqlite:%s", path)
}
