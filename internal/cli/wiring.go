package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/config"
	"github.com/roach88/sensorgate/internal/ledger"
	"github.com/roach88/sensorgate/internal/seal"
	"github.com/roach88/sensorgate/internal/sensor"
	"github.com/roach88/sensorgate/internal/store"
)

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// loadCatalog returns the embedded catalog for an empty dir.
func loadCatalog(dir string) (*sensor.Catalog, error) {
	if dir == "" {
		return sensor.Default(), nil
	}
	return sensor.LoadCatalog(dir)
}

// catalogErrorCode returns the LoadError code of err, if it has one.
func catalogErrorCode(err error) string {
	var loadErr *sensor.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeCatalog
}

// openLedger opens the SQLite ledger at path, or an in-memory ledger when
// path is empty. The returned close function is never nil.
func openLedger(path string) (ledger.Ledger, func() error, error) {
	if path == "" {
		return ledger.NewMemory(), func() error { return nil }, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

// buildUnsealer returns the integrity stage for mode.
func buildUnsealer(mode, keyDir string) (seal.Unsealer, error) {
	switch mode {
	case "", config.ModeMarkers:
		return seal.Markers{}, nil
	case config.ModeSealed:
		ring, err := seal.LoadKeyring(keyDir)
		if err != nil {
			return nil, err
		}
		if ring.Len() == 0 {
			return nil, fmt.Errorf("no sensor keys in %s", keyDir)
		}
		return seal.NewSealed(ring), nil
	default:
		return nil, fmt.Errorf("unknown integrity mode %q", mode)
	}
}

// signalContext derives a context from the command's context that is
// cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// readPayload returns the --payload text, or the contents of --payload-file.
func readPayload(payload, payloadFile string) (string, error) {
	switch {
	case payload != "" && payloadFile != "":
		return "", errors.New("--payload and --payload-file are mutually exclusive")
	case payloadFile == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	case payloadFile != "":
		b, err := os.ReadFile(payloadFile)
		if err != nil {
			return "", fmt.Errorf("read payload file: %w", err)
		}
		return string(b), nil
	}
	return payload, nil
}
