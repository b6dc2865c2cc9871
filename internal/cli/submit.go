package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/config"
	"github.com/roach88/sensorgate/internal/sensor"
	"github.com/roach88/sensorgate/internal/simulate"
	"github.com/roach88/sensorgate/internal/validator"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	SensorType  string
	SensorID    string
	Nonce       string
	Payload     string
	PayloadFile string
	Database    string
	CatalogDir  string
	Mode        string
	KeyDir      string

	// Nonces generates the nonce when --nonce is not given (for testing).
	// If nil, defaults to UUIDv7Generator.
	Nonces simulate.NonceGenerator
}

// SubmitResult is the JSON data of an accepted submission.
type SubmitResult struct {
	Message string         `json:"message"`
	Nonce   string         `json:"nonce"`
	Data    map[string]any `json:"data"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Validate one sensor submission",
		Long: `Validate one sensor submission and record its nonce when accepted.

Exit codes: 0 accepted, 1 rejected, 2 command error. Without --db the
ledger lives only for this command, so replay protection needs --db.

Example:
  sensorgate submit --type soil --id Soil_01 \
    --payload '{"moisture":45,"temperature":22,"pH":6.8,"nitrogen":20,"phosphorus":1}'
  sensorgate submit --db ./ledger.db --type water --id Water_01 --nonce n-42 --payload-file reading.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SensorType, "type", "", "sensor type (required)")
	cmd.Flags().StringVar(&opts.SensorID, "id", "", "sensor identity (required)")
	cmd.Flags().StringVar(&opts.Nonce, "nonce", "", "submission nonce (default: fresh UUIDv7)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload JSON text")
	cmd.Flags().StringVar(&opts.PayloadFile, "payload-file", "", "read payload from file (- for stdin)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (default: in-memory)")
	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "directory of catalog .cue files (default: embedded)")
	cmd.Flags().StringVar(&opts.Mode, "mode", config.ModeMarkers, "integrity mode (markers|sealed)")
	cmd.Flags().StringVar(&opts.KeyDir, "key-dir", config.DefaultKeyDir, "key directory for sealed mode")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logOut := io.Discard
	if opts.Verbose {
		logOut = formatter.GetErrWriter()
	}
	logger := newLogger(logOut, opts.Verbose)

	payload, err := readPayload(opts.Payload, opts.PayloadFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read payload", err)
	}

	catalog, err := loadCatalog(opts.CatalogDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, catalogErrorCode(err), "failed to load catalog", err)
	}

	unsealer, err := buildUnsealer(opts.Mode, opts.KeyDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeKeys, "failed to load integrity keys", err)
	}

	led, closeLedger, err := openLedger(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}
	defer closeLedger()

	nonce := opts.Nonce
	if !cmd.Flags().Changed("nonce") {
		gen := opts.Nonces
		if gen == nil {
			gen = simulate.UUIDv7Generator{}
		}
		nonce = gen.Generate()
	}
	formatter.VerboseLog("Submitting %s reading from %s (nonce %s)", opts.SensorType, opts.SensorID, nonce)

	v := validator.New(catalog, led,
		validator.WithUnsealer(unsealer),
		validator.WithLogger(logger),
	)
	ctx := cmd.Context()
	res, err := v.Validate(ctx, validator.Submission{
		SensorType: sensor.Type(opts.SensorType),
		SensorID:   opts.SensorID,
		Nonce:      nonce,
		Payload:    payload,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "ledger failure", err)
	}

	if !res.Accepted {
		return formatter.Fail(ExitFailure, string(res.Code), res.Reason, nil)
	}

	if formatter.Format == "json" {
		return formatter.Success(SubmitResult{
			Message: res.String(),
			Nonce:   nonce,
			Data:    res.Data,
		})
	}
	return formatter.Success(formatAccepted(opts.SensorID, nonce, res))
}

func formatAccepted(sensorID, nonce string, res validator.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", res.String())
	fmt.Fprintf(&b, "  Sensor: %s\n", sensorID)
	fmt.Fprintf(&b, "  Nonce:  %s\n", nonce)
	fmt.Fprintf(&b, "  Fields: %d", len(res.Data))
	return b.String()
}
