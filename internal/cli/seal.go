package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/config"
	"github.com/roach88/sensorgate/internal/seal"
)

// SealOptions holds flags for the seal command.
type SealOptions struct {
	*RootOptions
	KeyDir      string
	SensorID    string
	Payload     string
	PayloadFile string
}

// NewSealCommand creates the seal command.
func NewSealCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SealOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Seal a payload as a sensor would",
		Long: `Encrypt and sign a payload with a sensor's secrets and print the
envelope, ready to pass to submit --mode sealed.

Example:
  sensorgate seal --key-dir ./keys --id Soil_01 --payload '{"moisture":45}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeyDir, "key-dir", config.DefaultKeyDir, "key directory")
	cmd.Flags().StringVar(&opts.SensorID, "id", "", "sensor identity (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload JSON text")
	cmd.Flags().StringVar(&opts.PayloadFile, "payload-file", "", "read payload from file (- for stdin)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runSeal(opts *SealOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	payload, err := readPayload(opts.Payload, opts.PayloadFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read payload", err)
	}

	secrets, err := seal.LoadSecrets(opts.KeyDir, opts.SensorID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeKeys, "failed to load sensor secrets", err)
	}

	envelope, err := seal.Seal(secrets, []byte(payload))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeKeys, "failed to seal payload", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(json.RawMessage(envelope))
	}
	return formatter.Success(string(envelope))
}
