package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/config"
	"github.com/roach88/sensorgate/internal/seal"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Dir string
	IDs []string
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate sensor keys for sealed mode",
		Long: `Generate an AES-128 key and a P-256 signing key pair per sensor.

The gateway reads <id>.aes and <id>_pub.pem; the sensor keeps <id>.aes and
<id>_priv.pem. Existing key files are never overwritten.

Example:
  sensorgate keygen --dir ./keys --id Soil_01 --id Atmo_01`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", config.DefaultKeyDir, "key directory")
	cmd.Flags().StringSliceVar(&opts.IDs, "id", nil, "sensor identity (repeatable, required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	generated := make(map[string]seal.KeyPaths, len(opts.IDs))
	var lines []string
	for _, id := range opts.IDs {
		paths, err := seal.GenerateKeys(opts.Dir, id)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeKeys, fmt.Sprintf("failed to generate keys for %s", id), err)
		}
		formatter.VerboseLog("Generated keys for %s", id)
		generated[id] = paths
		lines = append(lines, fmt.Sprintf("  %s: %s, %s, %s", id, paths.AES, paths.Public, paths.Private))
	}

	if formatter.Format == "json" {
		return formatter.Success(generated)
	}
	return formatter.Success(fmt.Sprintf("Generated keys for %d sensor(s) in %s\n%s",
		len(opts.IDs), opts.Dir, strings.Join(lines, "\n")))
}
