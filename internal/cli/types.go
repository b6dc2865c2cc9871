package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/sensor"
)

// TypesOptions holds flags for the types command.
type TypesOptions struct {
	*RootOptions
	CatalogDir string
}

// NewTypesCommand creates the types command.
func NewTypesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TypesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "types",
		Short: "Show the sensor catalog",
		Long: `Show sensor types with their required fields and an example payload,
the authorized sensor identities and the pH bounds.

Example:
  sensorgate types
  sensorgate types --catalog ./catalog --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypes(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "directory of catalog .cue files (default: embedded)")

	return cmd
}

func runTypes(opts *TypesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	catalog, err := loadCatalog(opts.CatalogDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, catalogErrorCode(err), "failed to load catalog", err)
	}
	summary := catalog.Summarize()

	if formatter.Format == "json" {
		return formatter.Success(summary)
	}
	return writeCatalogText(cmd.OutOrStdout(), summary)
}

func writeCatalogText(w io.Writer, s sensor.Summary) error {
	fmt.Fprintln(w, "=== Sensor Types ===")
	for _, t := range s.Types {
		fmt.Fprintf(w, "  %s\n", t.Name)
		fmt.Fprintf(w, "    Fields:  %s\n", strings.Join(t.Fields, ", "))
		example, err := json.Marshal(t.Example)
		if err != nil {
			return fmt.Errorf("encode example for %s: %w", t.Name, err)
		}
		fmt.Fprintf(w, "    Example: %s\n", example)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Authorized Sensors ===")
	for _, id := range s.Authorized {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== pH Range ===")
	fmt.Fprintf(w, "  %g – %g\n", s.PHRange.Min, s.PHRange.Max)
	return nil
}
