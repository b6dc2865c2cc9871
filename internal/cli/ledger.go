package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/ledger"
	"github.com/roach88/sensorgate/internal/store"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// LedgerReport is the ledger command output.
type LedgerReport struct {
	Total   int               `json:"total"`
	Entries []ledger.Entry    `json:"entries"`
	Stats   []store.TypeCount `json:"stats"`
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show accepted submissions in a ledger",
		Long: `Show the most recently accepted nonces of a SQLite replay ledger and
the number of accepted submissions per sensor type.

Example:
  sensorgate ledger --db ./ledger.db
  sensorgate ledger --db ./ledger.db --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of entries to list (0 for all)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLedger(opts *LedgerOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening would create an empty ledger; a typo should fail instead.
	if _, err := os.Stat(opts.Database); errors.Is(err, fs.ErrNotExist) {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "ledger not found", err)
	}
	if opts.Limit < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "--limit must not be negative", nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	total, err := st.Len(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to count entries", err)
	}
	entries, err := st.List(ctx, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to list entries", err)
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to compute stats", err)
	}

	report := LedgerReport{Total: total, Entries: entries, Stats: stats}
	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	writeLedgerText(cmd.OutOrStdout(), report)
	return nil
}

func writeLedgerText(w io.Writer, r LedgerReport) {
	fmt.Fprintf(w, "Ledger: %d accepted nonce(s)\n", r.Total)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Recent ===")
	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, e := range r.Entries {
		fmt.Fprintf(w, "  %s  %-10s %-12s %s\n",
			e.AcceptedAt.UTC().Format(time.RFC3339), e.SensorID, e.SensorType, e.Nonce)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Per Type ===")
	for _, s := range r.Stats {
		fmt.Fprintf(w, "  %-12s %d\n", s.SensorType, s.Accepted)
	}
}
