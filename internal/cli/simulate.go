package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sensorgate/internal/config"
	"github.com/roach88/sensorgate/internal/seal"
	"github.com/roach88/sensorgate/internal/simulate"
	"github.com/roach88/sensorgate/internal/validator"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Rounds     int
	Seed       uint64
	FaultRate  float64
	Database   string
	CatalogDir string
	KeyDir     string
}

// SimulateResult is the simulate command output.
type SimulateResult struct {
	Rounds  int             `json:"rounds"`
	Seed    uint64          `json:"seed"`
	Sensors []string        `json:"sensors"`
	Sealed  bool            `json:"sealed"`
	Report  simulate.Report `json:"report"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run generated sensor traffic through the validator",
		Long: `Generate readings for every authorized sensor and validate them.

Each round sends one reading per sensor. With --fault-rate above zero, some
submissions carry a deliberate defect so every rejection rule sees traffic.
With --key-dir, readings are sealed with the sensors' own keys and checked
in sealed mode.

Example:
  sensorgate simulate --count 10 --seed 42
  sensorgate simulate --count 100 --fault-rate 0.2 --db ./ledger.db
  sensorgate simulate --key-dir ./keys --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Rounds, "count", 10, "number of rounds")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed (default: time-based)")
	cmd.Flags().Float64Var(&opts.FaultRate, "fault-rate", 0.1, "probability that a submission carries a fault")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (default: in-memory)")
	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "directory of catalog .cue files (default: embedded)")
	cmd.Flags().StringVar(&opts.KeyDir, "key-dir", "", "key directory; enables sealed mode")

	return cmd
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Rounds < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "--count must not be negative", nil)
	}
	if opts.FaultRate < 0 || opts.FaultRate > 1 {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "--fault-rate must be within [0, 1]", nil)
	}
	seed := opts.Seed
	if !cmd.Flags().Changed("seed") {
		seed = uint64(time.Now().UnixNano())
	}

	catalog, err := loadCatalog(opts.CatalogDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, catalogErrorCode(err), "failed to load catalog", err)
	}

	led, closeLedger, err := openLedger(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}
	defer closeLedger()

	logOut := io.Discard
	if opts.Verbose {
		logOut = formatter.GetErrWriter()
	}
	vopts := []validator.Option{validator.WithLogger(newLogger(logOut, opts.Verbose))}
	simOpts := simulate.Options{
		Seed:      seed,
		FaultRate: opts.FaultRate,
	}

	sealed := opts.KeyDir != ""
	if sealed {
		unsealer, err := buildUnsealer(config.ModeSealed, opts.KeyDir)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeKeys, "failed to load integrity keys", err)
		}
		secrets := make(map[string]seal.SensorSecrets)
		for _, id := range catalog.Authorized() {
			s, err := seal.LoadSecrets(opts.KeyDir, id)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeKeys, fmt.Sprintf("failed to load secrets for %s", id), err)
			}
			secrets[id] = s
		}
		vopts = append(vopts, validator.WithUnsealer(unsealer))
		simOpts.Seal = func(id string, plaintext []byte) ([]byte, error) {
			return seal.Seal(secrets[id], plaintext)
		}
	}

	v := validator.New(catalog, led, vopts...)
	sim := simulate.New(v, simOpts)
	formatter.VerboseLog("Simulating %d round(s) for %d sensor(s), seed %d", opts.Rounds, len(sim.Sensors()), seed)

	rep, err := sim.Run(cmd.Context(), opts.Rounds, func(o simulate.Outcome) {
		fault := string(o.Fault)
		if fault == "" {
			fault = "-"
		}
		formatter.VerboseLog("  %-10s fault=%-13s %s", o.Submission.SensorID, fault, o.Result.String())
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "simulation aborted", err)
	}

	result := SimulateResult{
		Rounds:  opts.Rounds,
		Seed:    seed,
		Sensors: sim.Sensors(),
		Sealed:  sealed,
		Report:  rep,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	writeSimulateText(cmd.OutOrStdout(), result)
	return nil
}

func writeSimulateText(w io.Writer, r SimulateResult) {
	mode := config.ModeMarkers
	if r.Sealed {
		mode = config.ModeSealed
	}
	fmt.Fprintf(w, "Simulation: %d round(s), %d sensor(s), seed %d, %s mode\n", r.Rounds, len(r.Sensors), r.Seed, mode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Outcomes ===")
	fmt.Fprintf(w, "  Total:    %d\n", r.Report.Total)
	fmt.Fprintf(w, "  Accepted: %d\n", r.Report.Accepted)
	fmt.Fprintf(w, "  Rejected: %d\n", r.Report.Rejected)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== By Rule ===")
	codes := make([]string, 0, len(r.Report.ByCode))
	for c := range r.Report.ByCode {
		codes = append(codes, string(c))
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %-18s %d\n", c, r.Report.ByCode[validator.Code(c)])
	}

	if len(r.Report.ByFault) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Injected Faults ===")
	faults := make([]string, 0, len(r.Report.ByFault))
	for f := range r.Report.ByFault {
		faults = append(faults, string(f))
	}
	sort.Strings(faults)
	for _, f := range faults {
		fmt.Fprintf(w, "  %-18s %d\n", f, r.Report.ByFault[simulate.Fault(f)])
	}
}
