package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/sensorgate/internal/ledger"
	"github.com/roach88/sensorgate/internal/sensor"
	"github.com/roach88/sensorgate/internal/testutil"
	"github.com/roach88/sensorgate/internal/validator"
)

// Harness is the scenario execution engine.
// It runs submissions with a fake clock and predictable nonces.
type Harness struct {
	validator *validator.Validator
	ledger    *ledger.Memory
	clock     *testutil.FakeClock
	nonces    *testutil.SequenceNonces
	logger    *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory ledger.
//
// Execution flow:
// 1. Load the catalog
// 2. Submit setup steps; each must be accepted
// 3. Submit flow steps, tracing and checking each decision
// 4. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	catalog := sensor.Default()
	if scenario.Catalog != "" {
		loaded, err := sensor.LoadCatalog(scenario.Catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		catalog = loaded
	}

	led := ledger.NewMemory()
	clock := testutil.NewFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs

	h := &Harness{
		validator: validator.New(catalog, led,
			validator.WithClock(clock.Now),
			validator.WithMaxClockSkew(scenario.MaxClockSkew),
			validator.WithLogger(logger),
		),
		ledger: led,
		clock:  clock,
		nonces: testutil.NewSequenceNonces("flow"),
		logger: logger,
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	n, err := led.Len(ctx)
	if err != nil {
		return nil, err
	}
	result.LedgerEntries = n

	actx := &AssertionContext{
		Ledger: led,
		Ctx:    ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSetup submits all setup steps. A rejection is an error.
func (h *Harness) executeSetup(ctx context.Context, setup []SubmitStep) error {
	for i, step := range setup {
		sub, err := h.submission(&step)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		res, err := h.validator.Validate(ctx, sub)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if !res.Accepted {
			return fmt.Errorf("setup step %d: submission rejected: %s", i, res.Reason)
		}
		h.logger.Info("setup step completed", "step", i, "nonce", sub.Nonce)
	}
	return nil
}

// executeFlow submits all flow steps and validates expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		sub, err := h.submission(&step.SubmitStep)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		res, err := h.validator.Validate(ctx, sub)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		event := TraceEvent{
			Step:       i,
			SensorType: step.Type,
			SensorID:   sub.SensorID,
			Nonce:      sub.Nonce,
			Code:       string(res.Code),
			Data:       res.Data,
		}
		if !res.Accepted {
			event.Reason = res.Reason
		}
		result.AddTrace(event)

		if step.Expect != nil {
			for _, msg := range checkExpect(i, step.Expect, res) {
				result.AddError(msg)
			}
		}

		h.logger.Info("flow step completed",
			"step", i,
			"nonce", sub.Nonce,
			"code", res.Code,
		)
	}
	return nil
}

// submission builds the validator input for step, advancing the clock first.
func (h *Harness) submission(step *SubmitStep) (validator.Submission, error) {
	payload, err := step.payloadText()
	if err != nil {
		return validator.Submission{}, err
	}

	if step.Advance > 0 {
		h.clock.Advance(step.Advance)
	}

	sub := validator.Submission{
		SensorType: sensor.Type(step.Type),
		SensorID:   step.ID,
		Payload:    payload,
	}
	if step.Nonce != nil {
		sub.Nonce = *step.Nonce
	} else {
		sub.Nonce = h.nonces.Generate()
	}
	if step.Skew != nil {
		ts := h.clock.Now().Add(*step.Skew)
		sub.Timestamp = &ts
	}
	return sub, nil
}

// checkExpect compares a decision with its expect clause.
func checkExpect(step int, want *ExpectClause, got validator.Result) []string {
	var errs []string
	outcome := OutcomeRejected
	if got.Accepted {
		outcome = OutcomeAccepted
	}
	if outcome != want.Outcome {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected %s, got %s (%s)", step, want.Outcome, outcome, got.String()))
		return errs
	}
	if want.Code != "" && want.Code != string(got.Code) {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected code %s, got %s", step, want.Code, got.Code))
	}
	if want.Reason != "" && want.Reason != got.Reason {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected reason %q, got %q", step, want.Reason, got.Reason))
	}
	if want.Data != nil && !matchData(got.Data, want.Data) {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected data %v, got %v", step, want.Data, got.Data))
	}
	return errs
}
