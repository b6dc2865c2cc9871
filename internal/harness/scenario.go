package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is a directory of catalog .cue files. Empty selects the
	// embedded catalog. Relative paths resolve against the scenario file.
	Catalog string `yaml:"catalog,omitempty"`

	// MaxClockSkew enables the timestamp freshness check when positive.
	MaxClockSkew time.Duration `yaml:"max_clock_skew,omitempty"`

	// Setup contains submissions that establish ledger state.
	// Each must be accepted.
	Setup []SubmitStep `yaml:"setup,omitempty"`

	// Flow contains the submissions under test.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final ledger and the trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SubmitStep describes one submission.
type SubmitStep struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`

	// Nonce is generated when nil. An explicit empty nonce is legal.
	Nonce *string `yaml:"nonce,omitempty"`

	// Payload is sent verbatim. Mutually exclusive with Fields.
	Payload string `yaml:"payload,omitempty"`

	// Fields is encoded as a JSON object payload.
	Fields map[string]interface{} `yaml:"fields,omitempty"`

	// Advance moves the harness clock forward before the submission.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Skew, when set, stamps the submission at clock time plus Skew.
	// Without it the submission carries no timestamp.
	Skew *time.Duration `yaml:"skew,omitempty"`
}

// FlowStep is a submission with an optional expectation.
type FlowStep struct {
	SubmitStep `yaml:",inline"`

	// Expect specifies the expected decision.
	// If nil, the decision is only traced.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected decision.
type ExpectClause struct {
	// Outcome is "accepted" or "rejected".
	Outcome string `yaml:"outcome"`

	// Code is the expected decision code (e.g. "replay"). Optional.
	Code string `yaml:"code,omitempty"`

	// Reason is the exact expected rejection reason. Optional.
	Reason string `yaml:"reason,omitempty"`

	// Data is a subset of the expected accepted payload. Optional.
	Data map[string]interface{} `yaml:"data,omitempty"`
}

// Assertion validates the final ledger or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Nonce is used by ledger_contains and ledger_absent.
	Nonce string `yaml:"nonce,omitempty"`

	// Code is used by code_count.
	Code string `yaml:"code,omitempty"`

	// Count is used by ledger_count and code_count.
	Count int `yaml:"count,omitempty"`

	// Codes is the expected order for code_order.
	Codes []string `yaml:"codes,omitempty"`
}

// Expected outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Assertion type constants.
const (
	AssertLedgerContains = "ledger_contains"
	AssertLedgerAbsent   = "ledger_absent"
	AssertLedgerCount    = "ledger_count"
	AssertCodeCount      = "code_count"
	AssertCodeOrder      = "code_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative catalog path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}
	if scenario.Catalog != "" {
		if _, err := os.Stat(scenario.Catalog); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: catalog directory not found: %s", scenario.Catalog)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML. Catalog paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if s.MaxClockSkew < 0 {
		return fmt.Errorf("max_clock_skew must not be negative")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), &step); err != nil {
			return err
		}
	}

	for i, step := range s.Flow {
		where := fmt.Sprintf("flow[%d]", i)
		if err := validateStep(where, &step.SubmitStep); err != nil {
			return err
		}
		if step.Expect != nil {
			if err := validateExpect(where, step.Expect); err != nil {
				return err
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(where string, step *SubmitStep) error {
	if step.ID == "" {
		return fmt.Errorf("%s: id is required", where)
	}
	if step.Payload != "" && step.Fields != nil {
		return fmt.Errorf("%s: payload and fields are mutually exclusive", where)
	}
	if step.Advance < 0 {
		return fmt.Errorf("%s: advance must not be negative", where)
	}
	return nil
}

func validateExpect(where string, e *ExpectClause) error {
	switch e.Outcome {
	case OutcomeAccepted:
		if e.Reason != "" {
			return fmt.Errorf("%s.expect: reason is only valid for rejected outcomes", where)
		}
	case OutcomeRejected:
		if e.Data != nil {
			return fmt.Errorf("%s.expect: data is only valid for accepted outcomes", where)
		}
	case "":
		return fmt.Errorf("%s.expect: outcome is required", where)
	default:
		return fmt.Errorf("%s.expect: outcome must be %q or %q, got %q", where, OutcomeAccepted, OutcomeRejected, e.Outcome)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLedgerContains, AssertLedgerAbsent:
		// An empty nonce is a legal nonce.
	case AssertLedgerCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_count", index)
		}
	case AssertCodeCount:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for code_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for code_count", index)
		}
	case AssertCodeOrder:
		if len(a.Codes) == 0 {
			return fmt.Errorf("assertions[%d]: codes list is required for code_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// payloadText returns the submission payload of step.
func (s *SubmitStep) payloadText() (string, error) {
	if s.Fields == nil {
		return s.Payload, nil
	}
	b, err := json.Marshal(s.Fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(b), nil
}
