package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/sensorgate/internal/ledger"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s nonce=%q -> %s\n", event.Step, event.SensorType, event.SensorID, event.Nonce, event.Code)
	}

	return buf.String()
}

// assertLedger checks whether the nonce is claimed.
func assertLedger(ctx context.Context, led ledger.Ledger, assertion Assertion, want bool) error {
	seen, err := led.Seen(ctx, assertion.Nonce)
	if err != nil {
		return fmt.Errorf("%s: %w", assertion.Type, err)
	}
	if seen == want {
		return nil
	}
	expected, actual := "claimed", "not claimed"
	if !want {
		expected, actual = actual, expected
	}
	return &AssertionError{
		Type:     assertion.Type,
		Expected: fmt.Sprintf("nonce %q %s", assertion.Nonce, expected),
		Actual:   actual,
	}
}

// assertLedgerCount checks the number of claimed nonces.
func assertLedgerCount(ctx context.Context, led ledger.Ledger, assertion Assertion) error {
	n, err := led.Len(ctx)
	if err != nil {
		return fmt.Errorf("ledger_count: %w", err)
	}
	if n != assertion.Count {
		return &AssertionError{
			Type:     AssertLedgerCount,
			Expected: fmt.Sprintf("%d claimed nonces", assertion.Count),
			Actual:   fmt.Sprintf("%d claimed nonces", n),
		}
	}
	return nil
}

// assertCodeCount checks that the code appears exactly the specified number of times.
func assertCodeCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Code == assertion.Code {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCodeCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Code),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertCodeOrder checks that the codes appear in the trace in order.
// Codes don't need to be consecutive (intervening decisions are allowed).
func assertCodeOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Codes) && event.Code == assertion.Codes[next] {
			next++
		}
	}
	if next == len(assertion.Codes) {
		return nil
	}

	return &AssertionError{
		Type:     AssertCodeOrder,
		Expected: fmt.Sprintf("codes in order: %v", assertion.Codes),
		Actual:   fmt.Sprintf("%s not found after %v", assertion.Codes[next], assertion.Codes[:next]),
		Trace:    trace,
	}
}

// matchData checks if actual contains all expected keys (subset match).
// Extra keys in actual are ignored.
func matchData(actual map[string]any, expected map[string]interface{}) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares a decoded payload value with a YAML value.
// Payload numbers are json.Number and compare numerically.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	if n, ok := actual.(json.Number); ok {
		a, err := n.Float64()
		if err != nil {
			return false
		}
		switch e := expected.(type) {
		case int:
			return a == float64(e)
		case int64:
			return a == float64(e)
		case uint64:
			return a == float64(e)
		case float64:
			return a == e
		default:
			return false
		}
	}

	switch a := actual.(type) {
	case map[string]any:
		e, ok := expected.(map[string]interface{})
		if !ok || len(a) != len(e) {
			return false
		}
		return matchData(a, e)
	case []any:
		e, ok := expected.([]interface{})
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range a {
			if !valuesEqual(a[i], e[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(actual, expected)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ledger ledger.Ledger
	Ctx    context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides ledger access for ledger assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCodeCount:
			err = assertCodeCount(result.Trace, assertion)
		case AssertCodeOrder:
			err = assertCodeOrder(result.Trace, assertion)
		case AssertLedgerContains, AssertLedgerAbsent, AssertLedgerCount:
			if actx == nil || actx.Ledger == nil {
				err = fmt.Errorf("assertion[%d]: %s requires ledger context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertLedgerContains:
				err = assertLedger(actx.Ctx, actx.Ledger, assertion, true)
			case AssertLedgerAbsent:
				err = assertLedger(actx.Ctx, actx.Ledger, assertion, false)
			default:
				err = assertLedgerCount(actx.Ctx, actx.Ledger, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
