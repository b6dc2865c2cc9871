package validator

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/sensorgate/internal/sensor"
)

// Code identifies the rule that decided a submission. Codes are stable and
// safe to use as metric labels; reasons are for people.
type Code string

const (
	CodeAccepted     Code = "accepted"
	CodeInvalidJSON  Code = "invalid_json"
	CodeUnauthorized Code = "unauthorized"
	CodeReplay       Code = "replay"
	CodeDecryption   Code = "decryption_failed"
	CodeSignature    Code = "signature_failed"
	CodeUnknownType  Code = "unknown_type"
	CodeMissingField Code = "missing_field"
	CodePHOutOfRange Code = "ph_range"
)

// Fixed rejection reasons.
const (
	ReasonInvalidJSON  = "Invalid JSON format in payload"
	ReasonUnauthorized = "Sensor not authorized"
	ReasonReplay       = "Replay attack detected"
	ReasonDecryption   = "Decryption failed"
	ReasonSignature    = "ECC signature verification failed"
)

// AcceptedMessage is the success text of an accepted submission.
const AcceptedMessage = "Sensor data accepted"

// Result is the outcome of one submission.
type Result struct {
	Accepted bool
	Code     Code
	Reason   string

	// Data is the parsed payload of an accepted submission. Numbers are
	// json.Number so they round-trip unchanged.
	Data map[string]any
}

func accepted(data map[string]any) Result {
	return Result{Accepted: true, Code: CodeAccepted, Data: data}
}

func rejected(code Code, reason string) Result {
	return Result{Code: code, Reason: reason}
}

// MarshalJSON renders the wire shape:
// {"success": "Sensor data accepted", "data": {...}} or {"error": "<reason>"}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Accepted {
		data := r.Data
		if data == nil {
			data = map[string]any{}
		}
		return json.Marshal(struct {
			Success string         `json:"success"`
			Data    map[string]any `json:"data"`
		}{AcceptedMessage, data})
	}
	return json.Marshal(struct {
		Error string `json:"error"`
	}{r.Reason})
}

// String returns the success text or the rejection reason.
func (r Result) String() string {
	if r.Accepted {
		return AcceptedMessage
	}
	return r.Reason
}

// MissingFieldReason formats the missing-field rejection.
func MissingFieldReason(field string) string {
	return "Missing sensor field: " + field
}

// UnknownTypeReason formats the unknown-type rejection.
func UnknownTypeReason(t sensor.Type) string {
	return "Unknown sensor type: " + string(t)
}

// PHRangeReason formats the pH rejection. value is the submitted value as
// text; bounds print in shortest decimal form.
func PHRangeReason(value string, r sensor.Range) string {
	return fmt.Sprintf("Invalid pH range: %s (expected %s–%s)", value, formatFloat(r.Min), formatFloat(r.Max))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
