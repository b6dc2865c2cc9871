package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/sensorgate/internal/ledger"
	"github.com/roach88/sensorgate/internal/seal"
	"github.com/roach88/sensorgate/internal/sensor"
)

// Submission is one reading offered for admission.
type Submission struct {
	SensorType sensor.Type
	SensorID   string
	Nonce      string
	Payload    string

	// Timestamp is when the sensor produced the reading. Only consulted
	// when a maximum clock skew is configured.
	Timestamp *time.Time
}

// Observer is notified of every decided submission.
type Observer interface {
	ObserveSubmission(code Code, elapsed time.Duration)
}

// Validator applies the admission rules. Safe for concurrent use.
type Validator struct {
	catalog  *sensor.Catalog
	ledger   ledger.Ledger
	unsealer seal.Unsealer
	now      func() time.Time
	maxSkew  time.Duration
	observer Observer
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithUnsealer sets the integrity stage. Default: seal.Markers.
func WithUnsealer(u seal.Unsealer) Option {
	return func(v *Validator) {
		v.unsealer = u
	}
}

// WithClock sets the time source used for ledger timestamps and the
// freshness check.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// WithMaxClockSkew rejects submissions whose timestamp is missing or farther
// than d from the current time. Zero (the default) disables the check.
func WithMaxClockSkew(d time.Duration) Option {
	return func(v *Validator) {
		v.maxSkew = d
	}
}

// WithObserver registers an observer for decided submissions.
func WithObserver(o Observer) Option {
	return func(v *Validator) {
		v.observer = o
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = l
	}
}

// New creates a Validator over catalog and led.
func New(catalog *sensor.Catalog, led ledger.Ledger, opts ...Option) *Validator {
	v := &Validator{
		catalog:  catalog,
		ledger:   led,
		unsealer: seal.Markers{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Catalog returns the catalog the validator checks against.
func (v *Validator) Catalog() *sensor.Catalog {
	return v.catalog
}

// Ledger returns the replay ledger.
func (v *Validator) Ledger() ledger.Ledger {
	return v.ledger
}

// Validate decides one submission. See the package documentation for the
// rule order. A non-nil error means the ledger could not be consulted; the
// Result is then meaningless.
func (v *Validator) Validate(ctx context.Context, sub Submission) (Result, error) {
	start := time.Now()
	res, err := v.validate(ctx, sub)
	if err != nil {
		v.logger.Error("ledger failure",
			"sensor_id", sub.SensorID,
			"nonce", sub.Nonce,
			"error", err,
		)
		return Result{}, err
	}

	if v.observer != nil {
		v.observer.ObserveSubmission(res.Code, time.Since(start))
	}
	if res.Accepted {
		v.logger.Info("submission accepted",
			"sensor_type", string(sub.SensorType),
			"sensor_id", sub.SensorID,
			"nonce", sub.Nonce,
		)
	} else {
		v.logger.Debug("submission rejected",
			"sensor_type", string(sub.SensorType),
			"sensor_id", sub.SensorID,
			"code", string(res.Code),
			"reason", res.Reason,
		)
	}
	return res, nil
}

func (v *Validator) validate(ctx context.Context, sub Submission) (Result, error) {
	raw := []byte(sub.Payload)

	// 1. Syntax.
	doc, ok := parseObject(raw)
	if !ok {
		return rejected(CodeInvalidJSON, ReasonInvalidJSON), nil
	}

	// 2. Identity.
	if !v.catalog.IsAuthorized(sub.SensorID) {
		return rejected(CodeUnauthorized, ReasonUnauthorized), nil
	}

	// 3. Replay.
	seen, err := v.ledger.Seen(ctx, sub.Nonce)
	if err != nil {
		return Result{}, fmt.Errorf("check nonce: %w", err)
	}
	if seen {
		return rejected(CodeReplay, ReasonReplay), nil
	}
	if !v.fresh(sub.Timestamp) {
		return rejected(CodeReplay, ReasonReplay), nil
	}

	// 4-5. Integrity.
	plaintext, err := v.unsealer.Unseal(sub.SensorID, raw)
	switch {
	case errors.Is(err, seal.ErrSignature):
		return rejected(CodeSignature, ReasonSignature), nil
	case err != nil:
		return rejected(CodeDecryption, ReasonDecryption), nil
	}
	if !bytes.Equal(plaintext, raw) {
		if doc, ok = parseObject(plaintext); !ok {
			return rejected(CodeInvalidJSON, ReasonInvalidJSON), nil
		}
	}

	// 6-7. Fields.
	fields, ok := v.catalog.Fields(sub.SensorType)
	if !ok {
		return rejected(CodeUnknownType, UnknownTypeReason(sub.SensorType)), nil
	}
	phRange := v.catalog.PHRange()
	for _, f := range fields {
		val, present := doc[f]
		if !present {
			return rejected(CodeMissingField, MissingFieldReason(f)), nil
		}
		if !sensor.IsPHField(f) {
			continue
		}
		if n, ok := toFloat(val); !ok || !phRange.Contains(n) {
			return rejected(CodePHOutOfRange, PHRangeReason(valueText(val), phRange)), nil
		}
	}

	// 8. Admission.
	won, err := v.ledger.Claim(ctx, ledger.Entry{
		Nonce:      sub.Nonce,
		SensorID:   sub.SensorID,
		SensorType: sub.SensorType,
		AcceptedAt: v.now().UTC(),
		Digest:     ledger.Digest(plaintext),
	})
	if err != nil {
		return Result{}, fmt.Errorf("claim nonce: %w", err)
	}
	if !won {
		return rejected(CodeReplay, ReasonReplay), nil
	}
	return accepted(doc), nil
}

func (v *Validator) fresh(ts *time.Time) bool {
	if v.maxSkew <= 0 {
		return true
	}
	if ts == nil {
		return false
	}
	d := v.now().Sub(*ts)
	if d < 0 {
		d = -d
	}
	return d <= v.maxSkew
}

// parseObject decodes raw as a single JSON object. Numbers stay json.Number.
func parseObject(raw []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	obj, ok := doc.(map[string]any)
	return obj, ok
}

// toFloat reads a JSON number or a numeric string.
func toFloat(v any) (float64, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// valueText renders a submitted value for a rejection reason.
func valueText(v any) string {
	if f, ok := toFloat(v); ok {
		return formatFloat(f)
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
