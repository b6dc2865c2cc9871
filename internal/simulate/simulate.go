// Package simulate drives the validator with generated sensor traffic.
//
// Every round sends one reading from each authorized sensor. With a fault
// rate above zero, some submissions are deliberately broken (replayed nonce,
// missing field, pH out of range, tamper or forged-signature marker, unknown
// identity) so every rejection path sees traffic.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/roach88/sensorgate/internal/seal"
	"github.com/roach88/sensorgate/internal/sensor"
	"github.com/roach88/sensorgate/internal/validator"
)

// Fault is a deliberate defect injected into a submission.
type Fault string

const (
	FaultNone         Fault = ""
	FaultReplay       Fault = "replay"
	FaultMissingField Fault = "missing_field"
	FaultPHRange      Fault = "ph_range"
	FaultTamper       Fault = "tamper"
	FaultForgedSig    Fault = "fakesign"
	FaultUnknownID    Fault = "unknown_id"
)

var faults = []Fault{FaultReplay, FaultMissingField, FaultPHRange, FaultTamper, FaultForgedSig, FaultUnknownID}

// UnknownSensorID is the identity used for FaultUnknownID.
const UnknownSensorID = "Unknown_99"

// Options configure a Simulator.
type Options struct {
	// Seed makes the generated traffic reproducible.
	Seed uint64

	// FaultRate is the probability in [0, 1] that a submission carries a fault.
	FaultRate float64

	// Nonces defaults to UUIDv7Generator.
	Nonces NonceGenerator

	// Now stamps submissions. Defaults to time.Now.
	Now func() time.Time

	// Seal, when set, wraps each payload for the sealed integrity mode.
	// Tamper and forged-signature faults then corrupt the envelope instead
	// of planting a marker.
	Seal func(sensorID string, plaintext []byte) ([]byte, error)
}

// Simulator generates submissions and feeds them to a validator.
type Simulator struct {
	v      *validator.Validator
	rng    *rand.Rand
	opts   Options
	sensor map[string]sensor.Type
	ids    []string

	lastNonce string
}

// New creates a Simulator. Authorized identities whose type cannot be
// derived from their name are skipped.
func New(v *validator.Validator, opts Options) *Simulator {
	if opts.Nonces == nil {
		opts.Nonces = UUIDv7Generator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Simulator{
		v:      v,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		opts:   opts,
		sensor: make(map[string]sensor.Type),
	}
	cat := v.Catalog()
	for _, id := range cat.Authorized() {
		if t, ok := TypeForSensor(cat, id); ok {
			s.sensor[id] = t
			s.ids = append(s.ids, id)
		}
	}
	return s
}

// TypeForSensor derives a sensor type from an identity such as "Atmo_01":
// the part before the first underscore, case-folded, must prefix exactly
// one type name.
func TypeForSensor(cat *sensor.Catalog, id string) (sensor.Type, bool) {
	prefix, _, _ := strings.Cut(id, "_")
	prefix = strings.ToLower(prefix)
	if prefix == "" {
		return "", false
	}
	var match sensor.Type
	n := 0
	for _, t := range cat.Types() {
		if strings.HasPrefix(string(t), prefix) {
			match = t
			n++
		}
	}
	return match, n == 1
}

// Sensors returns the simulated identities in allow-list order.
func (s *Simulator) Sensors() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Outcome is one simulated submission and its decision.
type Outcome struct {
	Submission validator.Submission
	Fault      Fault
	Result     validator.Result
}

// Report tallies a simulation run.
type Report struct {
	Total    int                    `json:"total"`
	Accepted int                    `json:"accepted"`
	Rejected int                    `json:"rejected"`
	ByCode   map[validator.Code]int `json:"by_code"`
	ByFault  map[Fault]int          `json:"by_fault,omitempty"`
}

// Run sends rounds rounds of traffic. observe, if non-nil, sees every
// outcome in order. It stops early on a ledger failure or when ctx is done.
func (s *Simulator) Run(ctx context.Context, rounds int, observe func(Outcome)) (Report, error) {
	rep := Report{ByCode: make(map[validator.Code]int), ByFault: make(map[Fault]int)}
	for r := 0; r < rounds; r++ {
		for _, id := range s.ids {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			sub, fault, err := s.next(id)
			if err != nil {
				return rep, err
			}
			res, err := s.v.Validate(ctx, sub)
			if err != nil {
				return rep, fmt.Errorf("validate %s: %w", id, err)
			}

			rep.Total++
			rep.ByCode[res.Code]++
			if fault != FaultNone {
				rep.ByFault[fault]++
			}
			if res.Accepted {
				rep.Accepted++
				s.lastNonce = sub.Nonce
			} else {
				rep.Rejected++
			}
			if observe != nil {
				observe(Outcome{Submission: sub, Fault: fault, Result: res})
			}
		}
	}
	return rep, nil
}

// next builds the submission for id, possibly with a fault.
func (s *Simulator) next(id string) (validator.Submission, Fault, error) {
	typ := s.sensor[id]
	cat := s.v.Catalog()
	fields, _ := cat.Fields(typ)
	ph := cat.PHRange()

	payload := make(map[string]any, len(fields)+1)
	for k, v := range Reading(s.rng, fields, ph) {
		payload[k] = v
	}

	now := s.opts.Now()
	sub := validator.Submission{
		SensorType: typ,
		SensorID:   id,
		Nonce:      s.opts.Nonces.Generate(),
		Timestamp:  &now,
	}

	fault := FaultNone
	if s.opts.FaultRate > 0 && s.rng.Float64() < s.opts.FaultRate {
		fault = faults[s.rng.IntN(len(faults))]
	}
	switch fault {
	case FaultReplay:
		if s.lastNonce == "" {
			fault = FaultNone
			break
		}
		sub.Nonce = s.lastNonce
	case FaultMissingField:
		delete(payload, fields[s.rng.IntN(len(fields))])
	case FaultPHRange:
		phField := ""
		for _, f := range fields {
			if sensor.IsPHField(f) {
				phField = f
			}
		}
		if phField == "" {
			fault = FaultNone
			break
		}
		payload[phField] = round(ph.Max+1+s.rng.Float64()*3, 2)
	case FaultTamper:
		if s.opts.Seal == nil {
			payload["note"] = seal.TamperMarker
		}
	case FaultForgedSig:
		if s.opts.Seal == nil {
			payload["note"] = seal.ForgedSignatureMarker
		}
	case FaultUnknownID:
		sub.SensorID = UnknownSensorID
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return validator.Submission{}, FaultNone, fmt.Errorf("encode payload: %w", err)
	}
	if s.opts.Seal != nil {
		// Unknown identities have no keys; seal as the real sensor.
		if b, err = s.opts.Seal(id, b); err != nil {
			return validator.Submission{}, FaultNone, fmt.Errorf("seal payload for %s: %w", id, err)
		}
		if b, err = corruptEnvelope(b, fault); err != nil {
			return validator.Submission{}, FaultNone, err
		}
	}
	sub.Payload = string(b)
	return sub, fault, nil
}

// corruptEnvelope flips one byte of the ciphertext (FaultTamper) or the
// signature (FaultForgedSig). Other faults pass through.
func corruptEnvelope(raw []byte, fault Fault) ([]byte, error) {
	if fault != FaultTamper && fault != FaultForgedSig {
		return raw, nil
	}
	var env seal.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	target := env.Ciphertext
	if fault == FaultForgedSig {
		target = env.Signature
	}
	if len(target) > 0 {
		target[len(target)/2] ^= 0x01
	}
	return json.Marshal(env)
}
