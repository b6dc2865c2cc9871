// Package seal verifies the integrity and authenticity of sensor payloads.
//
// An Unsealer turns the raw payload a sensor submitted into trusted plaintext,
// or fails with ErrDecryption or ErrSignature. Two implementations exist:
//
//   - Markers treats plaintext as trusted unless a string value carries a
//     failure marker. It exists to exercise the failure paths end to end and
//     is not a security mechanism.
//   - Sealed decrypts an AES-GCM envelope and verifies an ECDSA P-256
//     signature over the plaintext with the sensor's registered keys.
package seal

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Unseal failure classes. Implementations wrap one of these.
var (
	ErrDecryption = errors.New("decryption failed")
	ErrSignature  = errors.New("signature verification failed")
)

// Unsealer opens a raw payload submitted by sensorID.
type Unsealer interface {
	Unseal(sensorID string, raw []byte) ([]byte, error)
}

// Failure markers recognised by Markers.
const (
	TamperMarker          = "tamper"
	ForgedSignatureMarker = "fakesign"
)

// Markers simulates integrity failures. A payload whose string values contain
// TamperMarker fails decryption; one containing ForgedSignatureMarker fails
// signature verification. Tamper is checked first.
//
// Only string values are scanned, never keys, so a field named "tampering"
// does not trip the check. Payloads that are not valid JSON are scanned as
// raw text.
type Markers struct{}

// Unseal implements Unsealer. The plaintext is raw itself.
func (Markers) Unseal(_ string, raw []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return rawScan(raw)
	}

	var strs []string
	collectStrings(doc, &strs)
	for _, s := range strs {
		if strings.Contains(s, TamperMarker) {
			return nil, ErrDecryption
		}
	}
	for _, s := range strs {
		if strings.Contains(s, ForgedSignatureMarker) {
			return nil, ErrSignature
		}
	}
	return raw, nil
}

func rawScan(raw []byte) ([]byte, error) {
	if bytes.Contains(raw, []byte(TamperMarker)) {
		return nil, ErrDecryption
	}
	if bytes.Contains(raw, []byte(ForgedSignatureMarker)) {
		return nil, ErrSignature
	}
	return raw, nil
}

func collectStrings(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		*out = append(*out, val)
	case []any:
		for _, e := range val {
			collectStrings(e, out)
		}
	case map[string]any:
		for _, e := range val {
			collectStrings(e, out)
		}
	}
}
