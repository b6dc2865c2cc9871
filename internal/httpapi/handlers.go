package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/roach88/sensorgate/internal/sensor"
	"github.com/roach88/sensorgate/internal/validator"
)

// Error bodies of non-validation failures.
const (
	errBadRequest  = "invalid request body"
	errRateLimited = "rate limit exceeded"
	errInternal    = "internal error"
	errLedgerDown  = "ledger unavailable"
)

// pinger is implemented by ledgers backed by a database.
type pinger interface {
	Ping(ctx context.Context) error
}

// SubmitRequest is the body of POST /api/sensor/submit.
//
// Payload is normally the raw payload text as a JSON string. A JSON object
// is also accepted and validated as its own text.
type SubmitRequest struct {
	SensorType string          `json:"sensorType"`
	SensorID   string          `json:"sensorId"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
		if s.metrics != nil {
			s.metrics.RateLimited()
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{errRateLimited})
		return
	}

	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{errBadRequest})
		return
	}
	payload, err := payloadText(req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{errBadRequest})
		return
	}

	res, err := s.validator.Validate(r.Context(), validator.Submission{
		SensorType: sensor.Type(req.SensorType),
		SensorID:   req.SensorID,
		Nonce:      req.Nonce,
		Payload:    payload,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{errInternal})
		return
	}

	if !res.Accepted {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	s.refreshLedgerGauge(r)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.validator.Catalog().Summarize())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.validator.Ledger().(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("ledger ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{errLedgerDown})
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) refreshLedgerGauge(r *http.Request) {
	if s.metrics == nil {
		return
	}
	n, err := s.validator.Ledger().Len(r.Context())
	if err != nil {
		s.logger.Warn("ledger size unavailable", "error", err)
		return
	}
	s.metrics.SetLedgerEntries(n)
}

// payloadText returns the payload as submitted text. A JSON string is
// unquoted; any other JSON value is used verbatim. An absent payload is
// empty text, which the validator rejects as invalid JSON.
func payloadText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] != '"' {
		return string(raw), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.New("payload is not a valid JSON string")
	}
	return s, nil
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
