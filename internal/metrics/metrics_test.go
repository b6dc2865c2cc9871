package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensorgate/internal/validator"
)

func TestObserveSubmission(t *testing.T) {
	m := New()

	m.ObserveSubmission(validator.CodeAccepted, 2*time.Millisecond)
	m.ObserveSubmission(validator.CodeReplay, time.Millisecond)
	m.ObserveSubmission(validator.CodeReplay, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("accepted", "accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("rejected", "replay")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestGaugesAndCounters(t *testing.T) {
	m := New()

	m.SetLedgerEntries(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ledgerEntries))

	m.ConfigTampered()
	m.RateLimited()
	m.RateLimited()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configTamper))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rateLimited))
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not panic on duplicate registration.
	a, b := New(), New()
	a.ConfigTampered()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.configTamper))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSubmission(validator.CodeMissingField, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `sensorgate_submissions_total{outcome="rejected",reason="missing_field"} 1`), text)
	assert.Contains(t, text, "sensorgate_validation_seconds_bucket")
	assert.Contains(t, text, "go_goroutines")
}
