package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensorgate/internal/ledger"
	"github.com/roach88/sensorgate/internal/metrics"
	"github.com/roach88/sensorgate/internal/sensor"
	"github.com/roach88/sensorgate/internal/store"
	"github.com/roach88/sensorgate/internal/validator"
)

const soilPayload = `{"moisture": 45, "temperature": 22, "pH": 6.8, "nitrogen": 20, "phosphorus": 1}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...ServerOption) (*httptest.Server, *ledger.Memory) {
	t.Helper()
	led := ledger.NewMemory()
	v := validator.New(sensor.Default(), led, validator.WithLogger(discardLogger()))
	opts = append([]ServerOption{WithLogger(discardLogger())}, opts...)
	srv := httptest.NewServer(NewServer(v, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, led
}

func postSubmit(t *testing.T, srv *httptest.Server, req SubmitRequest) (*http.Response, []byte) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return postRaw(t, srv, body)
}

func postRaw(t *testing.T, srv *httptest.Server, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/sensor/submit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func stringPayload(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestSubmit_Accepted(t *testing.T) {
	srv, led := newTestServer(t)

	resp, body := postSubmit(t, srv, SubmitRequest{
		SensorType: "soil",
		SensorID:   "Soil_01",
		Nonce:      "n-1",
		Payload:    stringPayload(soilPayload),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	newGoldie(t).Assert(t, "submit_accepted", body)

	_, ok := led.Get("n-1")
	assert.True(t, ok)
}

func TestSubmit_Rejected(t *testing.T) {
	srv, led := newTestServer(t)

	resp, body := postSubmit(t, srv, SubmitRequest{
		SensorType: "soil",
		SensorID:   "Soil_01",
		Nonce:      "n-1",
		Payload:    stringPayload(`{"moisture": 45, "temperature": 22, "pH": 5.0, "nitrogen": 20, "phosphorus": 1}`),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	newGoldie(t).Assert(t, "submit_ph_rejected", body)

	n, _ := led.Len(context.Background())
	assert.Zero(t, n)
}

func TestSubmit_ReplayOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	req := SubmitRequest{SensorType: "soil", SensorID: "Soil_01", Nonce: "dup", Payload: stringPayload(soilPayload)}

	resp, _ := postSubmit(t, srv, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postSubmit(t, srv, req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.JSONEq(t, `{"error": "Replay attack detected"}`, string(body))
}

func TestSubmit_ObjectPayload(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postSubmit(t, srv, SubmitRequest{
		SensorType: "soil",
		SensorID:   "Soil_01",
		Nonce:      "obj",
		Payload:    json.RawMessage(soilPayload),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestSubmit_MissingPayloadIsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postRaw(t, srv, []byte(`{"sensorType": "soil", "sensorId": "Soil_01", "nonce": "x"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.JSONEq(t, `{"error": "Invalid JSON format in payload"}`, string(body))
}

func TestSubmit_BadRequestBody(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{`{not json`, `[]`, `{"sensorType": 5}`, `{"timestamp": "yesterday"}`} {
		resp, out := postRaw(t, srv, []byte(body))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.JSONEq(t, `{"error": "invalid request body"}`, string(out))
	}
}

func TestSubmit_BodyTooLarge(t *testing.T) {
	v := validator.New(sensor.Default(), ledger.NewMemory(), validator.WithLogger(discardLogger()))
	h := NewServer(v, WithLogger(discardLogger())).Handler()

	big := `{"payload": "` + strings.Repeat("a", MaxBodyBytes+1) + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sensor/submit", strings.NewReader(big)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sensor/submit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSubmit_RateLimited(t *testing.T) {
	m := metrics.New()
	srv, _ := newTestServer(t, WithRateLimiter(NewRateLimiter(2, time.Minute)), WithMetrics(m))

	for i := 0; i < 2; i++ {
		resp, _ := postRaw(t, srv, []byte(`{}`))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	}
	resp, body := postRaw(t, srv, []byte(`{}`))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.JSONEq(t, `{"error": "rate limit exceeded"}`, string(body))

	expected := `
# HELP sensorgate_rate_limited_total Requests refused by the rate limiter.
# TYPE sensorgate_rate_limited_total counter
sensorgate_rate_limited_total 1
`
	assert.NoError(t, promtest.GatherAndCompare(m.Registry(), strings.NewReader(expected), "sensorgate_rate_limited_total"))
}

func TestSubmit_LedgerFailure(t *testing.T) {
	v := validator.New(sensor.Default(), failingLedger{}, validator.WithLogger(discardLogger()))
	srv := httptest.NewServer(NewServer(v, WithLogger(discardLogger())).Handler())
	defer srv.Close()

	resp, body := postSubmit(t, srv, SubmitRequest{
		SensorType: "soil",
		SensorID:   "Soil_01",
		Nonce:      "n",
		Payload:    stringPayload(soilPayload),
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error": "internal error"}`, string(body))
}

type failingLedger struct{}

func (failingLedger) Seen(context.Context, string) (bool, error) {
	return false, errors.New("disk full")
}
func (failingLedger) Claim(context.Context, ledger.Entry) (bool, error) {
	return false, errors.New("disk full")
}
func (failingLedger) Len(context.Context) (int, error) { return 0, errors.New("disk full") }

func TestTypes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sensor/types")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	newGoldie(t).Assert(t, "types", body)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestHealthz_PingsLedger(t *testing.T) {
	led := &pingingLedger{Memory: ledger.NewMemory()}
	v := validator.New(sensor.Default(), led, validator.WithLogger(discardLogger()))
	srv := httptest.NewServer(NewServer(v, WithLogger(discardLogger())).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, led.pings)

	led.err = errors.New("database is closed")
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"error": "ledger unavailable"}`, string(body))
}

func TestHealthz_ClosedStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	v := validator.New(sensor.Default(), st, validator.WithLogger(discardLogger()))
	h := NewServer(v, WithLogger(discardLogger())).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, st.Close())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type pingingLedger struct {
	*ledger.Memory
	pings int
	err   error
}

func (l *pingingLedger) Ping(context.Context) error {
	l.pings++
	return l.err
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	led := ledger.NewMemory()
	v := validator.New(sensor.Default(), led, validator.WithLogger(discardLogger()), validator.WithObserver(m))
	srv := httptest.NewServer(NewServer(v, WithMetrics(m), WithLogger(discardLogger())).Handler())
	defer srv.Close()

	resp, _ := postSubmit(t, srv, SubmitRequest{SensorType: "soil", SensorID: "Soil_01", Nonce: "m", Payload: stringPayload(soilPayload)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	text, _ := io.ReadAll(mresp.Body)
	assert.Contains(t, string(text), `sensorgate_submissions_total{outcome="accepted",reason="accepted"} 1`)
	assert.Contains(t, string(text), "sensorgate_ledger_entries 1")
}

func TestMetricsEndpoint_AbsentWithoutMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_GracefulShutdown(t *testing.T) {
	v := validator.New(sensor.Default(), ledger.NewMemory(), validator.WithLogger(discardLogger()))
	s := NewServer(v, WithLogger(discardLogger()), WithRateLimiter(NewRateLimiter(10, time.Minute)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestPayloadText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{``, ``},
		{`null`, ``},
		{`"{\"a\": 1}"`, `{"a": 1}`},
		{`{"a": 1}`, `{"a": 1}`},
		{` [1] `, `[1]`},
	}
	for _, tt := range tests {
		got, err := payloadText(json.RawMessage(tt.raw))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
