package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/99souls/carbonscheduler/internal/registry"
	"github.com/99souls/carbonscheduler/internal/session"
	"github.com/99souls/carbonscheduler/internal/telemetry/health"
	"github.com/99souls/carbonscheduler/internal/telemetry/logging"
	"github.com/99souls/carbonscheduler/internal/telemetry/metrics"
)

func testConfig() session.Config {
	cfg := session.Defaults()
	cfg.ValidFor = time.Second
	cfg.Flavours = []flavour.Profile{{Name: "A", Precision: 1.0, Enabled: true}}
	return cfg
}

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	recorder := metrics.NewRecorder(metrics.NewNoopProvider())
	logger := logging.NewFromLevel("ERROR")
	reg := registry.New(recorder, logger, "")
	t.Cleanup(reg.CloseAll)
	evaluator := health.NewEvaluator(time.Second)
	s := New(reg, evaluator, logger, "default", "default")
	return s, reg
}

func TestPutConfigRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/config/ns/name", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutConfigRejectsInvalidValues(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"targetError": 2.0})
	req := httptest.NewRequest(http.MethodPut, "/config/ns/name", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutConfigAcceptsValidBody(t *testing.T) {
	s, reg := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"flavours": []map[string]any{{"name": "A", "precision": 100, "carbonIntensity": 200}},
		"validFor": 1,
	})
	req := httptest.NewRequest(http.MethodPut, "/config/ns/name", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := reg.Get("ns", "name")
	require.NoError(t, err)
}

func TestGetScheduleUnknownReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/schedule/ns/missing", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetScheduleKnownSessionReturns202Or200(t *testing.T) {
	s, reg := newTestServer(t)
	cfg := testConfig()
	cfg.ValidFor = time.Hour
	reg.UpdateConfig("ns", "pending", cfg)

	req := httptest.NewRequest(http.MethodGet, "/schedule/ns/pending", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Contains(t, []int{http.StatusAccepted, http.StatusOK}, w.Code)
}

func TestPostManualInstallsOverride(t *testing.T) {
	s, reg := newTestServer(t)
	reg.UpdateConfig("ns", "manual", testConfig())

	body, _ := json.Marshal(map[string]any{"flavourWeights": map[string]int{"A": 100}})
	req := httptest.NewRequest(http.MethodPost, "/schedule/ns/manual/manual", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	snap, pending, found := reg.Latest("ns", "manual")
	require.True(t, found)
	require.False(t, pending)
	require.True(t, snap.Manual)
}

func TestPostManualUnknownSessionReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"flavourWeights": map[string]int{"A": 100}})
	req := httptest.NewRequest(http.MethodPost, "/schedule/ns/missing/manual", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostManualRejectsPastValidUntil(t *testing.T) {
	s, reg := newTestServer(t)
	reg.UpdateConfig("ns", "pastvalid", testConfig())

	body, _ := json.Marshal(map[string]any{
		"flavourWeights": map[string]int{"A": 100},
		"validUntil":     time.Now().Add(-time.Minute).Format(time.RFC3339),
	})
	req := httptest.NewRequest(http.MethodPost, "/schedule/ns/pastvalid/manual", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthzReturnsOverallStatus(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "overall")
}
