package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellysabi/Sentry-IoT/internal/app"
	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

type fakeService struct {
	uploaded  string
	result    *domain.MitigationResult
	err       error
	alerts    []*domain.Alert
	limit     int
	blocked   map[string]bool
	lastAlert *domain.Alert
	panicOn   string
}

func (f *fakeService) Upload(_ context.Context, r io.Reader) (*domain.MitigationResult, error) {
	if f.panicOn == "upload" {
		panic("boom")
	}
	data, _ := io.ReadAll(r)
	f.uploaded = string(data)
	return f.result, f.err
}

func (f *fakeService) ExternalDataset(context.Context) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float64{0.1, 0.2}, nil
}

func (f *fakeService) Benchmark(_ context.Context, r io.Reader) (*domain.BenchmarkReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.BenchmarkReport{
		Rows:     1,
		Sequence: domain.ScorerReport{Accuracy: 1, Predictions: []float64{0}},
		Density:  domain.ScorerReport{Accuracy: 1, Predictions: []float64{0}},
	}, nil
}

func (f *fakeService) SimulateAlert(_ context.Context, addr string, details map[string]any) (*domain.Alert, error) {
	if addr == "" {
		return nil, domain.WrapInputError(domain.ErrUnknownAddress, "source_ip")
	}
	alert := domain.NewAlert(addr, 1.0, domain.OriginManual, details)
	f.lastAlert = alert
	if f.err != nil {
		return alert, &app.BlockError{Addr: addr, AlertID: alert.ID, Err: f.err}
	}
	return alert, nil
}

func (f *fakeService) Recent(_ context.Context, n int) ([]*domain.Alert, error) {
	f.limit = n
	return f.alerts, f.err
}

func (f *fakeService) IsBlocked(_ context.Context, addr string) (bool, error) {
	if addr == "bad" {
		return false, domain.NewInputError("bad address")
	}
	return f.blocked[addr], nil
}

func (f *fakeService) Unblock(_ context.Context, addr string) error {
	delete(f.blocked, addr)
	return f.err
}

func newTestServer(svc Service, opts Options) http.Handler {
	return NewServer(DefaultConfig(), svc, opts).Handler()
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && !strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "[") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func multipartCSV(t *testing.T, field, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "data.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload_Multipart(t *testing.T) {
	svc := &fakeService{result: &domain.MitigationResult{
		Scores:      []float64{0.1, 0.2, 0.95},
		Mitigations: []domain.Mitigation{{Row: 2, SourceIP: "10.0.0.5", Score: 0.95, Blocked: true}},
		Failures:    []domain.BlockFailure{},
	}}
	h := newTestServer(svc, Options{})

	body, ct := multipartCSV(t, "file", "temperature,source_ip\n1,10.0.0.5\n")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)

	rec, resp := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, []any{"10.0.0.5"}, resp["triggered_ips"])
	assert.Equal(t, []any{0.1, 0.2, 0.95}, resp["predictions"])
	assert.Equal(t, []any{}, resp["block_failures"])
	assert.Contains(t, svc.uploaded, "10.0.0.5")
}

func TestUpload_RawBody(t *testing.T) {
	svc := &fakeService{result: &domain.MitigationResult{Scores: []float64{}, Mitigations: []domain.Mitigation{}, Failures: []domain.BlockFailure{}}}
	h := newTestServer(svc, Options{})

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("temperature\n1\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec, resp := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, resp["triggered_ips"])
	assert.Equal(t, "temperature\n1\n", svc.uploaded)
}

func TestUpload_MissingFilePart(t *testing.T) {
	h := newTestServer(&fakeService{}, Options{})
	body, ct := multipartCSV(t, "other", "x\n")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)

	rec, resp := do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", resp["status"])
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"input", domain.NewInputError("duplicate column %q", "a"), http.StatusBadRequest},
		{"store", errors.New("persist alert: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeService{err: tt.err}, Options{})
			rec, resp := do(t, h, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("a\n1\n")))
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "error", resp["status"])
			assert.NotEmpty(t, resp["message"])
		})
	}
}

func TestUpload_PanicRecovered(t *testing.T) {
	h := newTestServer(&fakeService{panicOn: "upload"}, Options{})
	rec, resp := do(t, h, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("a\n1\n")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", resp["status"])
}

func TestExternalDataset(t *testing.T) {
	rec, resp := do(t, newTestServer(&fakeService{}, Options{}), httptest.NewRequest(http.MethodGet, "/external-dataset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "External dataset loaded", resp["message"])
	assert.Equal(t, []any{0.1, 0.2}, resp["predictions"])

	rec, resp = do(t, newTestServer(&fakeService{err: errors.New("open external dataset: no such file")}, Options{}), httptest.NewRequest(http.MethodGet, "/external-dataset", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", resp["status"])
}

func TestBenchmarkRoute(t *testing.T) {
	rec, resp := do(t, newTestServer(&fakeService{}, Options{}), httptest.NewRequest(http.MethodPost, "/benchmark", strings.NewReader("a\n1\n")))
	require.Equal(t, http.StatusOK, rec.Code)

	bench := resp["benchmark"].(map[string]any)
	assert.Contains(t, bench, "deep_model")
	assert.Contains(t, bench, "traditional_model")
	assert.Equal(t, 1.0, bench["deep_model"].(map[string]any)["accuracy"])
}

func TestSimulateAlert(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, Options{})

	req := httptest.NewRequest(http.MethodPost, "/simulate-alert", strings.NewReader(`{"source_ip":"10.0.0.9","alert_details":{"reason":"test"}}`))
	rec, resp := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alert processed", resp["status"])
	assert.Equal(t, "10.0.0.9", resp["source_ip"])
	assert.Equal(t, map[string]any{"reason": "test"}, resp["details"])
	assert.Equal(t, svc.lastAlert.ID, resp["alert_id"])
}

func TestSimulateAlert_Errors(t *testing.T) {
	h := newTestServer(&fakeService{}, Options{})
	rec, _ := do(t, h, httptest.NewRequest(http.MethodPost, "/simulate-alert", strings.NewReader(`{not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodPost, "/simulate-alert", strings.NewReader(`{"alert_details":{}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc := &fakeService{err: errors.New("iptables: permission denied")}
	rec, resp := do(t, newTestServer(svc, Options{}), httptest.NewRequest(http.MethodPost, "/simulate-alert", strings.NewReader(`{"source_ip":"10.0.0.9"}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, svc.lastAlert.ID, resp["alert_id"])
}

func TestAlerts(t *testing.T) {
	svc := &fakeService{alerts: []*domain.Alert{
		domain.NewAlert("10.0.0.2", 0.9, domain.OriginModel, nil),
		domain.NewAlert("10.0.0.1", 0.85, domain.OriginModel, nil),
	}}
	h := newTestServer(svc, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 2)
	assert.Equal(t, "10.0.0.2", alerts[0]["source_ip"])
	assert.Equal(t, 5, svc.limit)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	assert.Zero(t, svc.limit)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlerts_EmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeService{}, Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestBlocks(t *testing.T) {
	svc := &fakeService{blocked: map[string]bool{"10.0.0.7": true}}
	h := newTestServer(svc, Options{})

	rec, resp := do(t, h, httptest.NewRequest(http.MethodGet, "/blocks/10.0.0.7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["blocked"])

	rec, _ = do(t, h, httptest.NewRequest(http.MethodDelete, "/blocks/10.0.0.7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.blocked["10.0.0.7"])

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/blocks/bad", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	h := newTestServer(&fakeService{}, Options{Model: func() any { return map[string]bool{"fallback": true} }})

	rec, resp := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", resp["status"])

	rec, resp = do(t, h, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"fallback": true}, resp["model"])
}

func TestNotFoundEnvelope(t *testing.T) {
	rec, resp := do(t, newTestServer(&fakeService{}, Options{}), httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", resp["status"])
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&fakeService{}, Options{})
	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
