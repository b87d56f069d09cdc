package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smazurov/camkit/internal/api/models"
	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/internal/metrics"
)

// mockCameraSource is a test implementation of CameraSource.
type mockCameraSource struct {
	cameras []models.CameraInfo
	devices []models.DeviceInfo
	err     error
}

func (m *mockCameraSource) Session() models.HealthData {
	return models.HealthData{SessionID: "session-1", Cameras: len(m.cameras)}
}

func (m *mockCameraSource) Cameras(_ context.Context) ([]models.CameraInfo, error) {
	return m.cameras, m.err
}

func (m *mockCameraSource) Devices(_ context.Context) ([]models.DeviceInfo, error) {
	return m.devices, m.err
}

func newTestSource() *mockCameraSource {
	return &mockCameraSource{
		cameras: []models.CameraInfo{
			{ID: "vivid-000-vid-cap", Pipeline: "vivid", State: "running"},
			{ID: "virtual-000-vid-cap", Pipeline: "virtual", State: "available"},
		},
		devices: []models.DeviceInfo{
			{Driver: "vivid", Model: "vivid", BusInfo: "platform:vivid-000", Acquired: true},
		},
	}
}

func get(t *testing.T, srv *Server, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
	}
	rec := httptest.NewRecorder()
	srv.GetMux().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	srv := NewServer(&Options{Cameras: newTestSource()})
	rec := get(t, srv, "/api/health", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body models.HealthData
	decode(t, rec, &body)
	if body.Status != "ok" || body.SessionID != "session-1" || body.Cameras != 2 {
		t.Errorf("unexpected health %+v", body)
	}
}

func TestCameraRoutes(t *testing.T) {
	srv := NewServer(&Options{Cameras: newTestSource()})

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:   "list",
			path:   "/api/cameras",
			status: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body models.CamerasData
				decode(t, rec, &body)
				if body.Count != 2 || body.Cameras[0].ID != "vivid-000-vid-cap" {
					t.Errorf("unexpected cameras %+v", body)
				}
			},
		},
		{
			name:   "get",
			path:   "/api/cameras/virtual-000-vid-cap",
			status: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body models.CameraInfo
				decode(t, rec, &body)
				if body.Pipeline != "virtual" || body.State != "available" {
					t.Errorf("unexpected camera %+v", body)
				}
			},
		},
		{name: "unknown", path: "/api/cameras/nope", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, tt.path, false)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.status, rec.Body)
			}
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestCamerasUnavailable(t *testing.T) {
	src := newTestSource()
	src.err = context.DeadlineExceeded
	srv := NewServer(&Options{Cameras: src})

	for _, path := range []string{"/api/cameras", "/api/devices"} {
		if rec := get(t, srv, path, false); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, rec.Code)
		}
	}
}

func TestNoCameraSource(t *testing.T) {
	srv := NewServer(&Options{})
	rec := get(t, srv, "/api/cameras", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body models.CamerasData
	decode(t, rec, &body)
	if body.Cameras == nil || body.Count != 0 {
		t.Errorf("want empty camera list, got %+v", body)
	}
}

func TestDevices(t *testing.T) {
	srv := NewServer(&Options{Cameras: newTestSource()})
	rec := get(t, srv, "/api/devices", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body models.DevicesData
	decode(t, rec, &body)
	if body.Count != 1 || !body.Devices[0].Acquired || body.Devices[0].Driver != "vivid" {
		t.Errorf("unexpected devices %+v", body)
	}
}

func TestLogsFilter(t *testing.T) {
	logger := logging.GetLogger("apitest")
	logger.Info("queued request", "cookie", 1)
	logger.Warn("buffer underrun")
	logger.Error("stream on failed")

	srv := NewServer(&Options{})
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"module", "?module=apitest", []string{"queued request", "buffer underrun", "stream on failed"}},
		{"level", "?module=apitest&level=warn", []string{"buffer underrun", "stream on failed"}},
		{"limit", "?module=apitest&limit=1", []string{"stream on failed"}},
		{"other module", "?module=nobody", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, "/api/logs"+tt.query, false)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
			}
			var body models.LogsData
			decode(t, rec, &body)
			if body.Count != len(tt.want) {
				t.Fatalf("count = %d, want %d", body.Count, len(tt.want))
			}
			for i, msg := range tt.want {
				if body.Entries[i].Message != msg {
					t.Errorf("entry %d = %q, want %q", i, body.Entries[i].Message, msg)
				}
			}
		})
	}

	if rec := get(t, srv, "/api/logs?level=verbose", false); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid level: status = %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	metrics.AddCamera("api-test-cam")
	t.Cleanup(func() { metrics.RemoveCamera("api-test-cam") })
	metrics.RecordRequest("api-test-cam", "complete")
	metrics.RecordFrame("api-test-cam", "success", 4096)

	srv := NewServer(&Options{})
	rec := get(t, srv, "/api/metrics", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body models.MetricsData
	decode(t, rec, &body)
	m := body.Cameras["api-test-cam"]
	if m == nil {
		t.Fatalf("camera missing from %s", rec.Body)
	}
	if m.Requests != 1 || m.Frames != 1 || m.Bytes != 4096 {
		t.Errorf("unexpected totals %+v", m)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	called := false
	srv := NewServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}),
	})
	if rec := get(t, srv, "/metrics", false); rec.Code != http.StatusOK || !called {
		t.Errorf("status = %d, handler called %v", rec.Code, called)
	}
}

func TestBasicAuth(t *testing.T) {
	srv := NewServer(&Options{AuthUsername: "admin", AuthPassword: "secret", Cameras: newTestSource()})

	if rec := get(t, srv, "/api/health", false); rec.Code != http.StatusOK {
		t.Errorf("health without credentials: status = %d", rec.Code)
	}

	rec := get(t, srv, "/api/cameras", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("cameras without credentials: status = %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	if rec := get(t, srv, "/api/cameras", true); rec.Code != http.StatusOK {
		t.Errorf("cameras with credentials: status = %d", rec.Code)
	}

	wrong := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	wrong.SetBasicAuth("admin", "guess")
	wrec := httptest.NewRecorder()
	srv.GetMux().ServeHTTP(wrec, wrong)
	if wrec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d", wrec.Code)
	}

	query := "/api/cameras?auth=" + base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	if rec := get(t, srv, query, false); rec.Code != http.StatusOK {
		t.Errorf("query credentials: status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(&Options{})
	req := httptest.NewRequest(http.MethodOptions, "/api/cameras", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	srv.GetMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
