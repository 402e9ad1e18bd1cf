package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nullaxis/intibridge/internal/bridges/intiface"
	"github.com/nullaxis/intibridge/internal/device"
	"github.com/nullaxis/intibridge/internal/infrastructure/config"
	"github.com/nullaxis/intibridge/internal/infrastructure/logging"
)

// stubBridge scripts bridge behaviour per test.
type stubBridge struct {
	status    intiface.Status
	devices   []device.Device
	connected bool

	selectFn  func(uint32) (*device.Device, error)
	vibrateFn func(speed, position, duration *float64) (*intiface.CommandReceipt, error)
	stopFn    func(*uint32) error
	scanFn    func(*float64) error

	vibrateCalls int
	stopCalls    int
}

func (s *stubBridge) Status() intiface.Status  { return s.status }
func (s *stubBridge) Devices() []device.Device { return s.devices }
func (s *stubBridge) Connected() bool          { return s.connected }

func (s *stubBridge) SelectDevice(index uint32) (*device.Device, error) {
	if s.selectFn != nil {
		return s.selectFn(index)
	}
	return nil, device.ErrDeviceNotFound
}

func (s *stubBridge) Vibrate(speed, position, duration *float64) (*intiface.CommandReceipt, error) {
	s.vibrateCalls++
	if s.vibrateFn != nil {
		return s.vibrateFn(speed, position, duration)
	}
	return &intiface.CommandReceipt{ID: 1, DeviceIndex: 0, Speed: 0.5}, nil
}

func (s *stubBridge) Stop(index *uint32) error {
	s.stopCalls++
	if s.stopFn != nil {
		return s.stopFn(index)
	}
	return nil
}

func (s *stubBridge) Scan(timeout *float64) error {
	if s.scanFn != nil {
		return s.scanFn(timeout)
	}
	return nil
}

func newTestServer(t *testing.T, bridge *stubBridge) *Server {
	t.Helper()

	srv, err := New(Deps{
		Config: config.ServerConfig{Host: "127.0.0.1", Port: 3069},
		Defaults: config.DeviceConfig{
			DefaultSpeed:    0.5,
			DefaultPosition: 0.5,
		},
		Logger:  logging.Default(),
		Bridge:  bridge,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Bridge: &stubBridge{}}); err == nil {
		t.Error("New without logger returned nil error")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New without bridge returned nil error")
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubBridge{connected: true})

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["connected"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestStatusAlwaysSucceeds(t *testing.T) {
	bridge := &stubBridge{status: intiface.Status{
		ConnectionState: "reconnecting",
		LastError:       "connection refused",
		Devices:         []intiface.DeviceStatus{},
		PendingCommands: []intiface.PendingCommand{},
	}}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even while disconnected", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["connection_state"] != "reconnecting" {
		t.Errorf("connection_state = %v", body["connection_state"])
	}
	if body["last_error"] != "connection refused" {
		t.Errorf("last_error = %v", body["last_error"])
	}
}

func TestListDevices(t *testing.T) {
	bridge := &stubBridge{status: intiface.Status{
		DeviceCount: 1,
		Devices: []intiface.DeviceStatus{
			{Index: 2, Name: "Lovense Edge", Active: true, VibratorCount: 2, SupportsPosition: true},
		},
	}}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodGet, "/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestSelectDevice(t *testing.T) {
	bridge := &stubBridge{
		selectFn: func(index uint32) (*device.Device, error) {
			if index != 3 {
				return nil, device.ErrDeviceNotFound
			}
			return &device.Device{Index: 3, Name: "Toy"}, nil
		},
	}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodPost, "/device", `{"index":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["name"] != "Toy" {
		t.Errorf("body = %v", body)
	}
}

func TestSelectDeviceErrors(t *testing.T) {
	srv := newTestServer(t, &stubBridge{})

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"unknown index", `{"index":9}`, http.StatusNotFound, ErrCodeDeviceNotFound},
		{"missing index", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"not json", `index=3`, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/device", tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if body := decodeBody(t, rec); body["code"] != tc.wantErr {
				t.Errorf("code = %v, want %s", body["code"], tc.wantErr)
			}
		})
	}
}

func TestVibratePassesParameters(t *testing.T) {
	var gotSpeed, gotPosition, gotDuration *float64
	bridge := &stubBridge{
		vibrateFn: func(speed, position, duration *float64) (*intiface.CommandReceipt, error) {
			gotSpeed, gotPosition, gotDuration = speed, position, duration
			return &intiface.CommandReceipt{ID: 7, Speed: *speed}, nil
		},
	}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodGet, "/vibrate?speed=0.8&position=0.3&duration=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if gotSpeed == nil || *gotSpeed != 0.8 {
		t.Errorf("speed = %v, want 0.8", gotSpeed)
	}
	if gotPosition == nil || *gotPosition != 0.3 {
		t.Errorf("position = %v, want 0.3", gotPosition)
	}
	if gotDuration == nil || *gotDuration != 5 {
		t.Errorf("duration = %v, want 5", gotDuration)
	}
}

func TestVibrateOmittedParametersStayNil(t *testing.T) {
	var gotSpeed, gotPosition *float64
	called := false
	bridge := &stubBridge{
		vibrateFn: func(speed, position, duration *float64) (*intiface.CommandReceipt, error) {
			called = true
			gotSpeed, gotPosition = speed, position
			return &intiface.CommandReceipt{}, nil
		},
	}
	srv := newTestServer(t, bridge)

	doRequest(t, srv, http.MethodGet, "/vibrate", "")
	if !called {
		t.Fatal("bridge was never called")
	}
	if gotSpeed != nil || gotPosition != nil {
		t.Errorf("speed = %v position = %v, want both nil", gotSpeed, gotPosition)
	}
}

func TestVibrateEmptyPositionTakesDefault(t *testing.T) {
	var gotPosition *float64
	bridge := &stubBridge{
		vibrateFn: func(_, position, _ *float64) (*intiface.CommandReceipt, error) {
			gotPosition = position
			return &intiface.CommandReceipt{}, nil
		},
	}
	srv := newTestServer(t, bridge)

	doRequest(t, srv, http.MethodGet, "/vibrate?position=", "")
	if gotPosition == nil || *gotPosition != 0.5 {
		t.Errorf("position = %v, want configured default 0.5", gotPosition)
	}
}

func TestVibrateRejectsNonNumericParameter(t *testing.T) {
	bridge := &stubBridge{}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodGet, "/vibrate?speed=fast", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != ErrCodeInvalidParameter {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeInvalidParameter)
	}
	if bridge.vibrateCalls != 0 {
		t.Error("a rejected request must not reach the bridge")
	}
}

func TestVibrateErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"not connected", intiface.ErrNotConnected, http.StatusConflict, ErrCodeNotConnected},
		{"no active device", device.ErrNoActiveDevice, http.StatusConflict, ErrCodeNoActiveDevice},
		{"unsupported capability", intiface.ErrUnsupportedCapability, http.StatusUnprocessableEntity, ErrCodeUnsupportedCapability},
		{"invalid parameter", intiface.ErrInvalidParameter, http.StatusUnprocessableEntity, ErrCodeInvalidParameter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bridge := &stubBridge{
				vibrateFn: func(_, _, _ *float64) (*intiface.CommandReceipt, error) {
					return nil, tc.err
				},
			}
			srv := newTestServer(t, bridge)

			rec := doRequest(t, srv, http.MethodGet, "/vibrate?speed=0.5", "")
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if body := decodeBody(t, rec); body["code"] != tc.wantErr {
				t.Errorf("code = %v, want %s", body["code"], tc.wantErr)
			}
		})
	}
}

func TestStopAlwaysSucceeds(t *testing.T) {
	bridge := &stubBridge{}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodGet, "/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "stopped" {
		t.Errorf("body = %v", body)
	}
	if bridge.stopCalls != 1 {
		t.Errorf("stop calls = %d, want 1", bridge.stopCalls)
	}
}

func TestScan(t *testing.T) {
	var gotTimeout *float64
	bridge := &stubBridge{
		scanFn: func(timeout *float64) error {
			gotTimeout = timeout
			return nil
		},
	}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodGet, "/scan?timeout=4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotTimeout == nil || *gotTimeout != 4 {
		t.Errorf("timeout = %v, want 4", gotTimeout)
	}
}

func TestScanWhileDisconnected(t *testing.T) {
	bridge := &stubBridge{
		scanFn: func(*float64) error { return intiface.ErrNotConnected },
	}
	srv := newTestServer(t, bridge)

	rec := doRequest(t, srv, http.MethodGet, "/scan", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != ErrCodeNotConnected {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeNotConnected)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &stubBridge{})

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response has no X-Request-ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want the caller's id echoed", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubBridge{})

	req := httptest.NewRequest(http.MethodOptions, "/vibrate", nil)
	req.Header.Set("Origin", "http://localhost:8000")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRootRedirectsToUI(t *testing.T) {
	srv := newTestServer(t, &stubBridge{})

	rec := doRequest(t, srv, http.MethodGet, "/", "")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/ui/" {
		t.Errorf("Location = %q, want /ui/", got)
	}
}
