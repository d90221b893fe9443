package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/conn/conntest"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/monitor"
	"smartweb-monitor/internal/store"
)

type testRig struct {
	srv *Server
	mon *monitor.Monitor
	tr  *conntest.Transport
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T, opts ...ServerOption) *testRig {
	t.Helper()
	logger := quietLogger()
	tr := conntest.NewTransport()
	mgr := conn.NewManager(conn.Options{
		Endpoint:          "ws://controller.test/ws",
		Transport:         tr,
		ReconnectInterval: time.Hour,
	}, logger)
	mon := monitor.New(mgr, ecs.NewEngine(logger), monitor.NewEventBus(logger),
		monitor.Options{AckTimeout: time.Second}, logger)
	srv, err := NewServer(mon, logger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		srv.Stop()
		mon.Close()
		mgr.Disconnect()
	})
	return &testRig{srv: srv, mon: mon, tr: tr}
}

func (r *testRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.srv.ServeHTTP(w, req)
	return w
}

func (r *testRig) connect(t *testing.T) *conntest.Socket {
	t.Helper()
	if err := r.mon.Conn().Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return r.tr.Last()
}

func (r *testRig) written() string {
	var all []string
	for _, s := range r.tr.Sockets() {
		all = append(all, s.Written()...)
	}
	return strings.Join(all, "\n")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestAPIStatusDisconnected(t *testing.T) {
	rig := setupTestServer(t)
	w := rig.do(t, "GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp statusResponse
	decode(t, w, &resp)
	if resp.Connection.Status != conn.StatusClosed {
		t.Errorf("connection status = %q", resp.Connection.Status)
	}
	if resp.Auth.LoggedIn {
		t.Error("logged in without login")
	}
}

func TestAPIDevicesAndCameras(t *testing.T) {
	rig := setupTestServer(t)
	sock := rig.connect(t)
	if w := rig.do(t, "POST", "/api/monitor/ecs/start", ""); w.Code != http.StatusOK {
		t.Fatalf("monitor start = %d %s", w.Code, w.Body)
	}
	sock.Deliver(`{"c":"changed","data":"ecs.slaves.m_AA_BB.connected","val":1}`)
	sock.Deliver(`{"c":"changed","data":"ecs.slaves.m_AA_BB.cam[0].name","val":"Gate"}`)
	waitFor(t, "camera", func() bool { return len(rig.mon.Engine().UniqueCameras()) == 1 })

	var devices []ecs.Device
	decode(t, rig.do(t, "GET", "/api/devices", ""), &devices)
	if len(devices) != 1 || devices[0].ID != "m_AA_BB" {
		t.Fatalf("devices = %+v", devices)
	}

	// MAC form resolves to the same device.
	w := rig.do(t, "GET", "/api/devices/AA:BB", "")
	if w.Code != http.StatusOK {
		t.Errorf("by mac = %d", w.Code)
	}
	if w := rig.do(t, "GET", "/api/devices/m_FF", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing device = %d, want 404", w.Code)
	}

	var cams []ecs.Camera
	decode(t, rig.do(t, "GET", "/api/cameras", ""), &cams)
	if len(cams) != 1 || cams[0].Name != "Gate" {
		t.Errorf("cameras = %+v", cams)
	}
	decode(t, rig.do(t, "GET", "/api/cameras/all", ""), &cams)
	if len(cams) != 1 {
		t.Errorf("all cameras = %+v", cams)
	}
}

func TestAPIEmptyCameraListIsArray(t *testing.T) {
	rig := setupTestServer(t)
	w := rig.do(t, "GET", "/api/cameras", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestAPICommandsRequireConnection(t *testing.T) {
	rig := setupTestServer(t)
	for _, path := range []string{"/api/cameras/Gate/snapshot", "/api/cameras/scan", "/api/monitor/system/start"} {
		if w := rig.do(t, "POST", path, ""); w.Code != http.StatusConflict {
			t.Errorf("%s = %d, want 409", path, w.Code)
		}
	}
	if w := rig.do(t, "POST", "/api/autoscan", `{"enabled":false}`); w.Code != http.StatusConflict {
		t.Errorf("autoscan = %d, want 409", w.Code)
	}
}

func TestAPICameraCommands(t *testing.T) {
	rig := setupTestServer(t)
	rig.connect(t)

	steps := []struct {
		method, path, body string
		want               string
	}{
		{"POST", "/api/autoscan", `{"enabled":false}`, "DO SETBOOL configuration.autoscan false"},
		{"POST", "/api/cameras/Gate/snapshot", "", `DO TAKESNAPSHOT "Gate"`},
		{"POST", "/api/groups", `{"group":"Yard"}`, `DO SCRIPT "add_camera_group.sh" "Yard"`},
		{"DELETE", "/api/groups/Yard", "", `DO SCRIPT "remove_camera_group.sh" "Yard"`},
		{"POST", "/api/cameras/Gate/groups", `{"group":"Yard"}`, `DO SCRIPT "add_group_to_cam.sh" "Gate" "Yard"`},
		{"POST", "/api/monitor/system/start", "", "DO MONITOR system"},
	}
	for _, st := range steps {
		w := rig.do(t, st.method, st.path, st.body)
		if w.Code != http.StatusOK {
			t.Errorf("%s %s = %d %s", st.method, st.path, w.Code, w.Body)
			continue
		}
		if !strings.Contains(rig.written(), st.want) {
			t.Errorf("%s %s: %q not written", st.method, st.path, st.want)
		}
	}
	if rig.mon.Engine().AutoScan() {
		t.Error("autoscan not mirrored locally")
	}
}

func TestAPIBadRequests(t *testing.T) {
	rig := setupTestServer(t)
	rig.connect(t)
	tests := []struct {
		method, path, body string
		want               int
	}{
		{"POST", "/api/autoscan", `{}`, http.StatusBadRequest},
		{"POST", "/api/autoscan", `nope`, http.StatusBadRequest},
		{"POST", "/api/groups", `{"group":""}`, http.StatusBadRequest},
		{"POST", "/api/command", `{"command":"LOGOUT\nDO REBOOT"}`, http.StatusBadRequest},
		{"POST", "/api/command", `{"command":"  "}`, http.StatusBadRequest},
		{"POST", "/api/login", `{"password":"x"}`, http.StatusBadRequest},
		{"POST", "/api/monitor/weather/start", "", http.StatusNotFound},
		{"GET", "/api/journal", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := rig.do(t, tt.method, tt.path, tt.body); w.Code != tt.want {
			t.Errorf("%s %s %s = %d, want %d", tt.method, tt.path, tt.body, w.Code, tt.want)
		}
	}
}

func TestAPIRawCommand(t *testing.T) {
	rig := setupTestServer(t)
	rig.connect(t)
	w := rig.do(t, "POST", "/api/command", `{"command":"DO MONITOR system"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	if !strings.Contains(rig.written(), "DO MONITOR system") {
		t.Errorf("written = %q", rig.written())
	}
}

func TestAPILogin(t *testing.T) {
	rig := setupTestServer(t)
	sock := rig.connect(t)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			for _, f := range sock.Written() {
				if strings.HasPrefix(f, "LOGIN ") {
					sock.Deliver(`{"c":"loginok","username":"admin","version":"4.2"}`)
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	w := rig.do(t, "POST", "/api/login", `{"username":"admin","password":"secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body)
	}
	var state monitor.AuthState
	decode(t, w, &state)
	if !state.LoggedIn || state.ServerVersion != "4.2" {
		t.Errorf("state = %+v", state)
	}

	if w := rig.do(t, "POST", "/api/logout", ""); w.Code != http.StatusOK {
		t.Errorf("logout = %d", w.Code)
	}
	if rig.mon.Auth.State().LoggedIn {
		t.Error("still logged in after logout")
	}
}

func TestAPILoginTimeout(t *testing.T) {
	rig := setupTestServer(t)
	rig.connect(t)
	w := rig.do(t, "POST", "/api/login", `{"username":"admin","password":"secret"}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestAPIConnectDisconnect(t *testing.T) {
	rig := setupTestServer(t)
	w := rig.do(t, "POST", "/api/connect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("connect = %d %s", w.Code, w.Body)
	}
	var stats conn.Stats
	decode(t, w, &stats)
	if stats.Status != conn.StatusOpen {
		t.Errorf("status after connect = %q", stats.Status)
	}

	decode(t, rig.do(t, "POST", "/api/disconnect", ""), &stats)
	if stats.Status != conn.StatusClosed {
		t.Errorf("status after disconnect = %q", stats.Status)
	}

	rig.tr.FailWith(&conn.CloseError{Code: 1006})
	if w := rig.do(t, "POST", "/api/connect", ""); w.Code != http.StatusBadGateway {
		t.Errorf("failed connect = %d, want 502", w.Code)
	}
}

func TestAPIJournal(t *testing.T) {
	j, err := store.OpenJournal(filepath.Join(t.TempDir(), "journal.db"), 100, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	for _, f := range []string{"f0", "f1", "f2", "f3", "f4"} {
		if _, err := j.Append(f); err != nil {
			t.Fatal(err)
		}
	}

	rig := setupTestServer(t, WithJournal(j))
	var resp struct {
		Total  int           `json:"total"`
		Frames []store.Frame `json:"frames"`
	}
	decode(t, rig.do(t, "GET", "/api/journal?limit=2", ""), &resp)
	if resp.Total != 5 || len(resp.Frames) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Frames[0].Text != "f3" || resp.Frames[1].Text != "f4" {
		t.Errorf("frames = %+v", resp.Frames)
	}
	if w := rig.do(t, "GET", "/api/journal?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	rig := setupTestServer(t, WithAPIKey("k3y"), WithVersion("1.2.3"))

	if w := rig.do(t, "GET", "/api/version", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/version", nil)
	req.Header.Set("X-API-Key", "k3y")
	w := httptest.NewRecorder()
	rig.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "1.2.3") {
		t.Errorf("with key = %d %s", w.Code, w.Body)
	}

	if w := rig.do(t, "GET", "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("metrics without key = %d, want 200", w.Code)
	}
}

func TestCORS(t *testing.T) {
	rig := setupTestServer(t, WithAllowedOrigins([]string{"http://ok.test"}))

	req := httptest.NewRequest("OPTIONS", "/api/autoscan", nil)
	req.Header.Set("Origin", "http://ok.test")
	w := httptest.NewRecorder()
	rig.srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://ok.test" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest("POST", "/api/disconnect", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	rig.srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin POST = %d, want 403", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rig := setupTestServer(t)
	w := rig.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`smartweb_connection_status{status="closed"} 1`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
