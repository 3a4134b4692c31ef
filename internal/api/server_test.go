package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/brianweld/scenecap/internal/capture"
	"github.com/brianweld/scenecap/internal/config"
	"github.com/brianweld/scenecap/internal/render"
	"github.com/brianweld/scenecap/internal/scene"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, *capture.TickBus) {
	t.Helper()

	scn := scene.NewMemoryScene()
	scn.AddCamera("/World/CamA", scene.DefaultOptics())

	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	if err := cfgMgr.SetOutputRoot(t.TempDir()); err != nil {
		t.Fatalf("set output root: %v", err)
	}

	bus := capture.NewTickBus()
	controller := capture.NewController(scn, render.NewSynthetic(scn), bus)

	s := NewServer(controller, scn, cfgMgr)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		controller.Stop()
		ts.Close()
	})
	return s, ts, bus
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestServer_ListCamerasAppliesDefaults(t *testing.T) {
	_, ts, _ := newTestServer(t)

	var specs []capture.CameraSpec
	getJSON(t, ts.URL+"/api/cameras", &specs)

	if len(specs) != 2 {
		t.Fatalf("expected viewport + user camera, got %d", len(specs))
	}
	var cam *capture.CameraSpec
	for i := range specs {
		if specs[i].ScenePath == "/World/CamA" {
			cam = &specs[i]
		}
	}
	if cam == nil {
		t.Fatal("user camera missing from listing")
	}
	if cam.Width != 640 || cam.Height != 480 || cam.FPS != 30 || cam.Mode != capture.ModeImages {
		t.Fatalf("config defaults not applied: %+v", cam)
	}
	if cam.DisplayName != "CamA" {
		t.Fatalf("display name not derived: %q", cam.DisplayName)
	}
}

func TestServer_UpdateCameraSettings(t *testing.T) {
	s, ts, _ := newTestServer(t)

	resp := doJSON(t, "PUT", ts.URL+"/api/cameras/CamA", map[string]interface{}{
		"fps":    24,
		"mode":   "video",
		"optics": map[string]float64{"focal_length": 50},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d", resp.StatusCode)
	}

	spec, ok := s.findByName("CamA")
	if !ok {
		t.Fatal("camera vanished after update")
	}
	if spec.FPS != 24 || spec.Mode != capture.ModeVideo {
		t.Fatalf("settings not applied: %+v", spec)
	}
	if spec.Optics.FOV <= 0 {
		t.Fatalf("field of view should follow focal length: %+v", spec.Optics)
	}

	// Settings survive a server restart through the state store.
	st := config.NewStateStore(s.configMgr.GetConfigDir()).Load()
	if st == nil || len(st.Cameras) == 0 {
		t.Fatal("settings not persisted")
	}
	if st.Cameras[0].FPS != 24 {
		t.Fatalf("persisted fps wrong: %v", st.Cameras[0].FPS)
	}
}

func TestServer_UpdateUnknownCameraIs404(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := doJSON(t, "PUT", ts.URL+"/api/cameras/Nope/enabled", map[string]bool{"enabled": false})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_InvalidSettingsRejected(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := doJSON(t, "PUT", ts.URL+"/api/cameras/CamA", map[string]interface{}{"fps": -5})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative fps, got %d", resp.StatusCode)
	}
}

func TestServer_CaptureLifecycle(t *testing.T) {
	_, ts, bus := newTestServer(t)

	resp := doJSON(t, "POST", ts.URL+"/api/capture/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	var started map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	resp.Body.Close()
	if started["session_id"] == "" || started["output_dir"] == "" {
		t.Fatalf("start response incomplete: %v", started)
	}

	// A second start conflicts.
	resp = doJSON(t, "POST", ts.URL+"/api/capture/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double start: expected 409, got %d", resp.StatusCode)
	}

	bus.Publish(1.0 / 30.0)

	var status map[string]interface{}
	getJSON(t, ts.URL+"/api/capture/status", &status)
	if status["status"] != "capturing" {
		t.Fatalf("expected capturing, got %v", status["status"])
	}

	resp = doJSON(t, "POST", ts.URL+"/api/capture/stop", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status %d", resp.StatusCode)
	}
	var stopped struct {
		Status  string                  `json:"status"`
		Summary []capture.CameraSummary `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if stopped.Status != "stopped" || len(stopped.Summary) == 0 {
		t.Fatalf("unexpected stop response: %+v", stopped)
	}

	// Stopping again conflicts.
	resp2 := doJSON(t, "POST", ts.URL+"/api/capture/stop", nil)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("double stop: expected 409, got %d", resp2.StatusCode)
	}
}

func TestServer_SettingsLockedWhileCapturing(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := doJSON(t, "POST", ts.URL+"/api/capture/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}

	resp = doJSON(t, "PUT", ts.URL+"/api/cameras/CamA", map[string]interface{}{"fps": 60})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected settings lock during capture, got %d", resp.StatusCode)
	}

	// The enabled toggle stays available mid-session.
	resp = doJSON(t, "PUT", ts.URL+"/api/cameras/CamA/enabled", map[string]bool{"enabled": false})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable toggle must work mid-session, got %d", resp.StatusCode)
	}
}

func TestServer_Health(t *testing.T) {
	_, ts, _ := newTestServer(t)
	var health map[string]string
	getJSON(t, ts.URL+"/api/health", &health)
	if health["status"] != "healthy" {
		t.Fatalf("unexpected health: %v", health)
	}
}
