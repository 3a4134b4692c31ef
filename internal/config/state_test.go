package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/brianweld/scenecap/internal/capture"
	"github.com/brianweld/scenecap/internal/scene"
)

func userSpec(path string, fps float64) capture.CameraSpec {
	spec := capture.NewCameraSpec(path)
	spec.FPS = fps
	return spec
}

func TestStateStore_RoundTrip(t *testing.T) {
	store := NewStateStore(t.TempDir())

	cam := userSpec("/World/CamA", 24)
	cam.Mode = capture.ModeVideo
	cam.Optics.FocalLength = 50
	cam.LastCapturePath = "/tmp/captures/capture_20260101_120000/CamA"
	cam.FrameCounter = 42
	if err := store.Save([]capture.CameraSpec{cam}, "/tmp/captures"); err != nil {
		t.Fatalf("save: %v", err)
	}

	st := store.Load()
	if st == nil {
		t.Fatal("expected state after save")
	}
	if st.Version != StateVersion {
		t.Fatalf("expected version %d, got %d", StateVersion, st.Version)
	}
	if st.OutputRoot != "/tmp/captures" {
		t.Fatalf("output root not preserved: %q", st.OutputRoot)
	}
	if len(st.Cameras) != 1 {
		t.Fatalf("expected 1 camera, got %d", len(st.Cameras))
	}

	restored := st.Cameras[0].ToSpec()
	if restored.ScenePath != "/World/CamA" || restored.FPS != 24 {
		t.Fatalf("settings not preserved: %+v", restored)
	}
	if restored.Mode != capture.ModeVideo {
		t.Fatalf("mode not preserved: %v", restored.Mode)
	}
	if restored.Optics.FocalLength != 50 {
		t.Fatalf("optics not preserved: %+v", restored.Optics)
	}
	if restored.LastCapturePath != cam.LastCapturePath {
		t.Fatalf("last capture path not preserved: %q", restored.LastCapturePath)
	}
	if restored.FrameCounter != 0 {
		t.Fatalf("runtime counters must not persist: %+v", restored)
	}
}

func TestStateStore_SkipsHostCameras(t *testing.T) {
	store := NewStateStore(t.TempDir())

	specs := []capture.CameraSpec{
		userSpec(scene.BuiltinPrefix+"Viewport/Camera", 30),
		userSpec("/World/CamA", 30),
	}
	if err := store.Save(specs, ""); err != nil {
		t.Fatalf("save: %v", err)
	}

	st := store.Load()
	if st == nil || len(st.Cameras) != 1 {
		t.Fatalf("expected only the user camera, got %+v", st)
	}
	if st.Cameras[0].ScenePath != "/World/CamA" {
		t.Fatalf("wrong camera persisted: %q", st.Cameras[0].ScenePath)
	}
}

func TestStateStore_MissingFileLoadsNil(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if st := store.Load(); st != nil {
		t.Fatalf("expected nil for missing state, got %+v", st)
	}
}

func TestStateStore_CorruptFileLoadsNil(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if st := store.Load(); st != nil {
		t.Fatalf("expected nil for corrupt state, got %+v", st)
	}
}

func TestStateStore_NewerVersionLoadsNil(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	future := State{Version: StateVersion + 1}
	data, err := json.Marshal(&future)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(store.Path(), data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if st := store.Load(); st != nil {
		t.Fatalf("newer-version state must be treated as absent, got %+v", st)
	}
}

func TestStateStore_ClearRemovesFile(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := store.Save([]capture.CameraSpec{userSpec("/World/CamA", 30)}, ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatal("state file should be gone")
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear must be a no-op, got %v", err)
	}
}

func TestManager_DefaultsAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 8080 || cfg.Capture.FPS != 30 || cfg.Capture.Mode != "images" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	if err := m.SetOutputRoot("/data/captures"); err != nil {
		t.Fatalf("set output root: %v", err)
	}
	if err := m.SetPort(9000); err != nil {
		t.Fatalf("set port: %v", err)
	}

	// A fresh manager over the same file sees the saved values.
	m2, err := NewManager(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if m2.GetOutputRoot() != "/data/captures" {
		t.Fatalf("output root not persisted: %q", m2.GetOutputRoot())
	}
	if m2.GetPort() != 9000 {
		t.Fatalf("port not persisted: %d", m2.GetPort())
	}
}

func TestManager_FillsGapsInPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server_port: 9999\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 9999 {
		t.Fatalf("explicit value lost: %d", cfg.ServerPort)
	}
	if cfg.LogLevel != "info" || cfg.Capture.Width != 640 || cfg.StepTimeoutSeconds != 5 {
		t.Fatalf("missing fields not defaulted: %+v", cfg)
	}
}
