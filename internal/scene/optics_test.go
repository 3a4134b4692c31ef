package scene

import (
	"math"
	"testing"
)

func TestFOVFromFocalLength(t *testing.T) {
	// 24mm on a 36mm aperture is the stock wide-angle setup.
	fov := FOVFromFocalLength(24.0)
	if math.Abs(fov-73.7) > 0.1 {
		t.Fatalf("expected ~73.7 degrees for 24mm, got %v", fov)
	}

	// Longer lens, narrower view.
	if FOVFromFocalLength(50.0) >= fov {
		t.Fatalf("50mm should give a narrower FOV than 24mm")
	}
}

func TestFOVFromFocalLength_Degenerate(t *testing.T) {
	for _, f := range []float64{0, -1, -24} {
		if got := FOVFromFocalLength(f); got != 90.0 {
			t.Fatalf("focal length %v: expected 90 degree fallback, got %v", f, got)
		}
	}
}

func TestFocalLengthFromFOV_RoundTrip(t *testing.T) {
	for _, f := range []float64{18, 24, 35, 50, 85, 120} {
		fov := FOVFromFocalLength(f)
		back := FocalLengthFromFOV(fov)
		if math.Abs(back-f) > 1e-9 {
			t.Fatalf("round trip for %vmm drifted to %vmm", f, back)
		}
	}
}

func TestFocalLengthFromFOV_Degenerate(t *testing.T) {
	for _, fov := range []float64{0, -10, 180, 200} {
		if got := FocalLengthFromFOV(fov); got != DefaultFocalLength {
			t.Fatalf("fov %v: expected %vmm fallback, got %v", fov, DefaultFocalLength, got)
		}
	}
}

func TestMemoryScene_ScanAndOptics(t *testing.T) {
	s := NewMemoryScene()
	s.AddCamera("/World/CamA", DefaultOptics())
	s.AddCamera("/World/CamB", DefaultOptics())

	cams := s.ScanCameras()
	if len(cams) != 3 { // viewport camera + two user cameras
		t.Fatalf("expected 3 cameras, got %d: %v", len(cams), cams)
	}

	o := Optics{FocalLength: 50, FocusDistance: 200, Exposure: 1.5}
	if err := s.ApplyOptics("/World/CamA", o); err != nil {
		t.Fatalf("apply optics: %v", err)
	}
	got, err := s.ReadOptics("/World/CamA")
	if err != nil {
		t.Fatalf("read optics: %v", err)
	}
	if got.FocalLength != 50 || got.Exposure != 1.5 {
		t.Fatalf("optics not applied: %+v", got)
	}
	if math.Abs(got.FOV-FOVFromFocalLength(50)) > 1e-9 {
		t.Fatalf("FOV should be derived from focal length, got %v", got.FOV)
	}

	if err := s.ApplyOptics("/World/Missing", o); err == nil {
		t.Fatal("expected error for unknown camera")
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"/World/CamA":           "CamA",
		"/World/Rig/ShotCam":    "ShotCam",
		"/Host/Viewport/Camera": "Camera",
		"Solo":                  "Solo",
	}
	for path, want := range cases {
		if got := DisplayName(path); got != want {
			t.Fatalf("DisplayName(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestIsBuiltin(t *testing.T) {
	if !IsBuiltin(BuiltinPrefix + "Viewport/Camera") {
		t.Fatal("viewport camera should be builtin")
	}
	if IsBuiltin("/World/CamA") {
		t.Fatal("user camera should not be builtin")
	}
}
