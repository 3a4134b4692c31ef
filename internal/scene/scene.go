package scene

import (
	"fmt"
	"strings"
	"sync"
)

// BuiltinPrefix marks host-internal cameras (viewport, editor gizmo cams).
// Cameras under this prefix are excluded from persisted state.
const BuiltinPrefix = "/Host/"

// Optics holds the optical camera properties passed through to the scene.
// The capture scheduler never reads these; they only affect rendering.
type Optics struct {
	FocalLength   float64 `json:"focal_length"`   // mm
	FocusDistance float64 `json:"focus_distance"` // scene units (cm)
	Exposure      float64 `json:"exposure"`       // EV
	FOV           float64 `json:"fov"`            // degrees, derived from focal length
}

// DefaultOptics returns the optics applied to a freshly added camera.
func DefaultOptics() Optics {
	return Optics{
		FocalLength:   DefaultFocalLength,
		FocusDistance: DefaultFocusDistance,
		Exposure:      0.0,
		FOV:           FOVFromFocalLength(DefaultFocalLength),
	}
}

// Scene is the boundary to the host's scene document. Camera identity is a
// stable object path string ("/World/CameraA").
type Scene interface {
	// ScanCameras returns the paths of all camera objects in the scene.
	ScanCameras() []string

	// ApplyOptics writes optical properties onto the scene camera.
	ApplyOptics(path string, o Optics) error

	// ReadOptics reads the camera's current optical properties.
	ReadOptics(path string) (Optics, error)

	// HasCamera reports whether a camera exists at path.
	HasCamera(path string) bool
}

// DisplayName derives a human-readable camera name from its scene path.
func DisplayName(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return path
	}
	return trimmed
}

// IsBuiltin reports whether the camera belongs to the host itself rather
// than the user's scene.
func IsBuiltin(path string) bool {
	return strings.HasPrefix(path, BuiltinPrefix)
}

// MemoryScene is an in-process Scene used by the CLI demo loop and by tests.
type MemoryScene struct {
	mu      sync.RWMutex
	cameras map[string]Optics
	order   []string
}

// NewMemoryScene creates a scene pre-populated with the host viewport camera.
func NewMemoryScene() *MemoryScene {
	s := &MemoryScene{cameras: make(map[string]Optics)}
	s.AddCamera(BuiltinPrefix+"Viewport/Camera", DefaultOptics())
	return s
}

// AddCamera registers a camera at path. Re-adding replaces its optics.
func (s *MemoryScene) AddCamera(path string, o Optics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[path]; !ok {
		s.order = append(s.order, path)
	}
	s.cameras[path] = o
}

// RemoveCamera deletes the camera at path, if present.
func (s *MemoryScene) RemoveCamera(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[path]; !ok {
		return
	}
	delete(s.cameras, path)
	for i, p := range s.order {
		if p == path {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ScanCameras returns camera paths in registration order.
func (s *MemoryScene) ScanCameras() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// ApplyOptics writes optics for the camera at path.
func (s *MemoryScene) ApplyOptics(path string, o Optics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cameras[path]; !ok {
		return fmt.Errorf("no camera at %q", path)
	}
	// FOV follows focal length; a stale caller-supplied value is ignored.
	o.FOV = FOVFromFocalLength(o.FocalLength)
	s.cameras[path] = o
	return nil
}

// ReadOptics returns the optics for the camera at path.
func (s *MemoryScene) ReadOptics(path string) (Optics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.cameras[path]
	if !ok {
		return Optics{}, fmt.Errorf("no camera at %q", path)
	}
	return o, nil
}

// HasCamera reports whether a camera exists at path.
func (s *MemoryScene) HasCamera(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cameras[path]
	return ok
}
