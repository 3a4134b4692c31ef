package capture

import (
	"errors"

	"github.com/brianweld/scenecap/internal/scene"
)

// CaptureMode selects the output a camera produces during a session.
type CaptureMode string

const (
	// ModeImages writes one numbered image file per captured frame.
	ModeImages CaptureMode = "images"
	// ModeVideo buffers frames to disk and encodes a video at session end.
	ModeVideo CaptureMode = "video"
)

// Status is the session controller state.
type Status string

const (
	StatusStopped   Status = "stopped"
	StatusCapturing Status = "capturing"
	StatusError     Status = "error"
)

// Sentinel errors for session start guards.
var (
	ErrAlreadyCapturing = errors.New("capture already in progress")
	ErrNoOutputFolder   = errors.New("output folder not specified")
	ErrNoEnabledCameras = errors.New("no enabled cameras to capture")
)

// CameraSpec configures one camera in the capture list. Specs are copied
// into an immutable snapshot when a session starts; edits made afterwards
// apply to the next session.
type CameraSpec struct {
	// ScenePath is the camera's stable scene-object identity.
	ScenePath   string `json:"scene_path"`
	DisplayName string `json:"display_name"`

	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`

	Enabled bool        `json:"enabled"`
	Mode    CaptureMode `json:"capture_mode"`

	Optics scene.Optics `json:"optics"`

	// LastCapturePath is the most recent output written for this camera.
	LastCapturePath string `json:"last_capture_path,omitempty"`

	// FrameCounter counts frames captured in the most recent session.
	FrameCounter int `json:"-"`
}

// NewCameraSpec returns a spec with the stock defaults for a scene camera.
func NewCameraSpec(scenePath string) CameraSpec {
	return CameraSpec{
		ScenePath:   scenePath,
		DisplayName: scene.DisplayName(scenePath),
		Width:       640,
		Height:      480,
		FPS:         30,
		Enabled:     true,
		Mode:        ModeImages,
		Optics:      scene.DefaultOptics(),
	}
}

// Validate reports whether the spec can drive a capture pipeline.
func (c CameraSpec) Validate() error {
	if c.ScenePath == "" {
		return errors.New("camera spec missing scene path")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.New("camera resolution must be positive")
	}
	if c.FPS <= 0 {
		return errors.New("camera fps must be positive")
	}
	if c.Mode != ModeImages && c.Mode != ModeVideo {
		return errors.New("unknown capture mode")
	}
	return nil
}
