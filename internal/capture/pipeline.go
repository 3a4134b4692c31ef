package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brianweld/scenecap/internal/render"
)

// cameraState is the per-camera record owned by a session: the spec
// snapshot taken at start, the render target, and the writer. Attach state
// lives on the target and is orthogonal to the writer's own lifecycle.
type cameraState struct {
	spec   CameraSpec
	target render.Target
	writer Writer

	// sink is what actually gets attached to the target: the writer itself,
	// or a tee through the session's frame observer.
	sink render.FrameWriter
}

// setAttached idempotently attaches or detaches the existing writer without
// recreating the target or the writer. This is the only pipeline mutation
// permitted while a session is active.
func (cs *cameraState) setAttached(enabled bool) {
	if cs.target == nil || cs.sink == nil {
		return
	}
	if enabled {
		cs.target.Attach(cs.sink)
	} else {
		cs.target.Detach()
	}
}

// release tears the pipeline down at session end.
func (cs *cameraState) release() {
	if cs.target != nil {
		cs.target.Detach()
		cs.target.Release()
		cs.target = nil
	}
}

// setupWriter creates the camera's output subdirectory under outputDir and
// constructs the writer matching its capture mode. The returned writer
// starts detached; the caller attaches it iff the camera is enabled.
func setupWriter(spec CameraSpec, outputDir string) (Writer, error) {
	cameraDir := filepath.Join(outputDir, spec.DisplayName)
	if err := os.MkdirAll(cameraDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create camera output dir: %w", err)
	}

	if spec.Mode == ModeVideo {
		stamp := time.Now().Format("20060102_150405")
		videoPath := filepath.Join(cameraDir, fmt.Sprintf("%s_%s.mp4", spec.DisplayName, stamp))
		return NewVideoWriter(videoPath, spec.FPS, spec.Width, spec.Height)
	}
	return NewImageWriter(cameraDir, spec.DisplayName, "png"), nil
}
