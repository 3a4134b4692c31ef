package render

import (
	"context"
	"errors"
	"image"
)

// ErrInvalidTarget is returned when a render target cannot be created,
// typically because the camera reference or resolution is invalid.
var ErrInvalidTarget = errors.New("invalid render target")

// FrameWriter consumes the pixel buffer a target produces on each step.
// Implementations must tolerate calls after they have been finalized.
type FrameWriter interface {
	WriteFrame(frame *image.RGBA) error
}

// Target is a renderer-owned sink bound to one camera at a fixed resolution.
// A target produces a frame on every renderer step while a writer is
// attached; a detached target renders nothing but keeps its resources.
type Target interface {
	// Camera returns the scene path of the bound camera.
	Camera() string

	// Size returns the target resolution.
	Size() (width, height int)

	// Attach connects a writer so frames flow on subsequent steps.
	// Attaching replaces any previously attached writer.
	Attach(w FrameWriter)

	// Detach disconnects the writer. Idempotent.
	Detach()

	// Attached reports whether a writer is currently connected.
	Attached() bool

	// Release frees renderer-side resources. The target is unusable after.
	Release()
}

// Renderer is the boundary to the host's render engine.
type Renderer interface {
	// CreateTarget binds a camera to a render target of the given size.
	CreateTarget(cameraPath string, width, height int) (Target, error)

	// Step advances the renderer one frame and delivers pixel buffers to
	// every attached target writer. Blocks until the frame is delivered or
	// ctx expires. At most one Step may be in flight at a time; callers
	// serialize via the scheduler's step gate.
	Step(ctx context.Context) error
}
