package capture

import (
	"image"

	"github.com/brianweld/scenecap/internal/render"
)

// Writer persists the frames a render target delivers. Writers have their
// own lifecycle (created, writing, finalized) independent of whether they
// are currently attached to a target; a write arriving after Finalize or
// after a detach is a logged no-op, never an error that escalates.
type Writer interface {
	render.FrameWriter

	// Finalize flushes and closes the writer. For video writers this starts
	// the background encode and returns without waiting for it.
	Finalize() error

	// LastPath returns the most recent output path this writer resolved,
	// or "" if nothing has been written.
	LastPath() string

	// FrameCount returns the number of frames accepted so far.
	FrameCount() int
}

// FrameObserver is an optional tap on frames flowing through a session's
// writers, used for live preview. Observers must not retain the frame.
type FrameObserver func(camera string, frame *image.RGBA)

// observedWriter tees frames to a FrameObserver before the real writer.
type observedWriter struct {
	Writer
	camera  string
	observe FrameObserver
}

func (w *observedWriter) WriteFrame(frame *image.RGBA) error {
	w.observe(w.camera, frame)
	return w.Writer.WriteFrame(frame)
}
