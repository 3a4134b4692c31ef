package capture

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brianweld/scenecap/internal/logger"
)

// ImageWriter persists each frame as an individually numbered image file.
// Filenames follow <CameraName>_<sessionStamp>_<NNNNNN>.<format>.
type ImageWriter struct {
	mu        sync.Mutex
	outputDir string
	camera    string
	format    string
	stamp     string
	count     int
	lastPath  string
	closed    bool
}

// NewImageWriter creates a writer emitting png (default) or jpg files into
// outputDir, which must already exist.
func NewImageWriter(outputDir, cameraName, format string) *ImageWriter {
	if format != "jpg" && format != "jpeg" {
		format = "png"
	}
	return &ImageWriter{
		outputDir: outputDir,
		camera:    cameraName,
		format:    format,
		stamp:     time.Now().Format("20060102_150405"),
	}
}

// WriteFrame saves one frame to disk.
func (w *ImageWriter) WriteFrame(frame *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		logger.WithComponent("image-writer").Debug().
			Str("camera", w.camera).
			Msg("dropping frame written after finalize")
		return nil
	}

	name := fmt.Sprintf("%s_%s_%06d.%s", w.camera, w.stamp, w.count, w.format)
	path := filepath.Join(w.outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	defer f.Close()

	switch w.format {
	case "jpg", "jpeg":
		err = jpeg.Encode(f, frame, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, frame)
	}
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	w.count++
	w.lastPath = path
	return nil
}

// Finalize closes the writer and logs a summary of what was written.
func (w *ImageWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.count > 0 {
		logger.WithComponent("image-writer").Info().
			Str("camera", w.camera).
			Int("frames", w.count).
			Str("dir", w.outputDir).
			Msg("image sequence complete")
	}
	return nil
}

// LastPath returns the path of the most recently written image.
func (w *ImageWriter) LastPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPath
}

// FrameCount returns the number of images written.
func (w *ImageWriter) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
