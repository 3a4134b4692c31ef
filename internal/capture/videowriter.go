package capture

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/brianweld/scenecap/internal/logger"
)

// encodeTimeout bounds a background encode, fallback included.
const encodeTimeout = 10 * time.Minute

// VideoWriter buffers captured frames as lossless files in a private temp
// directory and encodes them into a video at session end. Disk buffering
// bounds memory use independent of session length.
//
// The encode runs in the background after Finalize; Done is closed when it
// completes and LastPath then holds the resolved output, which moves to the
// fallback extension when the primary encoder fails.
type VideoWriter struct {
	mu       sync.Mutex
	outPath  string
	fps      float64
	width    int
	height   int
	tempDir  string
	count    int
	lastPath string
	closed   bool

	encoding atomic.Bool
	done     chan struct{}

	primary    Encoder
	fallback   Encoder
	onComplete func(path string)
}

// NewVideoWriter creates a writer targeting outPath at the given resolution.
func NewVideoWriter(outPath string, fps float64, width, height int) (*VideoWriter, error) {
	tempDir, err := os.MkdirTemp("", "scenecap_video_")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame buffer dir: %w", err)
	}
	return &VideoWriter{
		outPath:  outPath,
		fps:      fps,
		width:    width,
		height:   height,
		tempDir:  tempDir,
		done:     make(chan struct{}),
		primary:  &FFmpegEncoder{},
		fallback: &GIFEncoder{},
	}, nil
}

// SetEncoders replaces the primary and fallback encoders. Call before any
// frame is finalized; intended for tests and hosts with their own codecs.
func (w *VideoWriter) SetEncoders(primary, fallback Encoder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.primary = primary
	w.fallback = fallback
}

// SetFPS overrides the encode frame rate. The session controller calls this
// at stop time with the measured achieved rate, so playback timing matches
// real throughput rather than the configured target.
func (w *VideoWriter) SetFPS(fps float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if fps > 0 {
		w.fps = fps
	}
}

// SetOnComplete registers a callback invoked with the resolved output path
// once the background encode succeeds on either format.
func (w *VideoWriter) SetOnComplete(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onComplete = fn
}

// WriteFrame buffers one frame to disk, resampling to the target resolution
// when the source size differs and stripping any alpha channel.
func (w *VideoWriter) WriteFrame(frame *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		logger.WithComponent("video-writer").Debug().
			Str("out", w.outPath).
			Msg("dropping frame written after finalize")
		return nil
	}

	f := frame
	if b := frame.Bounds(); b.Dx() != w.width || b.Dy() != w.height {
		resized := image.NewRGBA(image.Rect(0, 0, w.width, w.height))
		xdraw.CatmullRom.Scale(resized, resized.Bounds(), frame, b, xdraw.Src, nil)
		f = resized
	}
	if !f.Opaque() {
		f = flattenAlpha(f)
	}

	path := filepath.Join(w.tempDir, fmt.Sprintf(frameTemplate, w.count))
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to buffer frame: %w", err)
	}
	defer out.Close()
	if err := png.Encode(out, f); err != nil {
		return fmt.Errorf("failed to encode buffered frame: %w", err)
	}

	w.count++
	return nil
}

// Finalize starts the background encode and returns immediately. With zero
// buffered frames it discards the temp directory and produces no file.
func (w *VideoWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if w.count == 0 {
		os.RemoveAll(w.tempDir)
		close(w.done)
		return nil
	}

	// Pre-set the expected path so the session can read it right away; the
	// encode goroutine rewrites it if the fallback format is used.
	w.lastPath = w.outPath
	w.encoding.Store(true)
	go w.encode()
	return nil
}

func (w *VideoWriter) encode() {
	log := logger.WithComponent("video-encode")

	defer func() {
		w.mu.Lock()
		final := w.lastPath
		fn := w.onComplete
		w.mu.Unlock()

		os.RemoveAll(w.tempDir)
		w.encoding.Store(false)
		close(w.done)
		if fn != nil && final != "" {
			fn(final)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), encodeTimeout)
	defer cancel()

	w.mu.Lock()
	fps := w.fps
	primary, fallback := w.primary, w.fallback
	outPath := w.outPath
	count := w.count
	w.mu.Unlock()

	log.Info().Int("frames", count).Float64("fps", fps).Str("out", outPath).
		Msg("encoding buffered frames")

	if err := primary.Encode(ctx, w.tempDir, fps, outPath); err == nil {
		log.Info().Str("path", outPath).Int("frames", count).Msg("video saved")
		return
	} else {
		log.Warn().Err(err).Msg("primary encode failed, falling back")
	}

	fallbackPath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + "." + fallback.Extension()
	if err := fallback.Encode(ctx, w.tempDir, fps, fallbackPath); err != nil {
		log.Error().Err(err).Msg("fallback encode also failed")
		w.mu.Lock()
		w.lastPath = ""
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.lastPath = fallbackPath
	w.mu.Unlock()
	log.Info().Str("path", fallbackPath).Int("frames", count).Msg("fallback animation saved")
}

// LastPath returns the resolved output path, "" when nothing was produced.
func (w *VideoWriter) LastPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPath
}

// FrameCount returns the number of buffered frames.
func (w *VideoWriter) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// FPS returns the rate the encode will be (or was) timed at.
func (w *VideoWriter) FPS() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fps
}

// Encoding reports whether a background encode is in flight.
func (w *VideoWriter) Encoding() bool {
	return w.encoding.Load()
}

// Done is closed once Finalize has fully completed, encode included.
func (w *VideoWriter) Done() <-chan struct{} {
	return w.done
}

// TempDir exposes the frame buffer directory for tests.
func (w *VideoWriter) TempDir() string {
	return w.tempDir
}

// flattenAlpha returns an opaque copy of frame.
func flattenAlpha(frame *image.RGBA) *image.RGBA {
	out := image.NewRGBA(frame.Bounds())
	copy(out.Pix, frame.Pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
