package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/brianweld/scenecap/internal/logger"
	"github.com/brianweld/scenecap/internal/scene"
)

// Synthetic is a software renderer that draws a moving test pattern for each
// target. It backs the CLI demo loop and the test suite; a production host
// supplies its own Renderer instead.
type Synthetic struct {
	scn scene.Scene

	mu      sync.Mutex
	targets []*synthTarget
	frame   int

	// FrameDelay, when set, simulates per-step render cost.
	FrameDelay time.Duration
}

// NewSynthetic creates a synthetic renderer over the given scene.
func NewSynthetic(scn scene.Scene) *Synthetic {
	return &Synthetic{scn: scn}
}

// CreateTarget binds a camera to a software render target.
func (r *Synthetic) CreateTarget(cameraPath string, width, height int) (Target, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidTarget, width, height)
	}
	if r.scn != nil && !r.scn.HasCamera(cameraPath) {
		return nil, fmt.Errorf("%w: no camera at %q", ErrInvalidTarget, cameraPath)
	}

	t := &synthTarget{renderer: r, camera: cameraPath, width: width, height: height}
	r.mu.Lock()
	r.targets = append(r.targets, t)
	r.mu.Unlock()
	return t, nil
}

// Step renders one frame into every attached target writer.
func (r *Synthetic) Step(ctx context.Context) error {
	if d := r.FrameDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	frame := r.frame
	r.frame++
	targets := make([]*synthTarget, len(r.targets))
	copy(targets, r.targets)
	r.mu.Unlock()

	for _, t := range targets {
		t.step(frame)
	}
	return nil
}

type synthTarget struct {
	renderer *Synthetic
	camera   string
	width    int
	height   int

	mu       sync.Mutex
	writer   FrameWriter
	released bool
}

func (t *synthTarget) Camera() string   { return t.camera }
func (t *synthTarget) Size() (int, int) { return t.width, t.height }

func (t *synthTarget) Attach(w FrameWriter) {
	t.mu.Lock()
	t.writer = w
	t.mu.Unlock()
}

func (t *synthTarget) Detach() {
	t.mu.Lock()
	t.writer = nil
	t.mu.Unlock()
}

func (t *synthTarget) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writer != nil
}

func (t *synthTarget) Release() {
	t.mu.Lock()
	t.writer = nil
	t.released = true
	t.mu.Unlock()

	r := t.renderer
	r.mu.Lock()
	for i, other := range r.targets {
		if other == t {
			r.targets = append(r.targets[:i], r.targets[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

func (t *synthTarget) step(frame int) {
	t.mu.Lock()
	w := t.writer
	released := t.released
	t.mu.Unlock()
	if w == nil || released {
		return
	}

	if err := w.WriteFrame(t.render(frame)); err != nil {
		logger.WithComponent("render").Warn().
			Err(err).
			Str("camera", t.camera).
			Msg("frame write failed")
	}
}

// render draws a sweeping gradient with a phase derived from the frame index,
// so consecutive frames are visibly distinct in encoded output.
func (t *synthTarget) render(frame int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
	phase := float64(frame) * 0.1
	for y := 0; y < t.height; y++ {
		for x := 0; x < t.width; x++ {
			fx := float64(x) / float64(t.width)
			fy := float64(y) / float64(t.height)
			rch := uint8(127.5 + 127.5*math.Sin(2*math.Pi*fx+phase))
			gch := uint8(127.5 + 127.5*math.Sin(2*math.Pi*fy+phase*0.7))
			bch := uint8(255 * fx * fy)
			img.SetRGBA(x, y, color.RGBA{R: rch, G: gch, B: bch, A: 255})
		}
	}
	return img
}
