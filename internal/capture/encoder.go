package capture

import (
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Filename scheme for buffered frames.
const (
	framePrefix = "frame_"
	// frameTemplate is passed to ffmpeg as its input pattern.
	frameTemplate = "frame_%06d.png"
)

// Encoder turns a directory of numbered frame images into a single output
// file. Implementations must be safe to call from a background goroutine.
type Encoder interface {
	// Encode reads frames from framesDir in numeric order and writes the
	// container at outPath, timed at fps.
	Encode(ctx context.Context, framesDir string, fps float64, outPath string) error

	// Extension returns the output file extension, without the dot.
	Extension() string
}

// FFmpegEncoder produces an H.264 MP4 via an ffmpeg subprocess. The encode
// runs out of process, so it never stalls the host loop.
type FFmpegEncoder struct {
	// Binary overrides the ffmpeg executable name, for tests.
	Binary string
}

// Extension returns "mp4".
func (e *FFmpegEncoder) Extension() string { return "mp4" }

// Encode shells out to ffmpeg over the buffered frame files.
func (e *FFmpegEncoder) Encode(ctx context.Context, framesDir string, fps float64, outPath string) error {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}

	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%g", fps),
		"-i", filepath.Join(framesDir, frameTemplate),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg encode failed: %w: %s", err, tail(string(out), 400))
	}
	return nil
}

// GIFEncoder is the lossy fallback used when the primary encoder is
// unavailable or fails. It re-reads every buffered frame and quantizes it
// onto a fixed palette.
type GIFEncoder struct{}

// Extension returns "gif".
func (e *GIFEncoder) Extension() string { return "gif" }

// Encode writes an animated GIF from the buffered frames.
func (e *GIFEncoder) Encode(ctx context.Context, framesDir string, fps float64, outPath string) error {
	files, err := listFrameFiles(framesDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no frames to encode in %s", framesDir)
	}

	delay := int(100.0/fps + 0.5) // GIF frame delay is in centiseconds
	if delay < 1 {
		delay = 1
	}

	anim := &gif.GIF{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := readFrame(file)
		if err != nil {
			return err
		}
		pal := image.NewPaletted(frame.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(pal, frame.Bounds(), frame, image.Point{})
		anim.Image = append(anim.Image, pal)
		anim.Delay = append(anim.Delay, delay)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create gif: %w", err)
	}
	defer f.Close()
	if err := gif.EncodeAll(f, anim); err != nil {
		return fmt.Errorf("gif encode failed: %w", err)
	}
	return nil
}

// listFrameFiles returns buffered frame paths in numeric order.
func listFrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, framePrefix) && strings.HasSuffix(name, ".png") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	// Zero-padded counters make lexicographic order numeric order.
	sort.Strings(files)
	return files, nil
}

func readFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
