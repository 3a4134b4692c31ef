package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/brianweld/scenecap/internal/render"
	"github.com/brianweld/scenecap/internal/scene"
)

// stubTarget records attach/detach/release calls for handle-identity checks.
type stubTarget struct {
	mu       sync.Mutex
	camera   string
	width    int
	height   int
	writer   render.FrameWriter
	released bool
	attaches int
	detaches int
}

func (t *stubTarget) Camera() string   { return t.camera }
func (t *stubTarget) Size() (int, int) { return t.width, t.height }

func (t *stubTarget) Attach(w render.FrameWriter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer = w
	t.attaches++
}

func (t *stubTarget) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer = nil
	t.detaches++
}

func (t *stubTarget) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writer != nil
}

func (t *stubTarget) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer = nil
	t.released = true
}

// stubRenderer satisfies render.Renderer with instant steps delivering a
// tiny frame to every attached writer.
type stubRenderer struct {
	mu      sync.Mutex
	targets map[string]*stubTarget
	created int
	failFor string
	stepErr error
}

func newStubRenderer() *stubRenderer {
	return &stubRenderer{targets: make(map[string]*stubTarget)}
}

func (r *stubRenderer) CreateTarget(cameraPath string, width, height int) (render.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cameraPath == r.failFor {
		return nil, fmt.Errorf("%w: %s", render.ErrInvalidTarget, cameraPath)
	}
	t := &stubTarget{camera: cameraPath, width: width, height: height}
	r.targets[cameraPath] = t
	r.created++
	return t, nil
}

func (r *stubRenderer) Step(ctx context.Context) error {
	r.mu.Lock()
	err := r.stepErr
	targets := make([]*stubTarget, 0, len(r.targets))
	for _, t := range r.targets {
		targets = append(targets, t)
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, t := range targets {
		t.mu.Lock()
		w := t.writer
		t.mu.Unlock()
		if w != nil {
			_ = w.WriteFrame(testFrame(2, 2))
		}
	}
	return nil
}

func (r *stubRenderer) target(cameraPath string) *stubTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targets[cameraPath]
}

func testSpec(path string, fps float64) CameraSpec {
	spec := NewCameraSpec(path)
	spec.Width = 4
	spec.Height = 4
	spec.FPS = fps
	return spec
}

func newTestController(t *testing.T) (*Controller, *TickBus, *stubRenderer, *scene.MemoryScene) {
	t.Helper()
	scn := scene.NewMemoryScene()
	scn.AddCamera("/World/CamA", scene.DefaultOptics())
	scn.AddCamera("/World/CamB", scene.DefaultOptics())
	renderer := newStubRenderer()
	bus := NewTickBus()
	return NewController(scn, renderer, bus), bus, renderer, scn
}

// frames reads the camera's frame counter from the controller snapshot.
func frames(c *Controller, path string) int {
	for _, spec := range c.Cameras() {
		if spec.ScenePath == path {
			return spec.FrameCounter
		}
	}
	return -1
}

// publishAndSettle delivers one tick and waits for the camera's frame
// counter to reach want and the step gate to clear, so the async step
// cannot race the next tick.
func publishAndSettle(t *testing.T, bus *TickBus, c *Controller, dt float64, path string, want int) {
	t.Helper()
	bus.Publish(dt)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames(c, path) >= want && !c.sched.StepPending() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d frames on %s (got %d)", want, path, frames(c, path))
}

func TestController_StartGuards(t *testing.T) {
	c, _, _, _ := newTestController(t)
	root := t.TempDir()

	if err := c.Start(nil, root); !errors.Is(err, ErrNoEnabledCameras) {
		t.Fatalf("empty list: expected ErrNoEnabledCameras, got %v", err)
	}

	disabled := testSpec("/World/CamA", 30)
	disabled.Enabled = false
	if err := c.Start([]CameraSpec{disabled}, root); !errors.Is(err, ErrNoEnabledCameras) {
		t.Fatalf("all disabled: expected ErrNoEnabledCameras, got %v", err)
	}

	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 30)}, ""); !errors.Is(err, ErrNoOutputFolder) {
		t.Fatalf("no output root: expected ErrNoOutputFolder, got %v", err)
	}

	if c.Status() != StatusStopped {
		t.Fatalf("failed starts must leave state stopped, got %v", c.Status())
	}

	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 30)}, root); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	if err := c.Start([]CameraSpec{testSpec("/World/CamB", 30)}, root); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("double start: expected ErrAlreadyCapturing, got %v", err)
	}
}

func TestController_StartRollsBackOnTargetFailure(t *testing.T) {
	c, _, renderer, _ := newTestController(t)
	renderer.failFor = "/World/CamB"

	specs := []CameraSpec{testSpec("/World/CamA", 30), testSpec("/World/CamB", 30)}
	if err := c.Start(specs, t.TempDir()); err == nil {
		t.Fatal("expected start to fail")
	}
	if c.Status() != StatusStopped {
		t.Fatalf("expected stopped after rollback, got %v", c.Status())
	}
	if target := renderer.target("/World/CamA"); target == nil || !target.released {
		t.Fatal("partially-created pipeline must be released on rollback")
	}
	if len(c.Cameras()) != 0 {
		t.Fatal("no camera state should survive a failed start")
	}
}

func TestController_CapturesOncePerTickAtHostRate(t *testing.T) {
	c, bus, _, _ := newTestController(t)
	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 30)}, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}

	dt := 1.0 / 30.0
	for i := 1; i <= 10; i++ {
		publishAndSettle(t, bus, c, dt, "/World/CamA", i)
	}

	summary := c.Stop()
	if len(summary) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(summary))
	}
	if summary[0].Actual != 10 {
		t.Fatalf("expected 10 captured frames, got %d", summary[0].Actual)
	}
	if summary[0].Dropped {
		t.Fatal("full-rate capture must not be flagged as dropped")
	}
	if summary[0].OutputPath == "" {
		t.Fatal("summary should carry the last written path")
	}
}

func TestController_SnapshotIsolatesCallerList(t *testing.T) {
	c, bus, _, _ := newTestController(t)
	specs := []CameraSpec{testSpec("/World/CamA", 30)}
	if err := c.Start(specs, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	// Mutating the caller's list after start must not affect the session.
	specs[0].FPS = 1
	specs[0].Enabled = false

	publishAndSettle(t, bus, c, 1.0/30.0, "/World/CamA", 1)

	live := c.Cameras()
	if len(live) != 1 || live[0].FPS != 30 || !live[0].Enabled {
		t.Fatalf("session snapshot was affected by caller mutation: %+v", live)
	}
}

func TestController_DisableFreezesAccumulatorAndKeepsTarget(t *testing.T) {
	c, bus, renderer, _ := newTestController(t)
	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 30)}, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}

	dt := 1.0 / 30.0
	for i := 1; i <= 5; i++ {
		publishAndSettle(t, bus, c, dt, "/World/CamA", i)
	}

	c.UpdateEnabled("/World/CamA", false)
	for i := 0; i < 5; i++ {
		bus.Publish(dt)
	}
	time.Sleep(20 * time.Millisecond)
	if got := frames(c, "/World/CamA"); got != 5 {
		t.Fatalf("disabled camera must not capture, got %d frames", got)
	}

	c.UpdateEnabled("/World/CamA", true)
	for i := 6; i <= 10; i++ {
		publishAndSettle(t, bus, c, dt, "/World/CamA", i)
	}

	if renderer.created != 1 {
		t.Fatalf("re-enable must reuse the render target, created=%d", renderer.created)
	}
	target := renderer.target("/World/CamA")
	if target.attaches < 2 || target.detaches < 1 {
		t.Fatalf("expected reattach of the existing target, attaches=%d detaches=%d",
			target.attaches, target.detaches)
	}
	c.Stop()
}

func TestController_SummaryFlagsFrameDrops(t *testing.T) {
	c, bus, _, _ := newTestController(t)

	// Camera targets 30 fps but the host ticks at 25: over 2.0s the camera
	// captures 50 frames against 60 expected, under the 95% threshold.
	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 30)}, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dt := 1.0 / 25.0
	for i := 1; i <= 50; i++ {
		publishAndSettle(t, bus, c, dt, "/World/CamA", i)
	}
	summary := c.Stop()
	if len(summary) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(summary))
	}
	if summary[0].Actual != 50 || summary[0].Expected < 59 || summary[0].Expected > 60 {
		t.Fatalf("expected 50 of ~60 frames, got %d/%d", summary[0].Actual, summary[0].Expected)
	}
	if !summary[0].Dropped {
		t.Fatal("50 of 60 frames must be flagged as dropped")
	}

	// A camera at 58 of 60 stays above the threshold.
	if err := c.Start([]CameraSpec{testSpec("/World/CamB", 30)}, t.TempDir()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	for i := 1; i <= 58; i++ {
		publishAndSettle(t, bus, c, 1.0/29.0, "/World/CamB", i)
	}
	summary = c.Stop()
	if summary[0].Dropped {
		t.Fatalf("%d of %d frames must not be flagged as dropped",
			summary[0].Actual, summary[0].Expected)
	}
}

func TestController_FPSWarningsDeduplicated(t *testing.T) {
	c, bus, _, _ := newTestController(t)
	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 120)}, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	dt := 1.0 / 30.0
	want := 1
	for round := 0; round < 2; round++ {
		for i := 0; i < 30; i++ {
			publishAndSettle(t, bus, c, dt, "/World/CamA", want)
			want++
		}
	}

	warnings := c.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("identical warnings must be deduplicated, got %v", warnings)
	}
	if math.Abs(c.MeasuredFPS()-30.0) > 0.5 {
		t.Fatalf("expected ~30 measured fps, got %v", c.MeasuredFPS())
	}
}

func TestController_CaptureErrorDoesNotHaltSession(t *testing.T) {
	c, bus, renderer, _ := newTestController(t)
	renderer.stepErr = errors.New("renderer exploded")

	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 30)}, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dt := 1.0 / 30.0
	for i := 0; i < 5; i++ {
		bus.Publish(dt)
		// Wait for the failed step to count itself and clear the gate.
		deadline := time.Now().Add(time.Second)
		for (c.CaptureErrors() < int64(i+1) || c.sched.StepPending()) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	if c.Status() != StatusCapturing {
		t.Fatalf("failed captures must never stop the session, got %v", c.Status())
	}
	if c.CaptureErrors() != 5 {
		t.Fatalf("expected 5 capture errors, got %d", c.CaptureErrors())
	}
	c.Stop()
}

func TestController_VideoEncodeUsesMeasuredRate(t *testing.T) {
	c, bus, _, _ := newTestController(t)

	primary := &recordingEncoder{ext: "mp4"}
	c.SetVideoEncoders(func() (Encoder, Encoder) {
		return primary, &recordingEncoder{ext: "gif"}
	})

	var events []Event
	var eventsMu sync.Mutex
	c.SetListener(func(e Event) {
		eventsMu.Lock()
		defer eventsMu.Unlock()
		events = append(events, e)
	})

	// Camera targets 30 fps but the host delivers 15: 30 frames over 2.0s,
	// so the encode must be timed at 15 fps, not the configured 30.
	spec := testSpec("/World/CamA", 30)
	spec.Mode = ModeVideo
	if err := c.Start([]CameraSpec{spec}, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dt := 1.0 / 15.0
	for i := 1; i <= 30; i++ {
		publishAndSettle(t, bus, c, dt, "/World/CamA", i)
	}

	summary := c.Stop()
	c.WaitIdle()

	if primary.calls != 1 {
		t.Fatalf("expected one encode, got %d", primary.calls)
	}
	if math.Abs(primary.fps-15.0) > 0.01 {
		t.Fatalf("encode fps should be re-estimated to ~15, got %v", primary.fps)
	}
	if len(summary) != 1 || summary[0].OutputPath != primary.out {
		t.Fatalf("summary output %q should match encode output %q",
			summary[0].OutputPath, primary.out)
	}

	eventsMu.Lock()
	defer eventsMu.Unlock()
	sawEncode := false
	for _, e := range events {
		if e.Type == EventEncodeFinished && e.Path == primary.out {
			sawEncode = true
		}
	}
	if !sawEncode {
		t.Fatal("expected an encode-finished event with the resolved path")
	}
}

func TestController_StopClearsSessionState(t *testing.T) {
	c, bus, _, _ := newTestController(t)
	if err := c.Start([]CameraSpec{testSpec("/World/CamA", 30)}, t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}
	publishAndSettle(t, bus, c, 1.0/30.0, "/World/CamA", 1)

	if got := c.Stop(); len(got) != 1 {
		t.Fatalf("expected summary from stop, got %v", got)
	}
	if c.Status() != StatusStopped {
		t.Fatalf("expected stopped, got %v", c.Status())
	}
	if len(c.Cameras()) != 0 {
		t.Fatal("per-session camera state must be discarded on stop")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatal("stop must unsubscribe from the tick feed")
	}
	if again := c.Stop(); again != nil {
		t.Fatalf("second stop must be a no-op, got %v", again)
	}
}
