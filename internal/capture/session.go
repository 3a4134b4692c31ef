package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brianweld/scenecap/internal/logger"
	"github.com/brianweld/scenecap/internal/render"
	"github.com/brianweld/scenecap/internal/scene"
)

// defaultStepTimeout bounds a single render step. A step that exceeds it is
// logged and abandoned; the session keeps running.
const defaultStepTimeout = 5 * time.Second

// dropThreshold is the fraction of expected frames below which a camera is
// flagged as dropped in the session summary.
const dropThreshold = 0.95

// EventType identifies a session event.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionStopped EventType = "session_stopped"
	EventFrameCaptured  EventType = "frame_captured"
	EventEncodeFinished EventType = "encode_finished"
)

// Event is delivered to the session listener.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Camera    string    `json:"camera,omitempty"`
	Path      string    `json:"path,omitempty"`
}

// Listener receives session events. Called from session goroutines; keep it
// fast and non-blocking.
type Listener func(Event)

// CameraSummary is one row of the end-of-session report.
type CameraSummary struct {
	Camera     string  `json:"camera"`
	ScenePath  string  `json:"scene_path"`
	Expected   int     `json:"expected_frames"`
	Actual     int     `json:"actual_frames"`
	TargetFPS  float64 `json:"target_fps"`
	ActualFPS  float64 `json:"actual_fps"`
	Dropped    bool    `json:"dropped"`
	OutputPath string  `json:"output_path,omitempty"`
}

// Controller is the top-level capture state machine. It owns the per-camera
// pipelines of the active session, consumes the host tick feed, and drives
// the scheduler. All scheduling decisions happen synchronously inside the
// tick callback; render steps and video encodes run as tracked background
// tasks.
type Controller struct {
	scn      scene.Scene
	renderer render.Renderer
	ticks    TickSource

	mu        sync.Mutex
	status    Status
	cams      []*cameraState
	byPath    map[string]*cameraState
	sub       Subscription
	outputDir string
	sessionID string
	startWall time.Time
	totalTime float64
	warned    map[string]struct{}
	warnings  []string
	summary   []CameraSummary

	sched *Scheduler
	clock *FrameClock

	capturing     atomic.Bool
	captureErrors atomic.Int64

	stepTimeout time.Duration
	listener    Listener
	observer    FrameObserver
	videoEnc    func() (primary, fallback Encoder)

	encodeDone []<-chan struct{}
}

// NewController creates a stopped controller over the given collaborators.
func NewController(scn scene.Scene, renderer render.Renderer, ticks TickSource) *Controller {
	return &Controller{
		scn:         scn,
		renderer:    renderer,
		ticks:       ticks,
		status:      StatusStopped,
		sched:       NewScheduler(),
		clock:       NewFrameClock(),
		warned:      make(map[string]struct{}),
		stepTimeout: defaultStepTimeout,
	}
}

// SetListener registers the session event listener.
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// SetFrameObserver registers a tap on every frame written during a session,
// used for live preview. Takes effect at the next Start.
func (c *Controller) SetFrameObserver(o FrameObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// SetVideoEncoders overrides the encoder pair used by video writers created
// in future sessions. The factory is called once per video camera.
func (c *Controller) SetVideoEncoders(factory func() (primary, fallback Encoder)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnc = factory
}

// SetStepTimeout overrides the per-step render timeout.
func (c *Controller) SetStepTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.stepTimeout = d
	}
}

// Start begins a capture session over a snapshot of cameras, writing under a
// fresh timestamped directory below outputRoot. The caller's slice is not
// referenced after Start returns; later edits affect only future sessions.
func (c *Controller) Start(cameras []CameraSpec, outputRoot string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusCapturing {
		return ErrAlreadyCapturing
	}
	if outputRoot == "" {
		return ErrNoOutputFolder
	}
	anyEnabled := false
	for _, cam := range cameras {
		if cam.Enabled {
			anyEnabled = true
			break
		}
	}
	if !anyEnabled {
		return ErrNoEnabledCameras
	}
	for _, cam := range cameras {
		if err := cam.Validate(); err != nil {
			return fmt.Errorf("camera %q: %w", cam.ScenePath, err)
		}
	}

	stamp := time.Now().Format("20060102_150405")
	outputDir := filepath.Join(outputRoot, "capture_"+stamp)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	c.sessionID = uuid.NewString()
	c.outputDir = outputDir
	log := logger.WithSession("capture-session", c.sessionID)

	c.cams = nil
	c.byPath = make(map[string]*cameraState, len(cameras))
	c.sched.Reset()
	c.clock.Reset()
	c.warned = make(map[string]struct{})
	c.warnings = nil
	c.summary = nil
	c.totalTime = 0
	c.startWall = time.Now()
	c.captureErrors.Store(0)

	// Pipelines are built for every camera, enabled or not; the enabled
	// check gates attachment and accrual, so a camera toggled back on
	// mid-session resumes without any setup.
	for _, cam := range cameras {
		cs := &cameraState{spec: cam}
		cs.spec.FrameCounter = 0

		if err := c.scn.ApplyOptics(cam.ScenePath, cam.Optics); err != nil {
			log.Warn().Err(err).Str("camera", cam.ScenePath).Msg("failed to apply camera optics")
		}

		target, err := c.renderer.CreateTarget(cam.ScenePath, cam.Width, cam.Height)
		if err != nil {
			c.rollbackLocked()
			return fmt.Errorf("failed to create render target for %q: %w", cam.ScenePath, err)
		}
		cs.target = target

		writer, err := setupWriter(cs.spec, outputDir)
		if err != nil {
			cs.release()
			c.rollbackLocked()
			return fmt.Errorf("failed to set up writer for %q: %w", cam.ScenePath, err)
		}
		if vw, ok := writer.(*VideoWriter); ok && c.videoEnc != nil {
			vw.SetEncoders(c.videoEnc())
		}
		cs.writer = writer
		cs.sink = writer
		if c.observer != nil {
			cs.sink = &observedWriter{Writer: writer, camera: cam.DisplayName, observe: c.observer}
		}

		c.sched.AddCamera(cam.ScenePath, cam.FPS)
		cs.setAttached(cam.Enabled)

		c.cams = append(c.cams, cs)
		c.byPath[cam.ScenePath] = cs
	}

	c.sub = c.ticks.Subscribe("capture-session", c.onTick)
	c.capturing.Store(true)
	c.status = StatusCapturing

	log.Info().Int("cameras", len(c.cams)).Str("output", outputDir).Msg("capture started")
	c.emitLocked(Event{Type: EventSessionStarted, SessionID: c.sessionID})
	return nil
}

// rollbackLocked discards partially-built pipelines after a setup failure.
func (c *Controller) rollbackLocked() {
	for _, cs := range c.cams {
		if cs.writer != nil {
			// Zero frames were written, so video writers just drop their
			// frame buffer and produce nothing.
			if err := cs.writer.Finalize(); err != nil {
				logger.WithComponent("capture-session").Warn().Err(err).Msg("rollback finalize failed")
			}
		}
		cs.release()
	}
	c.cams = nil
	c.byPath = nil
	c.sched.Reset()
	c.status = StatusStopped
}

// onTick is the per-frame scheduling pass. It runs on the host loop's
// goroutine, strictly in tick arrival order.
func (c *Controller) onTick(t Tick) {
	if !c.capturing.Load() {
		return
	}

	dt := t.Delta
	if dt <= 0 {
		dt = DefaultDelta
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusCapturing {
		return
	}

	c.totalTime += dt
	if c.clock.OnTick(dt) {
		c.checkRateWarningsLocked()
	}

	for _, cs := range c.cams {
		if !cs.spec.Enabled {
			continue
		}
		id := cs.spec.ScenePath
		c.sched.Advance(id, dt)

		// One capture at most per tick per camera; and while a step is in
		// flight the interval is not consumed, so time keeps accruing.
		if c.sched.Due(id) && c.sched.BeginStep() {
			c.sched.Consume(id)
			cs.spec.FrameCounter = c.sched.Frames(id)
			go c.doCapture(cs)
		}
	}
}

// doCapture awaits one render step with a bounded timeout, then reports the
// written frame. A failed or timed-out step clears the gate and the session
// carries on.
func (c *Controller) doCapture(cs *cameraState) {
	defer c.sched.EndStep()

	ctx, cancel := context.WithTimeout(context.Background(), c.stepTimeout)
	defer cancel()

	if err := c.renderer.Step(ctx); err != nil {
		c.captureErrors.Add(1)
		log := logger.WithComponent("capture-session")
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Str("camera", cs.spec.DisplayName).Msg("capture step timed out")
		} else {
			log.Warn().Err(err).Str("camera", cs.spec.DisplayName).Msg("capture step failed")
		}
		return
	}

	// The session may have stopped while the step was in flight; its
	// completion is then a no-op.
	if !c.capturing.Load() {
		return
	}

	c.mu.Lock()
	path := ""
	if cs.writer != nil {
		path = cs.writer.LastPath()
	}
	if path != "" {
		cs.spec.LastCapturePath = path
	}
	name := cs.spec.DisplayName
	id := c.sessionID
	l := c.listener
	c.mu.Unlock()

	if l != nil && path != "" {
		l(Event{Type: EventFrameCaptured, SessionID: id, Camera: name, Path: path})
	}
}

// checkRateWarningsLocked runs once per closed sampling window and raises a
// warning for every camera whose target rate exceeds the measured host
// rate. Warnings are deduplicated by exact message text; capture itself is
// never throttled, because render stepping is synchronous with the host
// tick regardless of target rate.
func (c *Controller) checkRateWarningsLocked() {
	rate := c.clock.Rate()
	for _, cs := range c.cams {
		if !cs.spec.Enabled || cs.spec.FPS <= rate {
			continue
		}
		msg := fmt.Sprintf("%s: target %g fps, host running at %.1f fps",
			cs.spec.DisplayName, cs.spec.FPS, rate)
		if _, seen := c.warned[msg]; seen {
			continue
		}
		c.warned[msg] = struct{}{}
		c.warnings = append(c.warnings, msg)
		logger.WithSession("capture-session", c.sessionID).Warn().Msg(msg)
	}
}

// Stop ends the session: unsubscribes from ticks, finalizes every writer
// (re-timing video encodes to the measured achieved rate), releases all
// pipelines, and returns the per-camera summary. An in-flight render step
// is not cancelled; its completion becomes a no-op.
func (c *Controller) Stop() []CameraSummary {
	c.mu.Lock()
	if c.status != StatusCapturing {
		c.mu.Unlock()
		return nil
	}

	c.capturing.Store(false)
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}

	duration := c.totalTime
	if duration <= 0 {
		duration = 0.001
	}

	sessionID := c.sessionID
	log := logger.WithSession("capture-session", sessionID)
	log.Info().Float64("duration_s", duration).Msg("capture stopping")

	var summaries []CameraSummary
	for _, cs := range c.cams {
		camState := cs
		frames := c.sched.Frames(cs.spec.ScenePath)
		actualFPS := float64(frames) / duration

		if vw, ok := cs.writer.(*VideoWriter); ok {
			if frames > 0 {
				vw.SetFPS(actualFPS)
			}
			vw.SetOnComplete(func(path string) {
				c.mu.Lock()
				camState.spec.LastCapturePath = path
				for i := range c.summary {
					if c.summary[i].ScenePath == camState.spec.ScenePath {
						c.summary[i].OutputPath = path
					}
				}
				l := c.listener
				c.mu.Unlock()
				if l != nil {
					l(Event{Type: EventEncodeFinished, SessionID: sessionID,
						Camera: camState.spec.DisplayName, Path: path})
				}
			})
		}

		if err := cs.writer.Finalize(); err != nil {
			log.Error().Err(err).Str("camera", cs.spec.DisplayName).Msg("failed to finalize writer")
		}
		if vw, ok := cs.writer.(*VideoWriter); ok {
			c.encodeDone = append(c.encodeDone, vw.Done())
		}
		if p := cs.writer.LastPath(); p != "" {
			cs.spec.LastCapturePath = p
		}

		if cs.spec.Enabled {
			expected := int(duration * cs.spec.FPS)
			dropped := float64(frames) < float64(expected)*dropThreshold
			summaries = append(summaries, CameraSummary{
				Camera:     cs.spec.DisplayName,
				ScenePath:  cs.spec.ScenePath,
				Expected:   expected,
				Actual:     frames,
				TargetFPS:  cs.spec.FPS,
				ActualFPS:  actualFPS,
				Dropped:    dropped,
				OutputPath: cs.spec.LastCapturePath,
			})
		}

		cs.release()
	}

	for _, s := range summaries {
		status := "OK"
		if s.Dropped {
			status = "DROPPED"
		}
		log.Info().
			Str("camera", s.Camera).
			Int("actual", s.Actual).
			Int("expected", s.Expected).
			Float64("actual_fps", s.ActualFPS).
			Float64("target_fps", s.TargetFPS).
			Str("status", status).
			Msg("camera summary")
	}
	if n := c.captureErrors.Load(); n > 0 {
		log.Warn().Int64("errors", n).Msg("capture errors during session")
	}
	if len(c.warnings) > 0 {
		log.Warn().Int("warnings", len(c.warnings)).Msg("fps warnings during session")
	}

	c.summary = summaries
	c.cams = nil
	c.byPath = nil
	c.sched.Reset()
	c.status = StatusStopped
	c.emitLocked(Event{Type: EventSessionStopped, SessionID: sessionID})
	c.mu.Unlock()

	return summaries
}

// UpdateEnabled toggles a camera mid-session. Disabling detaches its writer
// and freezes its accumulator; re-enabling reattaches the same writer to
// the same target. Idempotent, and a no-op outside an active session.
func (c *Controller) UpdateEnabled(scenePath string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.byPath[scenePath]
	if !ok {
		return
	}
	cs.spec.Enabled = enabled
	cs.setAttached(enabled)
	logger.WithSession("capture-session", c.sessionID).Debug().
		Str("camera", scenePath).
		Bool("enabled", enabled).
		Msg("camera writer attachment updated")
}

// WaitIdle blocks until every background encode launched by past sessions
// has completed. Deterministic teardown for hosts and tests.
func (c *Controller) WaitIdle() {
	c.mu.Lock()
	done := c.encodeDone
	c.encodeDone = nil
	c.mu.Unlock()
	for _, ch := range done {
		<-ch
	}
}

// Status returns the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsCapturing reports whether a session is active.
func (c *Controller) IsCapturing() bool {
	return c.capturing.Load()
}

// SessionID returns the active (or most recent) session's ID.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// OutputDir returns the active session's timestamped output directory.
func (c *Controller) OutputDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputDir
}

// MeasuredFPS returns the sampled host frame rate.
func (c *Controller) MeasuredFPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Rate()
}

// Warnings returns the deduplicated FPS warnings raised so far.
func (c *Controller) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Cameras returns a snapshot of the live per-camera specs, including frame
// counters and last written paths.
func (c *Controller) Cameras() []CameraSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CameraSpec, 0, len(c.cams))
	for _, cs := range c.cams {
		out = append(out, cs.spec)
	}
	return out
}

// LastSummary returns the most recent session's summary.
func (c *Controller) LastSummary() []CameraSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CameraSummary, len(c.summary))
	copy(out, c.summary)
	return out
}

// CaptureErrors returns the number of failed capture steps this session.
func (c *Controller) CaptureErrors() int64 {
	return c.captureErrors.Load()
}

// emitLocked delivers an event on its own goroutine so a listener that
// calls back into the controller cannot deadlock on the session lock.
func (c *Controller) emitLocked(e Event) {
	if c.listener != nil {
		go c.listener(e)
	}
}
