package capture

import (
	"sync"
	"sync/atomic"
)

// Scheduler decides, per host tick, when each camera is due for a capture.
//
// Policy: a camera accumulates tick deltas against its interval (1/fps).
// When the accumulator reaches the interval the camera is due once; a
// trigger subtracts exactly one interval and any remainder carries to the
// next tick. A camera is never triggered twice in one tick, so a camera
// whose target rate exceeds the host rate caps at the host rate instead of
// double-firing.
//
// The step gate serializes render-step issuance across all cameras: while a
// step is in flight, due cameras keep accruing time and their intervals are
// not consumed, so no frame interval is lost to a slow renderer.
type Scheduler struct {
	mu     sync.Mutex
	clocks map[string]*cameraClock

	stepPending atomic.Bool
}

type cameraClock struct {
	interval    float64
	accumulated float64
	frames      int
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{clocks: make(map[string]*cameraClock)}
}

// AddCamera registers a camera with its target rate. fps must be positive.
func (s *Scheduler) AddCamera(id string, fps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clocks[id] = &cameraClock{interval: 1.0 / fps}
}

// Reset drops all cameras and clears the step gate.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.clocks = make(map[string]*cameraClock)
	s.mu.Unlock()
	s.stepPending.Store(false)
}

// Advance accrues dt on the camera's accumulator. Call only for enabled
// cameras; a disabled camera's accumulator stays frozen.
func (s *Scheduler) Advance(id string, dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.clocks[id]; c != nil {
		c.accumulated += dt
	}
}

// Due reports whether the camera has accrued at least one interval.
func (s *Scheduler) Due(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.clocks[id]
	return c != nil && c.accumulated >= c.interval
}

// Consume subtracts one interval and counts one captured frame. The caller
// must have confirmed Due and acquired the step gate.
func (s *Scheduler) Consume(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.clocks[id]; c != nil {
		c.accumulated -= c.interval
		c.frames++
	}
}

// Accumulated returns the camera's pending accrued time in seconds.
func (s *Scheduler) Accumulated(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.clocks[id]; c != nil {
		return c.accumulated
	}
	return 0
}

// Frames returns the number of captures triggered for the camera.
func (s *Scheduler) Frames(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.clocks[id]; c != nil {
		return c.frames
	}
	return 0
}

// BeginStep acquires the global step gate. It returns false when a previous
// render step is still in flight.
func (s *Scheduler) BeginStep() bool {
	return s.stepPending.CompareAndSwap(false, true)
}

// EndStep releases the step gate after the in-flight render step completes
// or times out.
func (s *Scheduler) EndStep() {
	s.stepPending.Store(false)
}

// StepPending reports whether a render step is currently in flight.
func (s *Scheduler) StepPending() bool {
	return s.stepPending.Load()
}
