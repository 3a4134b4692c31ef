package capture

// defaultMeasuredRate is reported before the first sampling window closes.
const defaultMeasuredRate = 60.0

// frameClockWindow is the sampling window in accumulated tick seconds.
const frameClockWindow = 1.0

// FrameClock measures the host loop's achieved frame rate from raw tick
// deltas. The rate is recomputed once per rolling one-second window.
type FrameClock struct {
	rate    float64
	samples int
	elapsed float64
}

// NewFrameClock returns a clock reporting the conservative default rate
// until its first window closes.
func NewFrameClock() *FrameClock {
	return &FrameClock{rate: defaultMeasuredRate}
}

// OnTick feeds one tick delta into the current window. It returns true when
// the window closed and Rate was recomputed.
func (c *FrameClock) OnTick(dt float64) bool {
	c.samples++
	c.elapsed += dt
	if c.elapsed < frameClockWindow {
		return false
	}
	c.rate = float64(c.samples) / c.elapsed
	c.samples = 0
	c.elapsed = 0
	return true
}

// Rate returns the most recently measured host frame rate.
func (c *FrameClock) Rate() float64 {
	return c.rate
}

// Reset discards the current window and restores the default rate.
func (c *FrameClock) Reset() {
	c.rate = defaultMeasuredRate
	c.samples = 0
	c.elapsed = 0
}
