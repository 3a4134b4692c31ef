package scene

import "math"

// SensorWidthMM is the horizontal aperture used for all field-of-view math
// (35mm full-frame equivalent).
const SensorWidthMM = 36.0

// Camera property defaults, matching a 24mm wide-angle lens.
const (
	DefaultFocalLength   = 24.0  // mm
	DefaultFocusDistance = 400.0 // cm
)

// FOVFromFocalLength converts a focal length in mm to a horizontal field of
// view in degrees. Degenerate focal lengths fall back to 90 degrees.
func FOVFromFocalLength(focalLength float64) float64 {
	if focalLength <= 0 {
		return 90.0
	}
	return 2 * math.Atan(SensorWidthMM/(2*focalLength)) * 180 / math.Pi
}

// FocalLengthFromFOV converts a horizontal field of view in degrees to a
// focal length in mm. Degenerate angles fall back to the default lens.
func FocalLengthFromFOV(fov float64) float64 {
	if fov <= 0 || fov >= 180 {
		return DefaultFocalLength
	}
	return SensorWidthMM / (2 * math.Tan(fov/2*math.Pi/180))
}
