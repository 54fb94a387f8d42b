package routing

import "math"

// MapKnob linearly maps a raw knob sample onto the gain range and reports the
// matching display percentage. Gain is truncated toward zero.
//
// raw is not clamped: samples outside [knobMin, knobMax] produce gains outside
// [volumeMin, volumeMax] and percentages outside [0, 100]. Backends clamp to
// whatever their API accepts. Callers guarantee knobMax > knobMin and
// volumeMax > volumeMin; config.Validate enforces it at load time.
func MapKnob(raw float64, knobMin, knobMax, volumeMin, volumeMax int) (gain int, percent int) {
	span := float64(volumeMax - volumeMin)
	g := (raw-float64(knobMin))/float64(knobMax-knobMin)*span + float64(volumeMin)
	gain = int(g)
	// half-up
	percent = int(math.Floor(float64(gain-volumeMin)*100/span + 0.5))
	return gain, percent
}
