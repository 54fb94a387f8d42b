package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapKnobEndpoints(t *testing.T) {
	tests := []struct {
		knobMin, knobMax, volMin, volMax int
	}{
		{0, 1023, -60, 0},
		{0, 1023, -60, 12},
		{10, 1000, -40, 10},
		{-5, 5, 0, 100},
	}

	for _, tt := range tests {
		gain, pct := MapKnob(float64(tt.knobMin), tt.knobMin, tt.knobMax, tt.volMin, tt.volMax)
		assert.Equal(t, tt.volMin, gain, "gain at knobMin for %+v", tt)
		assert.Equal(t, 0, pct)

		gain, pct = MapKnob(float64(tt.knobMax), tt.knobMin, tt.knobMax, tt.volMin, tt.volMax)
		assert.Equal(t, tt.volMax, gain, "gain at knobMax for %+v", tt)
		assert.Equal(t, 100, pct)
	}
}

func TestMapKnobMidpoint(t *testing.T) {
	// (512/1023)*60 - 60 = -29.97..., truncated toward zero.
	gain, pct := MapKnob(512, 0, 1023, -60, 0)
	assert.Equal(t, -29, gain)
	assert.Equal(t, 52, pct)
}

func TestMapKnobMonotonic(t *testing.T) {
	_, prev := MapKnob(0, 0, 1023, -60, 0)
	for raw := 1; raw <= 1023; raw++ {
		_, pct := MapKnob(float64(raw), 0, 1023, -60, 0)
		if pct < prev {
			t.Fatalf("percent decreased at raw=%d: %d < %d", raw, pct, prev)
		}
		prev = pct
	}
}

func TestMapKnobPassesThroughOutOfRange(t *testing.T) {
	gain, pct := MapKnob(2046, 0, 1023, -60, 0)
	assert.Equal(t, 60, gain)
	assert.Equal(t, 200, pct)

	gain, pct = MapKnob(-1023, 0, 1023, -60, 0)
	assert.Equal(t, -120, gain)
	assert.Equal(t, -100, pct)
}
