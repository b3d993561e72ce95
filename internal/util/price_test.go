package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"round up to nse tick", 101.23, 0.05, 101.25},
		{"round down to nse tick", 101.22, 0.05, 101.20},
		{"exact tick unchanged", 250.55, 0.05, 250.55},
		{"zero tick passthrough", 101.23, 0, 101.23},
		{"negative tick passthrough", 101.23, -0.05, 101.23},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RoundToTick(tt.x, tt.tick), 1e-9)
		})
	}
}

func TestFloorToTick(t *testing.T) {
	assert.InDelta(t, 101.20, FloorToTick(101.24, 0.05), 1e-9)
	assert.InDelta(t, 101.25, FloorToTick(101.25, 0.05), 1e-9)
	assert.InDelta(t, 7.3, FloorToTick(7.3, 0), 1e-9)
}

func TestCeilToTick(t *testing.T) {
	assert.InDelta(t, 101.25, CeilToTick(101.21, 0.05), 1e-9)
	assert.InDelta(t, 101.25, CeilToTick(101.25, 0.05), 1e-9)
	assert.InDelta(t, 7.3, CeilToTick(7.3, 0), 1e-9)
}
