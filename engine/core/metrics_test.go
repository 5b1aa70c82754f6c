package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRollingAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < AVG_COUNT; i++ {
		m.Update(0.010)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)

	// Older samples fall out of the window.
	for i := 0; i < AVG_COUNT; i++ {
		m.Update(0.020)
	}
	assert.InDelta(t, 20.0, m.FrameTime(), 1e-9)
	assert.Zero(t, m.FPS())

	// 900ms accumulated so far; this frame crosses the one second mark.
	m.Update(0.2)
	assert.Equal(t, float64(2*AVG_COUNT), m.FPS())
}

func TestSetLogLevel(t *testing.T) {
	SetLogLevel("debug")
	assert.Equal(t, "debug", LogLevel())
	SetLogLevel("nonsense")
	assert.Equal(t, "info", LogLevel())
}
