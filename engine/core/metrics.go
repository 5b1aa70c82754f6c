package core

import "github.com/spaghettifunk/penumbra/engine/containers"

const AVG_COUNT = 30

// Metrics keeps a rolling frame-time average and a frames-per-second count.
type Metrics struct {
	samples            *containers.RingQueue[float64]
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		samples: containers.NewRingQueue[float64](AVG_COUNT),
	}
}

// Update records a frame that took frameElapsedTime seconds.
func (m *Metrics) Update(frameElapsedTime float64) {
	frameMS := frameElapsedTime * 1000.0
	if m.samples.IsFull() {
		_, _ = m.samples.Dequeue()
	}
	_ = m.samples.Enqueue(frameMS)

	sum := 0.0
	m.samples.Each(func(v float64) {
		sum += v
	})
	m.msAvg = sum / float64(m.samples.Len())

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

// FrameTime is the average frame time in milliseconds.
func (m *Metrics) FrameTime() float64 {
	return m.msAvg
}

func (m *Metrics) Frame() (float64, float64) {
	return m.fps, m.msAvg
}
