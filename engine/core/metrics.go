package core

import (
	"sort"
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// Metrics accumulates CPU frame times and per-pass GPU timings.
type Metrics struct {
	mu sync.RWMutex

	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64

	passes map[string]time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{
		passes: make(map[string]time.Duration),
	}
}

// Update records the elapsed time of one frame, in seconds.
func (m *Metrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.MStimes[m.FrameAVGCounter] = frameMS
	if m.FrameAVGCounter == AVG_COUNT-1 {
		m.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.MSavg += m.MStimes[i]
		}
		m.MSavg /= float64(AVG_COUNT)
	}
	m.FrameAVGCounter++
	m.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.AccumulatedFrameMS += frameMS
	if m.AccumulatedFrameMS > 1000 {
		m.FPS = float64(m.Frames)
		m.AccumulatedFrameMS -= 1000
		m.Frames = 0
	}

	// Count all Frames.
	m.Frames++
}

// RecordPass stores the latest GPU duration measured for a render pass.
func (m *Metrics) RecordPass(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes[name] = d
}

// PassTimings returns the latest pass durations sorted by pass name.
func (m *Metrics) PassTimings() []PassTiming {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PassTiming, 0, len(m.passes))
	for name, d := range m.passes {
		out = append(out, PassTiming{Name: name, Duration: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type PassTiming struct {
	Name     string
	Duration time.Duration
}

func (m *Metrics) FPSValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FPS
}

func (m *Metrics) FrameTime() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MSavg
}

func (m *Metrics) Frame() (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FPS, m.MSavg
}
