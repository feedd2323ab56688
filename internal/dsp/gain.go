package dsp

import (
	"math"
	"sync/atomic"
)

// Gain bounds shared by configuration, CLI flags and live updates.
const (
	GainMin     = 0.0
	GainMax     = 3.0
	GainDefault = 1.0
)

// ClampGain forces a gain value into [GainMin, GainMax].
func ClampGain(g float64) float64 {
	if g < GainMin {
		return GainMin
	}
	if g > GainMax {
		return GainMax
	}
	return g
}

// GainState holds the live mic and loopback gains. Capture goroutines
// read it on every block while the controller updates it, so both
// values are stored atomically.
type GainState struct {
	mic  atomic.Uint64
	loop atomic.Uint64
}

// NewGainState returns a GainState initialized with clamped values.
func NewGainState(mic, loop float64) *GainState {
	g := &GainState{}
	g.Set(mic, loop)
	return g
}

// Set updates both gains, clamping each into the allowed range.
func (g *GainState) Set(mic, loop float64) {
	g.mic.Store(math.Float64bits(ClampGain(mic)))
	g.loop.Store(math.Float64bits(ClampGain(loop)))
}

// Mic returns the current microphone gain.
func (g *GainState) Mic() float64 {
	return math.Float64frombits(g.mic.Load())
}

// Loop returns the current loopback gain.
func (g *GainState) Loop() float64 {
	return math.Float64frombits(g.loop.Load())
}

// ApplyGain scales every sample of the block in place and returns it.
func ApplyGain(b Block, gain float64) Block {
	if gain == 1.0 {
		return b
	}
	g := float32(gain)
	for i := range b.Samples {
		b.Samples[i] *= g
	}
	return b
}
