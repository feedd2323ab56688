package dsp

import (
	"fmt"
	"math"
)

// DefaultCeiling is the peak level the limiter holds mixed audio to.
const DefaultCeiling = 0.98

const limiterEpsilon = 1e-9

// LimiterMode selects the gain-reduction policy. The two variants are
// alternatives, never combined on the same stream.
type LimiterMode string

const (
	// LimitPeak scales the whole block down when its peak exceeds the
	// ceiling.
	LimitPeak LimiterMode = "peak"
	// LimitSoft applies a hyperbolic-tangent saturation curve bounded
	// by the ceiling.
	LimitSoft LimiterMode = "soft"
)

// ParseLimiterMode validates a configured mode string.
func ParseLimiterMode(s string) (LimiterMode, error) {
	switch LimiterMode(s) {
	case LimitPeak, LimitSoft:
		return LimiterMode(s), nil
	case "":
		return LimitPeak, nil
	}
	return "", fmt.Errorf("limiter mode must be %q or %q, got: %s", LimitPeak, LimitSoft, s)
}

// Limiter reduces gain above the ceiling and never boosts.
type Limiter struct {
	Ceiling float64
	Mode    LimiterMode
}

// Apply limits the block in place and returns it. Blocks whose peak is
// at or below the ceiling pass through unmodified in peak mode.
func (l Limiter) Apply(b Block) Block {
	switch l.Mode {
	case LimitSoft:
		c := l.Ceiling
		for i, s := range b.Samples {
			b.Samples[i] = float32(c * math.Tanh(float64(s)/c))
		}
		return b
	default:
		peak := b.Peak()
		if peak <= l.Ceiling || peak <= limiterEpsilon {
			return b
		}
		scale := float32(l.Ceiling / peak)
		for i := range b.Samples {
			b.Samples[i] *= scale
		}
		return b
	}
}
