package dsp

import (
	"math"
	"time"
)

// DBFS converts a linear peak in [0,1] to decibels relative to full
// scale, floored at -60 dBFS.
func DBFS(peak float64) float64 {
	if peak <= 1e-6 {
		return -60.0
	}
	return math.Max(-60.0, 20.0*math.Log10(peak))
}

// Throttle rate-limits level emission so meters update at roughly
// 10 Hz instead of once per captured block.
type Throttle struct {
	interval time.Duration
	last     time.Time
}

// NewThrottle returns a Throttle allowing one event per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether an event may be emitted now.
func (t *Throttle) Allow() bool {
	now := time.Now()
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
