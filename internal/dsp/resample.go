package dsp

import (
	"fmt"
	"math"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resample converts a block to dstRate using rational polyphase
// resampling, one independent pass per channel. When the source rate
// already matches the target the block is returned untouched.
func Resample(b Block, dstRate int) (Block, error) {
	if b.Rate == dstRate || len(b.Samples) == 0 {
		return b, nil
	}

	frames := b.Frames()
	channels := make([][]float32, b.Channels)
	for c := 0; c < b.Channels; c++ {
		ch := make([]float32, frames)
		for f := 0; f < frames; f++ {
			ch[f] = b.Samples[f*b.Channels+c]
		}
		out, err := resampler.ResampleMonoFloat32(ch, float64(b.Rate), float64(dstRate), resampler.QualityMedium)
		if err != nil {
			return Block{}, fmt.Errorf("resample %d->%d Hz: %w", b.Rate, dstRate, err)
		}
		channels[c] = out
	}

	// The resampler appends a filter-flush tail past the rational
	// length; keep exactly round(frames * dst/src) frames so block
	// durations stay true to real time.
	outFrames := int(math.Round(float64(frames) * float64(dstRate) / float64(b.Rate)))
	for _, ch := range channels {
		if len(ch) < outFrames {
			outFrames = len(ch)
		}
	}

	out := Block{
		Samples:  make([]float32, outFrames*b.Channels),
		Channels: b.Channels,
		Rate:     dstRate,
		Source:   b.Source,
	}
	for c, ch := range channels {
		for f := 0; f < outFrames; f++ {
			out.Samples[f*b.Channels+c] = ch[f]
		}
	}
	return out, nil
}
