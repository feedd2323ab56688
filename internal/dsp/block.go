package dsp

// Source tags identify which capture stream a block came from.
const (
	SourceMic  = "mic"
	SourceLoop = "loop"
)

// Block is one chunk of interleaved floating-point audio. Ownership
// passes along the pipeline; a block is never mutated by two stages at
// once.
type Block struct {
	Samples  []float32 // interleaved, Frames()*Channels values
	Channels int
	Rate     int
	Source   string
}

// Frames returns the number of sample frames in the block.
func (b Block) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Peak returns the largest absolute sample value in the block.
func (b Block) Peak() float64 {
	var peak float32
	for _, s := range b.Samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak)
}

// Silence returns an all-zero block with the given geometry.
func Silence(frames, channels, rate int, source string) Block {
	return Block{
		Samples:  make([]float32, frames*channels),
		Channels: channels,
		Rate:     rate,
		Source:   source,
	}
}
