package dsp

// Mix sums two blocks that have already been resampled to the same
// rate. The output carries outChannels channels (the loopback stream's
// count): inputs with fewer channels are zero-extended, inputs with
// more are truncated. The shorter input is zero-padded at its tail so
// the output length is the longer of the two.
func Mix(mic, loop Block, outChannels int) Block {
	frames := mic.Frames()
	if loop.Frames() > frames {
		frames = loop.Frames()
	}

	rate := loop.Rate
	if rate == 0 {
		rate = mic.Rate
	}

	out := Block{
		Samples:  make([]float32, frames*outChannels),
		Channels: outChannels,
		Rate:     rate,
	}
	addInto(out, mic, outChannels)
	addInto(out, loop, outChannels)
	return out
}

func addInto(dst, src Block, outChannels int) {
	copyCh := src.Channels
	if copyCh > outChannels {
		copyCh = outChannels
	}
	for f := 0; f < src.Frames(); f++ {
		for c := 0; c < copyCh; c++ {
			dst.Samples[f*outChannels+c] += src.Samples[f*src.Channels+c]
		}
	}
}
