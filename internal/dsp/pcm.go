package dsp

import "encoding/binary"

// FloatsFromS16LE converts raw signed 16-bit little-endian PCM bytes
// into float32 samples in [-1, 1]. Interleaving is preserved.
func FloatsFromS16LE(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		out[i] = float32(v) / 32767.0
	}
	return out
}

// S16LEFromFloats converts float32 samples into signed 16-bit
// little-endian PCM bytes, clamping to [-1, 1] first.
func S16LEFromFloats(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s*32767)))
	}
	return out
}
