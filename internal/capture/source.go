package capture

import (
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/mixdown-tools/deskrec/internal/dsp"
)

// Source is one open capture stream. ReadBlock blocks for at most one
// hardware period and returns fixed-size blocks of interleaved samples
// at the stream's negotiated native rate; io.EOF follows the final
// (possibly partial) block after Close.
type Source interface {
	ReadBlock() (dsp.Block, error)
	Rate() int
	Channels() int
	Close() error
}

// deviceSource feeds miniaudio callback data into a channel and
// reassembles it into fixed-size blocks on the reader side.
type deviceSource struct {
	device   *malgo.Device
	tag      string
	rate     int
	channels int
	frames   int

	data    chan []byte
	done    chan struct{}
	pending []byte
	once    sync.Once
}

func newDeviceSource(ctx *malgo.AllocatedContext, cfg malgo.DeviceConfig, tag string, rate, channels, frames int) (*deviceSource, error) {
	s := &deviceSource{
		tag:      tag,
		rate:     rate,
		channels: channels,
		frames:   frames,
		data:     make(chan []byte, 64),
		done:     make(chan struct{}),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			// The backend reuses pInput; copy before handing off. Never
			// block the audio thread: drop when the reader is stalled.
			buf := make([]byte, len(pInput))
			copy(buf, pInput)
			select {
			case s.data <- buf:
			case <-s.done:
			default:
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start capture stream: %w", err)
	}
	s.device = device
	return s, nil
}

func (s *deviceSource) Rate() int     { return s.rate }
func (s *deviceSource) Channels() int { return s.channels }

func (s *deviceSource) ReadBlock() (dsp.Block, error) {
	want := s.frames * s.channels * 2
	for len(s.pending) < want {
		select {
		case buf := <-s.data:
			s.pending = append(s.pending, buf...)
		case <-s.done:
			// Stream closed: drain what the callback already queued,
			// then flush the remainder as a short final block.
			for {
				select {
				case buf := <-s.data:
					s.pending = append(s.pending, buf...)
					continue
				default:
				}
				break
			}
			if len(s.pending) >= want {
				return s.takeBlock(want), nil
			}
			frameBytes := s.channels * 2
			rem := len(s.pending) - len(s.pending)%frameBytes
			if rem == 0 {
				return dsp.Block{}, io.EOF
			}
			return s.takeBlock(rem), nil
		}
	}
	return s.takeBlock(want), nil
}

func (s *deviceSource) takeBlock(n int) dsp.Block {
	raw := s.pending[:n]
	s.pending = s.pending[n:]
	return dsp.Block{
		Samples:  dsp.FloatsFromS16LE(raw),
		Channels: s.channels,
		Rate:     s.rate,
		Source:   s.tag,
	}
}

func (s *deviceSource) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
			s.device = nil
		}
	})
	return nil
}
