package controller

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mixdown-tools/deskrec/internal/capture"
	"github.com/mixdown-tools/deskrec/internal/dsp"
	"github.com/mixdown-tools/deskrec/internal/encoder"
)

// fakeSource hands out scripted blocks, then blocks like real hardware
// until Close unblocks the reader with io.EOF.
type fakeSource struct {
	rate     int
	channels int
	blocks   chan dsp.Block
	done     chan struct{}
	once     sync.Once
}

func newFakeSource(rate, channels, nblocks int, value float32, tag string) *fakeSource {
	f := &fakeSource{
		rate:     rate,
		channels: channels,
		blocks:   make(chan dsp.Block, nblocks+1),
		done:     make(chan struct{}),
	}
	for i := 0; i < nblocks; i++ {
		b := dsp.Silence(1024, channels, rate, tag)
		for j := range b.Samples {
			b.Samples[j] = value
		}
		f.blocks <- b
	}
	return f
}

func (f *fakeSource) ReadBlock() (dsp.Block, error) {
	// Scripted blocks drain before EOF regardless of Close timing.
	select {
	case b := <-f.blocks:
		return b, nil
	default:
	}
	select {
	case b := <-f.blocks:
		return b, nil
	case <-f.done:
		return dsp.Block{}, io.EOF
	}
}

func (f *fakeSource) Rate() int     { return f.rate }
func (f *fakeSource) Channels() int { return f.channels }

func (f *fakeSource) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

// fakeOpener satisfies capture.Opener and records how often each open
// path ran.
type fakeOpener struct {
	mic      *fakeSource
	loop     *fakeSource
	micErr   error
	loopErr  error
	micCalls int
	loopCall int
}

func (o *fakeOpener) OpenMic(name string) (capture.Source, error) {
	o.micCalls++
	if o.micErr != nil {
		return nil, o.micErr
	}
	return o.mic, nil
}

func (o *fakeOpener) OpenLoopback(loopbackName, playbackName string) (capture.Source, error) {
	o.loopCall++
	if o.loopErr != nil {
		return nil, o.loopErr
	}
	return o.loop, nil
}

// fakeSink collects encoded PCM in memory.
type fakeSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	closed    bool
	discarded bool
	writeErr  error
	path      string
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.buf.Write(p)
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
	return nil
}

func (s *fakeSink) Path() string { return s.path }

func (s *fakeSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func (s *fakeSink) wasDiscarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

func (s *fakeSink) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// eventRecorder drains the controller's event channel in the
// background so emitters never stall.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(ch <-chan Event) *eventRecorder {
	r := &eventRecorder{}
	go func() {
		for ev := range ch {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *eventRecorder) find(kind EventKind, substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind && strings.Contains(ev.Text, substr) {
			return true
		}
	}
	return false
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestController(opener capture.Opener, sink *fakeSink) *Controller {
	factory := func(spec encoder.Spec) (encoder.Sink, error) {
		sink.path = spec.OutputPath
		return sink, nil
	}
	return New(opener, factory, Options{
		TargetRate:  48000,
		BlockFrames: 1024,
		Limiter:     dsp.Limiter{Ceiling: dsp.DefaultCeiling, Mode: dsp.LimitPeak},
	})
}

func startConfig() StartConfig {
	return StartConfig{
		MicDevice:      "Test Mic",
		PlaybackDevice: "Test Speakers",
		IncludeMic:     true,
		MicGain:        1.0,
		LoopGain:       1.0,
		OutputPath:     "/tmp/out.mp3",
		Format:         encoder.FormatMP3,
		Bitrate:        "192k",
	}
}

// maxSample scans interleaved s16le bytes for the largest absolute
// sample value.
func maxSample(data []byte) int {
	max := 0
	for i := 0; i+1 < len(data); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(data[i:])))
		if v < 0 {
			v = -v
		}
		if v > max {
			max = v
		}
	}
	return max
}

func TestMicToneOverSilentSystem(t *testing.T) {
	opener := &fakeOpener{
		mic:  newFakeSource(48000, 2, 4, 0.5, dsp.SourceMic),
		loop: newFakeSource(48000, 2, 4, 0, dsp.SourceLoop),
	}
	sink := &fakeSink{}
	c := newTestController(opener, sink)
	rec := recordEvents(c.Events())
	go c.Run()

	c.Start(startConfig())
	waitFor(t, "recording state", func() bool { return c.State() == StateRecording })
	waitFor(t, "mic blocks consumed", func() bool { return len(opener.mic.blocks) == 0 })

	c.Stop()
	waitFor(t, "idle state", func() bool { return c.State() == StateIdle })
	c.Exit()

	if !sink.wasClosed() {
		t.Error("sink was not finalized")
	}
	if got := maxSample(sink.bytes()); got != 16383 {
		t.Errorf("output peak = %d, want 16383", got)
	}
	if !rec.find(EventStatus, "Recording to /tmp/out.mp3") {
		t.Error("missing recording status event")
	}
	if !rec.find(EventInfo, "Recording saved to /tmp/out.mp3") {
		t.Error("missing saved info event")
	}
}

func TestLimiterHoldsHotMixAtCeiling(t *testing.T) {
	opener := &fakeOpener{
		mic:  newFakeSource(48000, 2, 4, 0.6, dsp.SourceMic),
		loop: newFakeSource(48000, 2, 4, 0.6, dsp.SourceLoop),
	}
	sink := &fakeSink{}
	c := newTestController(opener, sink)
	recordEvents(c.Events())
	go c.Run()

	c.Start(startConfig())
	waitFor(t, "recording state", func() bool { return c.State() == StateRecording })
	waitFor(t, "blocks consumed", func() bool {
		return len(opener.mic.blocks) == 0 && len(opener.loop.blocks) == 0
	})

	c.Stop()
	waitFor(t, "idle state", func() bool { return c.State() == StateIdle })
	c.Exit()

	// 0.6 + 0.6 limited to the 0.98 ceiling, so the hottest sample is
	// 0.98 * 32767 give or take float32 rounding.
	got := maxSample(sink.bytes())
	ceiling := dsp.DefaultCeiling
	want := int(ceiling * 32767)
	if got < want-2 || got > want+2 {
		t.Errorf("output peak = %d, want about %d", got, want)
	}
}

func TestStartValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StartConfig)
		wantErr string
	}{
		{
			name:    "missing output path",
			mutate:  func(c *StartConfig) { c.OutputPath = "" },
			wantErr: "No output file selected.",
		},
		{
			name: "no playback or loopback device",
			mutate: func(c *StartConfig) {
				c.PlaybackDevice = ""
				c.LoopbackDevice = ""
			},
			wantErr: "Select an output or loopback device.",
		},
		{
			name:    "mic included but not chosen",
			mutate:  func(c *StartConfig) { c.MicDevice = "" },
			wantErr: "Select a microphone.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &fakeOpener{}
			sink := &fakeSink{}
			c := newTestController(opener, sink)
			rec := recordEvents(c.Events())
			go c.Run()

			cfg := startConfig()
			tt.mutate(&cfg)
			c.Start(cfg)

			waitFor(t, "validation error", func() bool { return rec.find(EventError, tt.wantErr) })
			c.Exit()

			if got := c.State(); got != StateIdle {
				t.Errorf("state = %s, want %s", got, StateIdle)
			}
			if opener.loopCall != 0 || opener.micCalls != 0 {
				t.Error("no device should be opened when validation fails")
			}
		})
	}
}

func TestStartFailureWhenLoopbackUnavailable(t *testing.T) {
	opener := &fakeOpener{loopErr: capture.ErrLoopbackUnavailable}
	sink := &fakeSink{}
	c := newTestController(opener, sink)
	rec := recordEvents(c.Events())
	go c.Run()

	c.Start(startConfig())
	waitFor(t, "start failure event", func() bool {
		return rec.find(EventError, "Failed to start recording")
	})
	c.Exit()

	if got := c.State(); got != StateIdle {
		t.Errorf("state = %s, want %s", got, StateIdle)
	}
}

func TestEmptySessionDiscardsOutput(t *testing.T) {
	opener := &fakeOpener{
		mic:  newFakeSource(48000, 2, 0, 0, dsp.SourceMic),
		loop: newFakeSource(48000, 2, 0, 0, dsp.SourceLoop),
	}
	sink := &fakeSink{}
	c := newTestController(opener, sink)
	rec := recordEvents(c.Events())
	go c.Run()

	c.Start(startConfig())
	waitFor(t, "recording state", func() bool { return c.State() == StateRecording })

	c.Stop()
	waitFor(t, "idle state", func() bool { return c.State() == StateIdle })
	c.Exit()

	if !sink.wasDiscarded() {
		t.Error("empty session should discard the output file")
	}
	if sink.wasClosed() {
		t.Error("empty session should not finalize the output file")
	}
	if !rec.find(EventInfo, "Nothing captured") {
		t.Error("missing nothing-captured info event")
	}
	for _, ev := range rec.snapshot() {
		if ev.Kind == EventSaved {
			t.Error("empty session must not report a saved file")
		}
	}
}

func TestSetGainClampsLiveValues(t *testing.T) {
	opener := &fakeOpener{
		mic:  newFakeSource(48000, 2, 0, 0, dsp.SourceMic),
		loop: newFakeSource(48000, 2, 0, 0, dsp.SourceLoop),
	}
	sink := &fakeSink{}
	c := newTestController(opener, sink)
	recordEvents(c.Events())
	go c.Run()

	c.Start(startConfig())
	waitFor(t, "recording state", func() bool { return c.State() == StateRecording })

	c.SetGain(5.0, -1.0)
	waitFor(t, "gains applied", func() bool {
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()
		return sess != nil && sess.gains.Mic() == dsp.GainMax && sess.gains.Loop() == dsp.GainMin
	})

	c.Exit()
	waitFor(t, "idle state", func() bool { return c.State() == StateIdle })
}

func TestBrokenEncoderPipeStopsSession(t *testing.T) {
	opener := &fakeOpener{
		mic:  newFakeSource(48000, 2, 8, 0.5, dsp.SourceMic),
		loop: newFakeSource(48000, 2, 8, 0.5, dsp.SourceLoop),
	}
	sink := &fakeSink{writeErr: fmt.Errorf("%w: write |1: broken pipe", encoder.ErrPipeBroken)}
	c := newTestController(opener, sink)
	rec := recordEvents(c.Events())
	go c.Run()

	c.Start(startConfig())
	waitFor(t, "pipe error event", func() bool { return rec.find(EventError, "Encoder pipe broke") })
	waitFor(t, "idle state", func() bool { return c.State() == StateIdle })
	c.Exit()
}

func TestStopWithoutSessionIsNoOp(t *testing.T) {
	c := newTestController(&fakeOpener{}, &fakeSink{})
	recordEvents(c.Events())
	go c.Run()

	c.Stop()
	c.Exit()

	if got := c.State(); got != StateIdle {
		t.Errorf("state = %s, want %s", got, StateIdle)
	}
}
