// Package controller owns the capture -> resample -> mix -> limit ->
// encode pipeline and the state machine that drives it. Commands are
// serialized on a single loop; events flow back asynchronously.
package controller

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mixdown-tools/deskrec/internal/capture"
	"github.com/mixdown-tools/deskrec/internal/dsp"
	"github.com/mixdown-tools/deskrec/internal/encoder"
)

// ClipLevel is the full-scale threshold for Clip events.
const ClipLevel = 1.0

const levelInterval = 100 * time.Millisecond

// StartConfig is everything one recording session needs.
type StartConfig struct {
	MicDevice      string
	PlaybackDevice string
	LoopbackDevice string
	IncludeMic     bool
	MicGain        float64
	LoopGain       float64
	OutputPath     string
	Format         string // encoder.FormatMP3 or encoder.FormatWAV
	Bitrate        string
	FFmpegPath     string
	FFmpegLogLevel string
}

// Options configures the fixed per-controller pipeline parameters.
type Options struct {
	TargetRate  int
	BlockFrames int
	Limiter     dsp.Limiter
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdSetGain
	cmdExit
)

type command struct {
	kind     cmdKind
	start    StartConfig
	micGain  float64
	loopGain float64
}

// session aggregates one active recording.
type session struct {
	cfg     StartConfig
	gains   *dsp.GainState
	running atomic.Bool

	micSrc  capture.Source
	loopSrc capture.Source
	sink    encoder.Sink

	micQ  blockQueue
	loopQ blockQueue

	captured atomic.Int64 // blocks captured across both streams

	captureWG sync.WaitGroup
	procDone  chan struct{}
}

// Controller serializes Start/Stop/SetGain/Exit and runs at most one
// session at a time.
type Controller struct {
	opener  capture.Opener
	newSink encoder.Factory
	opts    Options

	cmds   chan command
	events chan Event

	mu    sync.Mutex
	state State
	sess  *session
}

// New builds a controller. Run must be called for commands to take
// effect.
func New(opener capture.Opener, newSink encoder.Factory, opts Options) *Controller {
	return &Controller{
		opener:  opener,
		newSink: newSink,
		opts:    opts,
		cmds:    make(chan command, 16),
		events:  make(chan Event, 256),
		state:   StateIdle,
	}
}

// Events returns the stream of asynchronous notifications. The caller
// must drain it; Level and Clip events are dropped rather than ever
// blocking the pipeline.
func (c *Controller) Events() <-chan Event { return c.events }

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start requests a new recording session.
func (c *Controller) Start(cfg StartConfig) { c.cmds <- command{kind: cmdStart, start: cfg} }

// Stop ends the active session and finalizes the output file.
func (c *Controller) Stop() { c.cmds <- command{kind: cmdStop} }

// SetGain updates the live gains; values are clamped to [0, 3].
func (c *Controller) SetGain(mic, loop float64) {
	c.cmds <- command{kind: cmdSetGain, micGain: mic, loopGain: loop}
}

// Exit stops any active session and ends the command loop.
func (c *Controller) Exit() { c.cmds <- command{kind: cmdExit} }

// Run is the controller task: it serializes commands so exactly one
// session lifecycle transition happens at a time. It returns after
// Exit has been processed.
func (c *Controller) Run() {
	for cmd := range c.cmds {
		switch cmd.kind {
		case cmdStart:
			c.handleStart(cmd.start)
		case cmdStop:
			c.handleStop()
		case cmdSetGain:
			c.mu.Lock()
			sess := c.sess
			c.mu.Unlock()
			if sess != nil {
				sess.gains.Set(cmd.micGain, cmd.loopGain)
				slog.Debug("gains updated", "mic", sess.gains.Mic(), "loop", sess.gains.Loop())
			}
		case cmdExit:
			c.handleStop()
			return
		}
	}
}

func (c *Controller) handleStart(cfg StartConfig) {
	if c.State() != StateIdle {
		c.emit(Event{Kind: EventError, Text: "A recording is already in progress."})
		return
	}

	// Configuration must be complete before any resource is touched.
	switch {
	case cfg.OutputPath == "":
		c.emit(Event{Kind: EventError, Text: "No output file selected."})
		return
	case cfg.PlaybackDevice == "" && cfg.LoopbackDevice == "":
		c.emit(Event{Kind: EventError, Text: "Select an output or loopback device."})
		return
	case cfg.IncludeMic && cfg.MicDevice == "":
		c.emit(Event{Kind: EventError, Text: "Select a microphone."})
		return
	}

	c.setState(StateStarting)

	loopSrc, err := c.opener.OpenLoopback(cfg.LoopbackDevice, cfg.PlaybackDevice)
	if err != nil {
		c.startFailed(fmt.Errorf("failed to open loopback capture: %w", err), nil, nil)
		return
	}

	var micSrc capture.Source
	if cfg.IncludeMic {
		micSrc, err = c.opener.OpenMic(cfg.MicDevice)
		if err != nil {
			c.startFailed(fmt.Errorf("failed to open microphone: %w", err), loopSrc, nil)
			return
		}
	}

	sink, err := c.newSink(encoder.Spec{
		FFmpegPath: cfg.FFmpegPath,
		OutputPath: cfg.OutputPath,
		SampleRate: c.opts.TargetRate,
		Channels:   loopSrc.Channels(),
		Format:     cfg.Format,
		Bitrate:    cfg.Bitrate,
		LogLevel:   cfg.FFmpegLogLevel,
	})
	if err != nil {
		c.startFailed(err, loopSrc, micSrc)
		return
	}

	sess := &session{
		cfg:      cfg,
		gains:    dsp.NewGainState(cfg.MicGain, cfg.LoopGain),
		micSrc:   micSrc,
		loopSrc:  loopSrc,
		sink:     sink,
		procDone: make(chan struct{}),
	}
	sess.running.Store(true)

	c.mu.Lock()
	c.sess = sess
	c.state = StateRecording
	c.mu.Unlock()

	sess.captureWG.Add(1)
	go c.captureLoop(sess, loopSrc, &sess.loopQ, TagSystem, sess.gains.Loop)
	if micSrc != nil {
		sess.captureWG.Add(1)
		go c.captureLoop(sess, micSrc, &sess.micQ, TagMic, sess.gains.Mic)
	}
	go c.processingLoop(sess)

	slog.Info("recording started", "output", cfg.OutputPath, "include_mic", cfg.IncludeMic)
	c.emit(Event{Kind: EventStatus, Text: "Recording to " + cfg.OutputPath})
}

// startFailed tears down partial resources and returns to Idle.
func (c *Controller) startFailed(err error, srcs ...capture.Source) {
	for _, s := range srcs {
		if s != nil {
			_ = s.Close()
		}
	}
	slog.Error("failed to start recording", "error", err)
	c.emit(Event{Kind: EventError, Text: "Failed to start recording: " + err.Error()})
	c.setState(StateIdle)
}

// captureLoop is one task per hardware stream: blocking reads, gain
// applied right after the int16 -> float conversion so meters match
// the audio that is actually recorded, then hand-off to the queue.
func (c *Controller) captureLoop(sess *session, src capture.Source, q *blockQueue, tag string, gain func() float64) {
	defer sess.captureWG.Done()
	throttle := dsp.NewThrottle(levelInterval)

	// Runs until the source reports io.EOF after Close, so the final
	// partial block is still delivered.
	for {
		blk, err := src.ReadBlock()
		if err != nil {
			if !errors.Is(err, io.EOF) && sess.running.Load() {
				// Not fatal to the session: the mixer substitutes
				// silence for this stream from now on.
				slog.Error("capture read failed", "tag", tag, "error", err)
				c.emit(Event{Kind: EventError, Text: fmt.Sprintf("%s read error: %v", tag, err)})
			}
			return
		}
		blk = dsp.ApplyGain(blk, gain())
		sess.captured.Add(1)
		if throttle.Allow() {
			peak := blk.Peak()
			if peak > 1.0 {
				peak = 1.0
			}
			c.emitLossy(Event{Kind: EventLevel, Tag: tag, Peak: peak})
		}
		q.push(blk)
	}
}

// processingLoop paces itself to real time on the loopback stream's
// block duration, drains both queues once per tick, and performs one
// final full drain after the capture tasks have joined.
func (c *Controller) processingLoop(sess *session) {
	defer close(sess.procDone)

	blockDur := time.Duration(float64(c.opts.BlockFrames) / float64(sess.loopSrc.Rate()) * float64(time.Second))

	for sess.running.Load() {
		start := time.Now()
		c.processTick(sess)
		if sleep := blockDur - time.Since(start); sleep > 0 {
			time.Sleep(sleep)
		}
	}

	// Flush: capture tasks first, then everything still queued.
	sess.captureWG.Wait()
	for sess.micQ.len() > 0 || sess.loopQ.len() > 0 {
		c.processTick(sess)
	}
}

// processTick handles one time slice: take one block per stream (or
// silence), resample to the target rate, mix, limit, encode.
func (c *Controller) processTick(sess *session) {
	loopBlk, ok := sess.loopQ.tryPop()
	if !ok {
		loopBlk = dsp.Silence(c.opts.BlockFrames, sess.loopSrc.Channels(), sess.loopSrc.Rate(), dsp.SourceLoop)
	}

	var micBlk dsp.Block
	if sess.micSrc != nil {
		micBlk, ok = sess.micQ.tryPop()
		if !ok {
			micBlk = dsp.Silence(c.opts.BlockFrames, sess.micSrc.Channels(), sess.micSrc.Rate(), dsp.SourceMic)
		}
	}

	loopRs := c.resample(sess, loopBlk, TagSystem)
	micRs := c.resample(sess, micBlk, TagMic)

	if loopRs.Peak() >= ClipLevel {
		c.emitLossy(Event{Kind: EventClip, Tag: TagSystem})
	}
	if sess.micSrc != nil && micRs.Peak() >= ClipLevel {
		c.emitLossy(Event{Kind: EventClip, Tag: TagMic})
	}

	mixed := dsp.Mix(micRs, loopRs, sess.loopSrc.Channels())
	mixed = c.opts.Limiter.Apply(mixed)
	if len(mixed.Samples) == 0 {
		return
	}

	if _, err := sess.sink.Write(dsp.S16LEFromFloats(mixed.Samples)); err != nil {
		// A broken encoder pipe is fatal: stop the session from the
		// inside and let the command loop finalize it.
		if sess.running.CompareAndSwap(true, false) {
			slog.Error("encoder write failed", "error", err)
			c.emit(Event{Kind: EventError, Text: "Encoder pipe broke: " + err.Error()})
			c.cmds <- command{kind: cmdStop}
		}
	}
}

func (c *Controller) resample(sess *session, blk dsp.Block, tag string) dsp.Block {
	if len(blk.Samples) == 0 {
		return blk
	}
	out, err := dsp.Resample(blk, c.opts.TargetRate)
	if err != nil {
		c.emit(Event{Kind: EventError, Text: fmt.Sprintf("%s resample error: %v", tag, err)})
		return dsp.Silence(blk.Frames(), blk.Channels, c.opts.TargetRate, blk.Source)
	}
	return out
}

// handleStop runs the stop protocol once: halt capture, flush, close
// the encoder pipe, await the process and report the result. It is a
// no-op when no session exists.
func (c *Controller) handleStop() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}

	c.setState(StateStopping)
	c.emit(Event{Kind: EventStatus, Text: "Finalizing file..."})

	sess.running.Store(false)
	// Closing the sources unblocks any in-flight ReadBlock.
	_ = sess.loopSrc.Close()
	if sess.micSrc != nil {
		_ = sess.micSrc.Close()
	}
	<-sess.procDone

	if sess.captured.Load() == 0 {
		if err := sess.sink.Discard(); err != nil {
			slog.Warn("failed to discard empty recording", "error", err)
		}
		c.emit(Event{Kind: EventInfo, Text: "Nothing captured; no file was written."})
	} else if err := sess.sink.Close(); err != nil {
		c.emit(Event{Kind: EventError, Text: err.Error()})
	} else {
		slog.Info("recording saved", "output", sess.sink.Path())
		c.emit(Event{Kind: EventSaved, Path: sess.sink.Path()})
		c.emit(Event{Kind: EventInfo, Text: "Recording saved to " + sess.sink.Path()})
	}

	c.mu.Lock()
	c.sess = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.emit(Event{Kind: EventStatus, Text: "Ready to record"})
}

func (c *Controller) emit(ev Event) { c.events <- ev }

// emitLossy drops meter traffic instead of ever stalling a pipeline
// goroutine behind a slow event consumer.
func (c *Controller) emitLossy(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
