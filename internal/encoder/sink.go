// Package encoder streams raw PCM into an external ffmpeg process that
// writes the durable output file. Closing the process's stdin is the
// end-of-stream signal that triggers finalization.
package encoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLaunch means the encoder process could not be started.
	ErrLaunch = errors.New("failed to launch encoder")

	// ErrPipeBroken means a PCM write to the encoder's stdin failed;
	// the session cannot continue.
	ErrPipeBroken = errors.New("encoder pipe broken")

	// ErrFinalization means the encoder exited non-zero after EOF.
	ErrFinalization = errors.New("encoder finalization failed")
)

// Output formats accepted by Spec.Format.
const (
	FormatMP3 = "mp3"
	FormatWAV = "wav" // diagnostic raw mode, pcm_s16le container
)

const finalizeTimeout = 10 * time.Second

// Spec describes one encoder invocation. PCM written to the sink must
// be signed 16-bit little-endian interleaved at SampleRate/Channels.
type Spec struct {
	FFmpegPath string // defaults to "ffmpeg" on PATH
	OutputPath string
	SampleRate int
	Channels   int
	Format     string // FormatMP3 or FormatWAV
	Bitrate    string // mp3 only, e.g. "192k"
	LogLevel   string // ffmpeg -loglevel value, empty for the default
}

// BuildArgs constructs the ffmpeg argument list for a spec.
func BuildArgs(spec Spec) []string {
	var args []string
	if spec.LogLevel != "" {
		args = append(args, "-loglevel", spec.LogLevel)
	}
	args = append(args,
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(spec.SampleRate),
		"-ac", strconv.Itoa(spec.Channels),
		"-i", "pipe:0",
	)
	if spec.Format == FormatWAV {
		args = append(args, "-c:a", "pcm_s16le")
	} else {
		args = append(args, "-b:a", spec.Bitrate)
	}
	return append(args, spec.OutputPath)
}

// Sink is the process boundary the pipeline writes into. Close
// finalizes the file; Discard aborts and removes it.
type Sink interface {
	io.WriteCloser
	Discard() error
	Path() string
}

// Factory creates sinks; the controller takes one so tests can
// substitute an in-memory sink.
type Factory func(spec Spec) (Sink, error)

// FFmpegSink pipes PCM into an ffmpeg subprocess.
type FFmpegSink struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	path       string
	stderrBuf  strings.Builder
	stderrDone chan struct{}
}

// Start launches ffmpeg and returns a sink ready for PCM writes.
func Start(spec Spec) (Sink, error) {
	ffmpeg := spec.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	args := BuildArgs(spec)

	cmd := exec.Command(ffmpeg, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
	}

	slog.Info("starting encoder", "command", ffmpeg+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	s := &FFmpegSink{
		cmd:        cmd,
		stdin:      stdin,
		path:       spec.OutputPath,
		stderrDone: make(chan struct{}),
	}
	go s.readStderr(stderr)
	return s, nil
}

// readStderr drains the encoder's diagnostic stream so the process
// never blocks on a full pipe; the text is kept for error reporting.
func (s *FFmpegSink) readStderr(pipe io.ReadCloser) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		s.stderrBuf.WriteString(line + "\n")
		slog.Debug("encoder output", "line", line)
	}
	pipe.Close()
}

// Path returns the output file path.
func (s *FFmpegSink) Path() string { return s.path }

// Write sends raw PCM to the encoder. Any write failure is mapped to
// ErrPipeBroken since the process cannot recover mid-stream.
func (s *FFmpegSink) Write(p []byte) (int, error) {
	n, err := s.stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrPipeBroken, err)
	}
	return n, nil
}

// Close signals end-of-stream, waits for the encoder to exit and
// inspects its status. Non-zero exit surfaces the encoder's stderr
// verbatim wrapped in ErrFinalization.
func (s *FFmpegSink) Close() error {
	_ = s.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case err := <-done:
		<-s.stderrDone
		if err != nil {
			return fmt.Errorf("%w: %v\n%s", ErrFinalization, err, s.stderrBuf.String())
		}
		slog.Debug("encoder exited cleanly", "output", s.path)
		return nil
	case <-time.After(finalizeTimeout):
		slog.Warn("encoder did not exit after EOF, killing", "output", s.path)
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-done
		return fmt.Errorf("%w: encoder did not exit within %s", ErrFinalization, finalizeTimeout)
	}
}

// Discard aborts the encoder and removes the partial output file. Used
// when a session produced no audio at all.
func (s *FFmpegSink) Discard() error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(finalizeTimeout):
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove discarded output: %w", err)
	}
	return nil
}
