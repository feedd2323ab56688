package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mixdown-tools/deskrec/internal/capture"
	"github.com/mixdown-tools/deskrec/internal/controller"
	"github.com/mixdown-tools/deskrec/internal/dsp"
	"github.com/mixdown-tools/deskrec/internal/encoder"

	"github.com/spf13/cobra"
)

var (
	recordOutput   string
	recordNoMic    bool
	recordMicGain  float64
	recordLoopGain float64
	recordBitrate  string
	recordRaw      bool
	recordMic      string
	recordPlayback string
	recordLoopback string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record system audio and the microphone",
	Long: `Record a loopback capture of the playback device, mixed with the
microphone unless --no-mic is given. Press Ctrl+C once to stop and
finalize the file; press it again to abort.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := cfg.Output.Format
		if recordRaw {
			format = encoder.FormatWAV
		}
		bitrate := cfg.Output.Bitrate
		if recordBitrate != "" {
			bitrate = recordBitrate
		}

		outPath := recordOutput
		if outPath == "" {
			name := time.Now().Format("rec-20060102_150405") + "." + format
			outPath = filepath.Join(cfg.Output.Directory, name)
		}

		micDevice := cfg.Devices.Microphone
		if recordMic != "" {
			micDevice = recordMic
		}
		playback := cfg.Devices.Playback
		if recordPlayback != "" {
			playback = recordPlayback
		}
		loopback := cfg.Devices.Loopback
		if recordLoopback != "" {
			loopback = recordLoopback
		}
		includeMic := cfg.Devices.IncludeMic && !recordNoMic

		micGain := cfg.Gain.Mic
		if cmd.Flags().Changed("mic-gain") {
			micGain = recordMicGain
		}
		loopGain := cfg.Gain.Loop
		if cmd.Flags().Changed("loop-gain") {
			loopGain = recordLoopGain
		}

		backend, err := capture.NewBackend(capture.Format{
			TargetRate:     cfg.Audio.TargetSampleRate,
			RateCandidates: cfg.Audio.RateCandidates,
			BlockFrames:    cfg.Audio.BlockFrames,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize audio backend: %w", err)
		}
		defer backend.Close()

		mode, err := dsp.ParseLimiterMode(cfg.Limiter.Mode)
		if err != nil {
			return err
		}

		ctrl := controller.New(backend, encoder.Start, controller.Options{
			TargetRate:  cfg.Audio.TargetSampleRate,
			BlockFrames: cfg.Audio.BlockFrames,
			Limiter:     dsp.Limiter{Ceiling: cfg.Limiter.Ceiling, Mode: mode},
		})

		done := make(chan struct{})
		go func() {
			ctrl.Run()
			close(done)
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		ffmpegLogLevel := ""
		if verboseLevel >= 2 {
			ffmpegLogLevel = "debug"
		}

		ctrl.Start(controller.StartConfig{
			MicDevice:      micDevice,
			PlaybackDevice: playback,
			LoopbackDevice: loopback,
			IncludeMic:     includeMic,
			MicGain:        micGain,
			LoopGain:       loopGain,
			OutputPath:     outPath,
			Format:         format,
			Bitrate:        bitrate,
			FFmpegPath:     cfg.Encoder.FFmpegPath,
			FFmpegLogLevel: ffmpegLogLevel,
		})

		var runErr error
		started := false
		stopping := false
		for {
			select {
			case <-sigChan:
				if stopping {
					return errors.New("aborted")
				}
				stopping = true
				fmt.Println("\nStopping...")
				ctrl.Stop()
				ctrl.Exit()
			case ev := <-ctrl.Events():
				printEvent(ev)
				switch {
				case ev.Kind == controller.EventError && !started:
					// Start never succeeded, there is nothing to wait for.
					runErr = errors.New(ev.Text)
					ctrl.Exit()
				case ev.Kind == controller.EventStatus && strings.HasPrefix(ev.Text, "Recording to"):
					started = true
				case ev.Kind == controller.EventStatus && ev.Text == "Ready to record" && !stopping:
					// The session ended on its own, e.g. the encoder died.
					stopping = true
					ctrl.Exit()
				}
			case <-done:
				for {
					select {
					case ev := <-ctrl.Events():
						printEvent(ev)
					default:
						return runErr
					}
				}
			}
		}
	},
}

// printEvent renders one controller event for the terminal.
func printEvent(ev controller.Event) {
	switch ev.Kind {
	case controller.EventStatus, controller.EventInfo:
		fmt.Println(ev.Text)
	case controller.EventError:
		fmt.Fprintln(os.Stderr, "error: "+ev.Text)
	case controller.EventSaved:
		fmt.Println("Saved: " + ev.Path)
	case controller.EventClip:
		fmt.Printf("clip! [%s]\n", ev.Tag)
	case controller.EventLevel:
		if verboseLevel >= 1 {
			fmt.Printf("level [%s] %.1f dBFS\n", ev.Tag, dsp.DBFS(ev.Peak))
		}
	}
}

func init() {
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output file (default rec-<timestamp> in the configured directory)")
	recordCmd.Flags().BoolVar(&recordNoMic, "no-mic", false, "record system audio only")
	recordCmd.Flags().Float64Var(&recordMicGain, "mic-gain", dsp.GainDefault, "microphone gain, 0 to 3")
	recordCmd.Flags().Float64Var(&recordLoopGain, "loop-gain", dsp.GainDefault, "system audio gain, 0 to 3")
	recordCmd.Flags().StringVar(&recordBitrate, "bitrate", "", "mp3 bitrate (overrides config)")
	recordCmd.Flags().BoolVar(&recordRaw, "raw", false, "write uncompressed WAV instead of MP3")
	recordCmd.Flags().StringVar(&recordMic, "mic", "", "microphone device name (overrides config)")
	recordCmd.Flags().StringVar(&recordPlayback, "playback", "", "playback device to loopback-capture (overrides config)")
	recordCmd.Flags().StringVar(&recordLoopback, "loopback", "", "explicit loopback device name (overrides config)")
}
