package cmd

import (
	"fmt"
	"runtime"

	"github.com/mixdown-tools/deskrec/internal/capture"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio devices",
	Long: `List capture and playback devices. The playback devices double as
loopback capture candidates for recording system audio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := capture.NewBackend(capture.Format{
			TargetRate:     cfg.Audio.TargetSampleRate,
			RateCandidates: cfg.Audio.RateCandidates,
			BlockFrames:    cfg.Audio.BlockFrames,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize audio backend: %w", err)
		}
		defer backend.Close()

		inputs, err := backend.Inputs()
		if err != nil {
			return fmt.Errorf("failed to list capture devices: %w", err)
		}
		playbacks, err := backend.Playbacks()
		if err != nil {
			return fmt.Errorf("failed to list playback devices: %w", err)
		}

		fmt.Printf("🎵 Audio Devices (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("🎤 MICROPHONES (%d found):\n", len(inputs))
		for i, d := range inputs {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}

		fmt.Printf("\n🔊 PLAYBACK / LOOPBACK (%d found):\n", len(playbacks))
		for i, d := range playbacks {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • deskrec record --mic \"<microphone name>\" --playback \"<playback name>\"\n")
		fmt.Printf("  • Or set devices.microphone / devices.playback in the config file\n\n")

		return nil
	},
}
