// Package config loads and validates the recorder configuration from a
// YAML file, environment variables and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mixdown-tools/deskrec/internal/dsp"
	"github.com/mixdown-tools/deskrec/internal/encoder"
)

type Config struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Devices DevicesConfig `mapstructure:"devices" yaml:"devices"`
	Gain    GainConfig    `mapstructure:"gain" yaml:"gain"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Limiter LimiterConfig `mapstructure:"limiter" yaml:"limiter"`
	Encoder EncoderConfig `mapstructure:"encoder" yaml:"encoder"`
}

type AudioConfig struct {
	TargetSampleRate int   `mapstructure:"target_sample_rate" yaml:"target_sample_rate"`
	BlockFrames      int   `mapstructure:"block_frames" yaml:"block_frames"`
	RateCandidates   []int `mapstructure:"rate_candidates" yaml:"rate_candidates"`
}

type DevicesConfig struct {
	Microphone string `mapstructure:"microphone" yaml:"microphone"`
	Playback   string `mapstructure:"playback" yaml:"playback"`
	Loopback   string `mapstructure:"loopback" yaml:"loopback"`
	IncludeMic bool   `mapstructure:"include_mic" yaml:"include_mic"`
}

type GainConfig struct {
	Mic  float64 `mapstructure:"mic" yaml:"mic"`
	Loop float64 `mapstructure:"loop" yaml:"loop"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Format    string `mapstructure:"format" yaml:"format"` // "mp3" or "wav"
	Bitrate   string `mapstructure:"bitrate" yaml:"bitrate"`
}

type LimiterConfig struct {
	Ceiling float64 `mapstructure:"ceiling" yaml:"ceiling"`
	Mode    string  `mapstructure:"mode" yaml:"mode"` // "peak" or "soft"
}

type EncoderConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			TargetSampleRate: 48000,
			BlockFrames:      1024,
			RateCandidates:   []int{48000, 44100, 32000, 24000},
		},
		Devices: DevicesConfig{
			IncludeMic: true,
		},
		Gain: GainConfig{
			Mic:  dsp.GainDefault,
			Loop: dsp.GainDefault,
		},
		Output: OutputConfig{
			Directory: ".",
			Format:    encoder.FormatMP3,
			Bitrate:   "192k",
		},
		Limiter: LimiterConfig{
			Ceiling: dsp.DefaultCeiling,
			Mode:    string(dsp.LimitPeak),
		},
		Encoder: EncoderConfig{
			FFmpegPath: "ffmpeg",
		},
	}
}

// Load reads the config file, layering it over the defaults. A missing
// file is not an error; the defaults apply. Environment variables with
// the DESKREC_ prefix override file values.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DESKREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configFile); statErr == nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("audio.target_sample_rate", d.Audio.TargetSampleRate)
	v.SetDefault("audio.block_frames", d.Audio.BlockFrames)
	v.SetDefault("audio.rate_candidates", d.Audio.RateCandidates)
	v.SetDefault("devices.include_mic", d.Devices.IncludeMic)
	v.SetDefault("gain.mic", d.Gain.Mic)
	v.SetDefault("gain.loop", d.Gain.Loop)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.bitrate", d.Output.Bitrate)
	v.SetDefault("limiter.ceiling", d.Limiter.Ceiling)
	v.SetDefault("limiter.mode", d.Limiter.Mode)
	v.SetDefault("encoder.ffmpeg_path", d.Encoder.FFmpegPath)
}

// Validate checks every field the pipeline depends on.
func (c *Config) Validate() error {
	if c.Audio.TargetSampleRate <= 0 {
		return fmt.Errorf("audio.target_sample_rate must be > 0, got: %d", c.Audio.TargetSampleRate)
	}
	if c.Audio.BlockFrames <= 0 {
		return fmt.Errorf("audio.block_frames must be > 0, got: %d", c.Audio.BlockFrames)
	}
	for i, r := range c.Audio.RateCandidates {
		if r <= 0 {
			return fmt.Errorf("audio.rate_candidates[%d] must be > 0, got: %d", i, r)
		}
	}
	if c.Gain.Mic < dsp.GainMin || c.Gain.Mic > dsp.GainMax {
		return fmt.Errorf("gain.mic must be in [%g, %g], got: %g", dsp.GainMin, dsp.GainMax, c.Gain.Mic)
	}
	if c.Gain.Loop < dsp.GainMin || c.Gain.Loop > dsp.GainMax {
		return fmt.Errorf("gain.loop must be in [%g, %g], got: %g", dsp.GainMin, dsp.GainMax, c.Gain.Loop)
	}
	if c.Output.Format != encoder.FormatMP3 && c.Output.Format != encoder.FormatWAV {
		return fmt.Errorf("output.format must be %q or %q, got: %s", encoder.FormatMP3, encoder.FormatWAV, c.Output.Format)
	}
	if c.Output.Format == encoder.FormatMP3 && c.Output.Bitrate == "" {
		return fmt.Errorf("output.bitrate is required for mp3 output")
	}
	if c.Limiter.Ceiling <= 0 || c.Limiter.Ceiling > 1 {
		return fmt.Errorf("limiter.ceiling must be in (0, 1], got: %g", c.Limiter.Ceiling)
	}
	if _, err := dsp.ParseLimiterMode(c.Limiter.Mode); err != nil {
		return err
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
