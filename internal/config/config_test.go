package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}

	if cfg.Audio.TargetSampleRate != 48000 {
		t.Errorf("target_sample_rate = %d, want 48000", cfg.Audio.TargetSampleRate)
	}
	if cfg.Audio.BlockFrames != 1024 {
		t.Errorf("block_frames = %d, want 1024", cfg.Audio.BlockFrames)
	}
	if !cfg.Devices.IncludeMic {
		t.Error("include_mic should default to true")
	}
	if cfg.Gain.Mic != 1.0 || cfg.Gain.Loop != 1.0 {
		t.Errorf("gains = %g/%g, want 1.0/1.0", cfg.Gain.Mic, cfg.Gain.Loop)
	}
	if cfg.Output.Format != "mp3" || cfg.Output.Bitrate != "192k" {
		t.Errorf("output = %s/%s, want mp3/192k", cfg.Output.Format, cfg.Output.Bitrate)
	}
	if cfg.Limiter.Ceiling != 0.98 || cfg.Limiter.Mode != "peak" {
		t.Errorf("limiter = %g/%s, want 0.98/peak", cfg.Limiter.Ceiling, cfg.Limiter.Mode)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	content := `
audio:
  target_sample_rate: 44100
devices:
  microphone: "USB Mic"
  playback: "Speakers"
  include_mic: false
gain:
  mic: 1.5
  loop: 0.8
output:
  directory: "~/Recordings"
  format: wav
limiter:
  mode: soft
`
	path := filepath.Join(t.TempDir(), "deskrec.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Audio.TargetSampleRate != 44100 {
		t.Errorf("target_sample_rate = %d, want 44100", cfg.Audio.TargetSampleRate)
	}
	if cfg.Audio.BlockFrames != 1024 {
		t.Errorf("block_frames should keep its default, got %d", cfg.Audio.BlockFrames)
	}
	if cfg.Devices.Microphone != "USB Mic" || cfg.Devices.IncludeMic {
		t.Errorf("devices = %+v", cfg.Devices)
	}
	if cfg.Gain.Mic != 1.5 || cfg.Gain.Loop != 0.8 {
		t.Errorf("gains = %g/%g, want 1.5/0.8", cfg.Gain.Mic, cfg.Gain.Loop)
	}
	if cfg.Output.Format != "wav" {
		t.Errorf("format = %s, want wav", cfg.Output.Format)
	}
	if strings.HasPrefix(cfg.Output.Directory, "~") {
		t.Errorf("directory tilde not expanded: %s", cfg.Output.Directory)
	}
	if cfg.Limiter.Mode != "soft" {
		t.Errorf("limiter mode = %s, want soft", cfg.Limiter.Mode)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskrec.yaml")
	if err := os.WriteFile(path, []byte("output: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero sample rate",
			mutate:  func(c *Config) { c.Audio.TargetSampleRate = 0 },
			wantErr: "target_sample_rate",
		},
		{
			name:    "negative block frames",
			mutate:  func(c *Config) { c.Audio.BlockFrames = -1 },
			wantErr: "block_frames",
		},
		{
			name:    "bad rate candidate",
			mutate:  func(c *Config) { c.Audio.RateCandidates = []int{48000, 0} },
			wantErr: "rate_candidates",
		},
		{
			name:    "mic gain above range",
			mutate:  func(c *Config) { c.Gain.Mic = 3.5 },
			wantErr: "gain.mic",
		},
		{
			name:    "loop gain below range",
			mutate:  func(c *Config) { c.Gain.Loop = -0.1 },
			wantErr: "gain.loop",
		},
		{
			name:    "unknown output format",
			mutate:  func(c *Config) { c.Output.Format = "ogg" },
			wantErr: "output.format",
		},
		{
			name: "mp3 without bitrate",
			mutate: func(c *Config) {
				c.Output.Format = "mp3"
				c.Output.Bitrate = ""
			},
			wantErr: "bitrate",
		},
		{
			name:    "ceiling above full scale",
			mutate:  func(c *Config) { c.Limiter.Ceiling = 1.5 },
			wantErr: "limiter.ceiling",
		},
		{
			name:    "unknown limiter mode",
			mutate:  func(c *Config) { c.Limiter.Mode = "brickwall" },
			wantErr: "limiter mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in   string
		want string
	}{
		{"~/Recordings", filepath.Join(home, "Recordings")},
		{"/abs/path", "/abs/path"},
		{".", "."},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
