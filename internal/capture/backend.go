package capture

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/mixdown-tools/deskrec/internal/dsp"
)

// Format describes what a capture session wants from a device. The
// negotiated result may differ; ReadBlock reports the actual rate and
// channel count on every block.
type Format struct {
	TargetRate     int
	RateCandidates []int // probed after TargetRate, in priority order
	BlockFrames    int
}

// Device is one enumerated audio endpoint.
type Device struct {
	Name string
	id   *malgo.DeviceID
}

// Opener abstracts device opening so the controller can be tested
// without hardware.
type Opener interface {
	OpenMic(name string) (Source, error)
	OpenLoopback(loopbackName, playbackName string) (Source, error)
}

// Backend owns the miniaudio context and opens capture sources on it.
type Backend struct {
	ctx    *malgo.AllocatedContext
	format Format
}

// NewBackend initializes the miniaudio context.
func NewBackend(format Format) (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Backend{ctx: ctx, format: format}, nil
}

// Close releases the miniaudio context. Sources must be closed first.
func (b *Backend) Close() {
	if b.ctx != nil {
		_ = b.ctx.Uninit()
		b.ctx.Free()
		b.ctx = nil
	}
}

// Inputs lists capture-capable devices (microphones).
func (b *Backend) Inputs() ([]Device, error) {
	return b.list(malgo.Capture)
}

// Playbacks lists playback devices; on loopback-capable hosts these
// are also the loopback capture candidates.
func (b *Backend) Playbacks() ([]Device, error) {
	return b.list(malgo.Playback)
}

func (b *Backend) list(kind malgo.DeviceType) ([]Device, error) {
	infos, err := b.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		id := info.ID
		devices = append(devices, Device{Name: info.Name(), id: &id})
	}
	return devices, nil
}

// OpenMic opens the named microphone, or the default input when name
// is empty, negotiating the first supported rate/channel combination.
func (b *Backend) OpenMic(name string) (Source, error) {
	var dev *Device
	if name != "" {
		devices, err := b.Inputs()
		if err != nil {
			return nil, err
		}
		i := indexByName(deviceNames(devices), name)
		if i < 0 {
			return nil, fmt.Errorf("%w: microphone %q not found", ErrDeviceUnavailable, name)
		}
		dev = &devices[i]
	}
	return b.open(malgo.Capture, dev, dsp.SourceMic)
}

// OpenLoopback opens a loopback capture of a playback device. An
// explicit loopback device name wins; otherwise the device is resolved
// by matching the chosen playback device name, falling back to the
// first loopback-capable device.
func (b *Backend) OpenLoopback(loopbackName, playbackName string) (Source, error) {
	devices, err := b.Playbacks()
	if err != nil {
		return nil, err
	}
	i, err := ResolveLoopback(deviceNames(devices), loopbackName, playbackName)
	if err != nil {
		return nil, err
	}
	slog.Debug("resolved loopback device", "name", devices[i].Name)
	return b.open(malgo.Loopback, &devices[i], dsp.SourceLoop)
}

// open probes candidate rates crossed with candidate channel counts
// and keeps the first combination the device accepts.
func (b *Backend) open(kind malgo.DeviceType, dev *Device, sourceTag string) (Source, error) {
	var lastErr error
	for _, rate := range RateCandidates(b.format.TargetRate, b.format.RateCandidates) {
		for _, channels := range []int{2, 1} {
			cfg := malgo.DefaultDeviceConfig(kind)
			cfg.Capture.Format = malgo.FormatS16
			cfg.Capture.Channels = uint32(channels)
			cfg.SampleRate = uint32(rate)
			cfg.PeriodSizeInFrames = uint32(b.format.BlockFrames)
			cfg.Alsa.NoMMap = 1
			if dev != nil {
				if kind == malgo.Loopback {
					// Loopback taps a render device, so the ID goes on
					// the playback side.
					cfg.Playback.DeviceID = dev.id.Pointer()
				} else {
					cfg.Capture.DeviceID = dev.id.Pointer()
				}
			}

			src, err := newDeviceSource(b.ctx, cfg, sourceTag, rate, channels, b.format.BlockFrames)
			if err != nil {
				lastErr = err
				slog.Debug("capture format rejected",
					"source", sourceTag, "rate", rate, "channels", channels, "error", err)
				continue
			}
			slog.Info("capture stream opened",
				"source", sourceTag, "rate", rate, "channels", channels)
			return src, nil
		}
	}
	return nil, fmt.Errorf("%w (last error: %v)", ErrFormatUnsupported, lastErr)
}

// RateCandidates returns the probe order: the target rate first, then
// the fallback list with duplicates removed.
func RateCandidates(target int, fallbacks []int) []int {
	out := []int{target}
	for _, r := range fallbacks {
		if r != target && r > 0 {
			out = append(out, r)
		}
	}
	return out
}

// ResolveLoopback picks a loopback device index from the playback
// device name list. Resolution order: explicit name, prefix match on
// the playback device name, substring match, first available.
func ResolveLoopback(names []string, explicit, playback string) (int, error) {
	if explicit != "" {
		if i := indexByName(names, explicit); i >= 0 {
			return i, nil
		}
		return -1, fmt.Errorf("%w: loopback device %q not found", ErrDeviceUnavailable, explicit)
	}
	if len(names) == 0 {
		return -1, ErrLoopbackUnavailable
	}
	if playback != "" {
		for i, n := range names {
			if strings.HasPrefix(n, playback) {
				return i, nil
			}
		}
		for i, n := range names {
			if strings.Contains(n, playback) {
				return i, nil
			}
		}
	}
	return 0, nil
}

func indexByName(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func deviceNames(devices []Device) []string {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names
}
