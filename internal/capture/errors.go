package capture

import "errors"

var (
	// ErrDeviceUnavailable means a named device was not found or could
	// not be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrFormatUnsupported means no candidate sample-rate/channel
	// combination was accepted by the device.
	ErrFormatUnsupported = errors.New("no supported capture format")

	// ErrLoopbackUnavailable means no loopback-capable device exists.
	ErrLoopbackUnavailable = errors.New("no loopback-capable device available")
)
