package controller

// EventKind tags the events the controller emits to its caller.
type EventKind string

const (
	EventStatus EventKind = "status"
	EventError  EventKind = "error"
	EventInfo   EventKind = "info"
	EventLevel  EventKind = "level"
	EventClip   EventKind = "clip"
	EventSaved  EventKind = "saved"
)

// Meter tags used by Level and Clip events.
const (
	TagMic    = "mic"
	TagSystem = "sys"
)

// Event is one asynchronous notification from the pipeline. Ordering
// is preserved per tag, not across tags.
type Event struct {
	Kind EventKind
	Text string  // Status, Error, Info
	Tag  string  // Level, Clip
	Peak float64 // Level, in [0, 1]
	Path string  // Saved
}

// State is the controller's lifecycle state.
type State string

const (
	StateIdle      State = "IDLE"
	StateStarting  State = "STARTING"
	StateRecording State = "RECORDING"
	StateStopping  State = "STOPPING"
)
