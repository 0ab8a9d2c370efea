package player

import "time"

// State is the controller's lifecycle state. Live refresh runs alongside
// Buffering and Playing and is reported separately in Stats.
type State int

const (
	StateIdle State = iota
	StateLoadingManifest
	StateSelectingVariant
	StateInitializingSink
	StateBuffering
	StatePlaying
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingManifest:
		return "loading-manifest"
	case StateSelectingVariant:
		return "selecting-variant"
	case StateInitializingSink:
		return "initializing-sink"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

const (
	// aheadTolerance lets the playhead sit slightly before a buffered range
	// and still count it as forward buffer.
	aheadTolerance = 0.5

	disposeTimeout = 5 * time.Second
)
