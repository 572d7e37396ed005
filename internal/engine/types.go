// Package engine implements the single-writer playback engine: it reads one compressed file at a
// time, decodes and re-encodes each packet, paces emission against a global wall clock, and fans
// the result out to an arbitrary number of listeners.
package engine

import "fmt"

// FrameSize is the number of samples per channel in one encoded packet (20 ms at 48 kHz).
const FrameSize = 960

// SampleRate is the fixed sample rate this engine operates at.
const SampleRate = 48000

// Channels is the fixed channel count this engine operates at (stereo).
const Channels = 2

// BufferSizeMs is the default size of the lead-ahead / headstart window.
const BufferSizeMs = 3000

// TrackMetadata describes the track currently (or most recently) playing. Immutable once
// constructed; StartGranulePos never decreases across successive tracks and ID always increases.
type TrackMetadata struct {
	ID              uint64
	StartGranulePos uint64
	Title           string
	Artist          string
	ImageURL        *string
	DurationMs      uint64
}

// EncodedFrame is one encoded audio packet plus the absolute sample count at the end of that
// frame (the "granule position").
type EncodedFrame struct {
	Bytes      []byte
	GranulePos uint64
}

// PlaybackResult is the terminal outcome of a single PlayFile call.
type PlaybackResult struct {
	Kind PlaybackResultKind
	Err  error
}

// PlaybackResultKind enumerates the terminal states a track can end in.
type PlaybackResultKind int

const (
	// Finished means the file reached EOF normally.
	Finished PlaybackResultKind = iota
	// Interrupted means a newer PlayFile call pre-empted this one.
	Interrupted
	// Errored means a decode or I/O fault ended playback early.
	Errored
)

func (r PlaybackResult) String() string {
	switch r.Kind {
	case Finished:
		return "finished"
	case Interrupted:
		return "interrupted"
	case Errored:
		return fmt.Sprintf("error: %v", r.Err)
	default:
		return "unknown"
	}
}

// Listener is a bounded sink for EncodedFrames, identified so it can be removed from the
// ListenerSet on backpressure or disconnect.
type Listener struct {
	ID uint64
	Ch chan EncodedFrame
}

// errInterrupted is the sentinel ProcessNextPacket returns when the caller's track has been
// pre-empted by a newer PlayFile.
var errInterrupted = fmt.Errorf("playback interrupted")
