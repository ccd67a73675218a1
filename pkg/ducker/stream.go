package ducker

import "fmt"

// StreamRecord is one playback stream (a sink input) as seen in a single snapshot.
// Index is only unique within the snapshot it came from, it must never be
// remembered across cycles.
type StreamRecord struct {
	Index             uint32
	Corked            bool
	Muted             bool
	ApplicationName   string
	ApplicationBinary string
}

func (r StreamRecord) String() string {
	return fmt.Sprintf("#%d %s (%s) corked=%t muted=%t",
		r.Index, r.ApplicationBinary, r.ApplicationName, r.Corked, r.Muted)
}

// Snapshot holds all streams in the order the audio server enumerated them
type Snapshot []StreamRecord

// audible reports whether the stream is currently producing sound
func (r StreamRecord) audible() bool {
	return !r.Corked && !r.Muted
}
