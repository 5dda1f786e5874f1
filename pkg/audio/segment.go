// Package audio normalizes raw telephony audio into fixed-duration
// segments for the recognition boundary.
package audio

// Segment is one fixed-duration frame of normalized call audio.
// The payload is immutable after creation; consumers must not write to Data.
type Segment struct {
	CallID     string
	Seq        uint64
	Data       []byte
	SampleRate int
	Channels   int
}

// Format describes the PCM contract a pipeline accepts or emits.
// Only mono 16-bit little-endian PCM is supported.
type Format struct {
	SampleRate int
	Channels   int
}

const bytesPerSample = 2
