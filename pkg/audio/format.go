// Package audio holds the PCM plumbing between an uploaded recording and a
// recognizer session: WAV container parsing, sample-rate and channel
// conversion, and chunked audio sources.
//
// All PCM handled here is 16-bit signed little-endian.
package audio

import (
	"fmt"
	"time"
)

// BitsPerSample is the only sample width the package handles.
const BitsPerSample = 16

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Speech is the format every recognizer session expects: 16 kHz mono.
var Speech = Format{SampleRate: 16000, Channels: 1}

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// FrameSize returns the number of bytes per sample frame (all channels).
func (f Format) FrameSize() int {
	return f.Channels * BitsPerSample / 8
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Duration returns the playback length of n PCM bytes in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the number of PCM bytes covering d, rounded down to a whole
// sample frame.
func (f Format) Bytes(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%max(f.FrameSize(), 1)
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
