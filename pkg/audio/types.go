package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Capture and playback formats used by the Gemini Live protocol. The two are
// deliberately distinct: capture runs at 16 kHz, synthesised speech at 24 kHz.
var (
	CaptureFormat  = Format{SampleRate: 16000, Channels: 1}
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FrameDuration returns the playback duration of n frames in this format.
// The result is truncated to the nanosecond.
func (f Format) FrameDuration(n int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(f.SampleRate))
}

// Frames converts a duration to a frame count in this format, rounding to the
// nearest frame.
func (f Format) Frames(d time.Duration) int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return (int64(d)*int64(f.SampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// Buffer is a block of planar floating-point audio. Each entry in Channels
// holds the samples of one channel in the range [-1, 1]; all channels have the
// same length.
//
// A Buffer is owned by whichever pipeline stage currently holds it and is not
// retained after consumption.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// NewBuffer allocates a silent buffer of the given format and frame count.
func NewBuffer(f Format, frames int) *Buffer {
	chs := make([][]float32, f.Channels)
	for i := range chs {
		chs[i] = make([]float32, frames)
	}
	return &Buffer{Channels: chs, SampleRate: f.SampleRate}
}

// Format returns the buffer's sample rate and channel count.
func (b *Buffer) Format() Format {
	return Format{SampleRate: b.SampleRate, Channels: len(b.Channels)}
}

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns how long the buffer takes to play.
func (b *Buffer) Duration() time.Duration {
	if b == nil {
		return 0
	}
	return b.Format().FrameDuration(int64(b.Frames()))
}
