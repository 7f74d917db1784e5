// Package timeline provides a sample-accurate software playback context.
//
// A [Context] keeps scheduled buffers at absolute frame offsets on its own
// clock and mixes whatever overlaps the current render window. Device backends
// (PulseAudio, PortAudio) pull audio by calling [Context.Render] from their
// output callback; tests call it directly to advance time deterministically.
//
// The clock only moves when frames are rendered, so [Context.Now] is exactly
// the amount of audio the device has consumed.
package timeline

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/tacradio/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Context)(nil)

// ErrClosed is returned by [Context.Play] after [Context.Close].
var ErrClosed = errors.New("timeline: context closed")

// Context is a software implementation of [audio.Output].
//
// All exported methods are safe for concurrent use. onEnded callbacks run on
// the goroutine that rendered the final frame (or called Stop/Close), after
// the internal lock has been released.
type Context struct {
	format audio.Format

	mu     sync.Mutex
	conv   audio.FormatConverter
	cursor int64 // frames rendered so far
	voices []*voice
	closed bool
}

// New creates a Context that renders in format f.
func New(f audio.Format) *Context {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return &Context{
		format: f,
		conv:   audio.FormatConverter{Target: f},
	}
}

// Format implements [audio.Output].
func (c *Context) Format() audio.Format { return c.format }

// Now implements [audio.Output]. It returns the duration of audio rendered so
// far.
func (c *Context) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format.FrameDuration(c.cursor)
}

// Active returns the number of scheduled buffers that have not yet finished.
func (c *Context) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voices)
}

// Play implements [audio.Output]. Buffers in a different format are converted
// to the context format first. A start time earlier than [Context.Now] is
// moved to the current position.
func (c *Context) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Playback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	buf = c.conv.Convert(buf)
	start := c.format.Frames(at)
	if start < c.cursor {
		start = c.cursor
	}
	v := &voice{
		ctx:     c,
		buf:     buf,
		start:   start,
		onEnded: onEnded,
	}
	c.voices = append(c.voices, v)
	return v, nil
}

// Render mixes the next len(out)/channels frames into out (interleaved) and
// advances the clock by exactly that many frames. Mixed samples are clipped to
// [-1, 1].
func (c *Context) Render(out []float32) {
	nch := c.format.Channels
	frames := int64(len(out) / nch)
	for i := range out {
		out[i] = 0
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	winStart := c.cursor
	winEnd := winStart + frames

	var ended []func()
	kept := c.voices[:0]
	for _, v := range c.voices {
		vEnd := v.start + int64(v.buf.Frames())
		from := max(v.start, winStart)
		to := min(vEnd, winEnd)
		for f := from; f < to; f++ {
			src := f - v.start
			dst := (f - winStart) * int64(nch)
			for ch := range nch {
				out[dst+int64(ch)] += v.buf.Channels[ch][src]
			}
		}
		if vEnd <= winEnd {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(c.voices[len(kept):])
	c.voices = kept
	c.cursor = winEnd
	c.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	for _, fn := range ended {
		fn()
	}
}

// Close stops every scheduled buffer and rejects further Play calls.
// Idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var ended []func()
	for _, v := range c.voices {
		v.done = true
		if v.onEnded != nil {
			ended = append(ended, v.onEnded)
		}
	}
	c.voices = nil
	c.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return nil
}

// removeLocked drops v from the voice list. Must be called with c.mu held.
func (c *Context) removeLocked(v *voice) {
	for i, other := range c.voices {
		if other == v {
			c.voices = append(c.voices[:i], c.voices[i+1:]...)
			return
		}
	}
}

// voice is one scheduled buffer.
type voice struct {
	ctx     *Context
	buf     *audio.Buffer
	start   int64
	onEnded func()
	done    bool
}

// Stop implements [audio.Playback].
func (v *voice) Stop() {
	c := v.ctx
	c.mu.Lock()
	if v.done {
		c.mu.Unlock()
		return
	}
	v.done = true
	c.removeLocked(v)
	c.mu.Unlock()

	if v.onEnded != nil {
		v.onEnded()
	}
}
