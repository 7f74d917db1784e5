// Package mock provides deterministic implementations of the [audio.Microphone],
// [audio.Speaker], and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. The microphone is push-driven: tests
// call [InputStream.Push] to deliver a block. The output keeps a manual clock
// that only moves on [Output.Advance], which also completes every playback
// whose last sample lies in the past.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	out := mock.NewOutput(audio.PlaybackFormat)
//	spk := &mock.Speaker{Output: out}
//	// ... start the component under test ...
//	mic.Stream().Push(make([]float32, 4096))
//	out.Advance(500 * time.Millisecond)
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/tacradio/pkg/audio"
)

// ErrClosed is returned by [Output.Play] after [Output.Close].
var ErrClosed = errors.New("mock: output closed")

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the format and block size of every Open call.
	OpenCalls []OpenCall

	streams []*InputStream
}

// OpenCall records a single invocation of [Microphone.Open].
type OpenCall struct {
	Format    audio.Format
	BlockSize int
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, f audio.Format, blockSize int) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, OpenCall{Format: f, BlockSize: blockSize})
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &InputStream{blocks: make(chan []float32, 64)}
	m.streams = append(m.streams, s)
	return s, nil
}

// Stream returns the most recently opened stream, or nil.
func (m *Microphone) Stream() *InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

var _ audio.Microphone = (*Microphone)(nil)

// InputStream is a mock implementation of [audio.InputStream].
type InputStream struct {
	mu     sync.Mutex
	blocks chan []float32
	closed bool
}

// Push delivers one block. It reports false if the stream is closed or its
// buffer is full.
func (s *InputStream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.blocks <- block:
		return true
	default:
		return false
	}
}

// Blocks implements [audio.InputStream].
func (s *InputStream) Blocks() <-chan []float32 { return s.blocks }

// Close implements [audio.InputStream]. Idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.blocks)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ audio.InputStream = (*InputStream)(nil)

// ─── Speaker / Output ─────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// Output is returned by Open. If nil, every Open returns a fresh
	// NewOutput(f), retrievable through Last.
	Output *Output

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCount records how many times Open was called.
	OpenCount int

	last *Output
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, f audio.Format) (audio.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCount++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.last = s.Output
	if s.last == nil {
		s.last = NewOutput(f)
	}
	return s.last, nil
}

// Last returns the output handed out by the most recent Open, or nil.
func (s *Speaker) Last() *Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

var _ audio.Speaker = (*Speaker)(nil)

// PlayCall records a single invocation of [Output.Play].
type PlayCall struct {
	// Buf is the scheduled buffer.
	Buf *audio.Buffer
	// At is the requested start time.
	At time.Duration
	// Start is the effective start time: At, or the clock if At was in the past.
	Start time.Duration
}

// End returns the time the buffer finishes playing.
func (c PlayCall) End() time.Duration { return c.Start + c.Buf.Duration() }

// Output is a mock implementation of [audio.Output] with a manual clock.
type Output struct {
	format audio.Format

	mu      sync.Mutex
	now     time.Duration
	calls   []PlayCall
	handles []*Handle
	closed  bool
}

// NewOutput returns an output in format f with its clock at zero.
func NewOutput(f audio.Format) *Output {
	return &Output{format: f}
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format { return o.format }

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Play implements [audio.Output]. The buffer is recorded, never rendered.
func (o *Output) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	call := PlayCall{Buf: buf, At: at, Start: max(at, o.now)}
	h := &Handle{out: o, call: call, onEnded: onEnded}
	o.calls = append(o.calls, call)
	o.handles = append(o.handles, h)
	return h, nil
}

// Advance moves the clock forward by d and completes every playback that has
// finished by the new time, in scheduling order.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	now := o.now
	var due []*Handle
	for _, h := range o.handles {
		if !h.done && h.call.End() <= now {
			due = append(due, h)
		}
	}
	o.mu.Unlock()

	for _, h := range due {
		h.finish(false)
	}
}

// Plays returns a copy of every recorded Play call.
func (o *Output) Plays() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PlayCall(nil), o.calls...)
}

// Handles returns every playback handle in scheduling order.
func (o *Output) Handles() []*Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Handle(nil), o.handles...)
}

// Playing returns the number of handles that have neither finished nor been
// stopped.
func (o *Output) Playing() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, h := range o.handles {
		if !h.done {
			n++
		}
	}
	return n
}

// Close implements [audio.Output]. Every pending playback is stopped.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	handles := append([]*Handle(nil), o.handles...)
	o.mu.Unlock()

	for _, h := range handles {
		h.finish(true)
	}
	return nil
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

var _ audio.Output = (*Output)(nil)

// Handle is the [audio.Playback] returned by [Output.Play].
type Handle struct {
	out     *Output
	call    PlayCall
	onEnded func()
	done    bool
	stopped bool
}

// Stop implements [audio.Playback].
func (h *Handle) Stop() { h.finish(true) }

// Stopped reports whether the playback was stopped before finishing.
func (h *Handle) Stopped() bool {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	return h.stopped
}

func (h *Handle) finish(stopped bool) {
	h.out.mu.Lock()
	if h.done {
		h.out.mu.Unlock()
		return
	}
	h.done = true
	h.stopped = stopped
	fn := h.onEnded
	h.out.mu.Unlock()

	if fn != nil {
		fn()
	}
}
