// Package mock provides test doubles for the live package interfaces.
//
// Use Dialer to verify Dial calls and hand out controlled sessions. Use
// Session to script inbound events and inspect outbound realtime input.
//
// Example:
//
//	sess := mock.NewSession()
//	d := &mock.Dialer{Session: sess}
//	// ... start the radio with d ...
//	sess.Push(live.Opened{})
//	sess.Push(live.AudioOut{PCM: pcm})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/tacradio/pkg/live"
)

// ErrClosed is returned by Session.SendRealtimeInput after Close.
var ErrClosed = errors.New("mock: session closed")

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	Ctx context.Context
	Cfg live.SessionConfig
}

// Dialer is a mock implementation of live.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Session is returned by Dial. If nil, Dial returns a fresh session from
	// NewSession, retrievable through Sessions.
	Session *Session

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall

	sessions []*Session
}

// Dial records the call and returns Session, DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	s := d.Session
	if s == nil {
		s = NewSession()
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// Sessions returns every session handed out so far.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// DialCount returns the number of Dial calls.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}

var _ live.Dialer = (*Dialer)(nil)

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by every SendRealtimeInput call. The
	// input is still recorded.
	SendErr error

	// Stall makes SendRealtimeInput block until Close, like a transport whose
	// write is stuck. Stalled inputs are not recorded.
	Stall bool

	events  chan live.Event
	sent    []live.RealtimeInput
	closed  bool
	closeCt int
	stalled int
	sentCh  chan struct{}
	done    chan struct{}
}

// NewSession returns a session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 256),
		sentCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push queues ev on the inbound event stream.
func (s *Session) Push(ev live.Event) {
	s.events <- ev
}

// End closes the inbound event stream, as a transport does when the
// connection is gone.
func (s *Session) End() {
	close(s.events)
}

// SendRealtimeInput records in. It fails with ErrClosed after Close and with
// SendErr when set.
func (s *Session) SendRealtimeInput(in live.RealtimeInput) error {
	s.mu.Lock()
	if s.Stall && !s.closed {
		s.stalled++
		s.mu.Unlock()
		<-s.done
		s.mu.Lock()
		s.stalled--
	}
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sent = append(s.sent, in)
	select {
	case s.sentCh <- struct{}{}:
	default:
	}
	return s.SendErr
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Close marks the session closed. It does not close the event channel.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
	}
	s.closed = true
	s.closeCt++
	return nil
}

// Sent returns a copy of every recorded realtime input.
func (s *Session) Sent() []live.RealtimeInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.RealtimeInput(nil), s.sent...)
}

// Messages returns the text of every recorded command message.
func (s *Session) Messages() []string {
	var out []string
	for _, in := range s.Sent() {
		if in.Message != "" {
			out = append(out, in.Message)
		}
	}
	return out
}

// MediaByType returns the recorded media payloads with the given MIME type.
func (s *Session) MediaByType(mime string) []live.Media {
	var out []live.Media
	for _, in := range s.Sent() {
		if in.Media != nil && in.Media.MIMEType == mime {
			out = append(out, *in.Media)
		}
	}
	return out
}

// Notify returns a channel that receives a value after each recorded send.
// Sends are coalesced; callers should re-check Sent after waking.
func (s *Session) Notify() <-chan struct{} { return s.sentCh }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stalled returns the number of sends currently blocked by Stall.
func (s *Session) Stalled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalled
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCt
}

var _ live.Session = (*Session)(nil)
