// Package live defines the contract between the radio and an external
// real-time streaming AI endpoint.
//
// A [Session] is a bidirectional channel: the client pushes realtime input
// (audio blocks, video frames, typed commands) with [Session.SendRealtimeInput]
// and consumes a single ordered stream of [Event] values from
// [Session.Events]. The loosely structured server messages of the underlying
// protocol are decoded exactly once, at the transport boundary, into the
// closed set of event types declared here, so consumers switch on a type
// instead of probing optional nested fields.
//
// Transports live in sub-packages (gemini, genai). All implementations must
// be safe for concurrent use.
package live

import (
	"context"
	"fmt"
)

// Default session parameters.
const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice = "Charon"

	// ModalityAudio requests spoken responses.
	ModalityAudio = "AUDIO"

	// DefaultInstructions sets the reporting style of the assistant.
	DefaultInstructions = "You are a tactical surveillance radio operator. " +
		"Report observations from the live feed in short, factual transmissions. " +
		"Lead with the subject, then location, then movement. " +
		"Never speculate beyond what is visible or audible, and say so when the feed is unclear."
)

// MIME types used for realtime media.
const (
	MIMEJPEG = "image/jpeg"
)

// AudioMIMEType returns the MIME type of raw 16-bit PCM at the given rate,
// e.g. "audio/pcm;rate=16000".
func AudioMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// SessionConfig is forwarded verbatim to the endpoint when a session opens.
// Nothing in the radio depends on the content of these values.
type SessionConfig struct {
	// Model selects the streaming model.
	Model string

	// ResponseModality is the requested output modality, normally [ModalityAudio].
	ResponseModality string

	// Voice is the synthesised voice identifier.
	Voice string

	// Instructions is the system instruction.
	Instructions string

	// InputTranscription enables speech-to-text of the operator's audio.
	InputTranscription bool

	// OutputTranscription enables text of the assistant's spoken output.
	OutputTranscription bool
}

// DefaultSessionConfig returns the configuration the tactical radio uses.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:               DefaultModel,
		ResponseModality:    ModalityAudio,
		Voice:               DefaultVoice,
		Instructions:        DefaultInstructions,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// Media is an inline media payload. Data is transport text (base64).
type Media struct {
	Data     string
	MIMEType string
}

// RealtimeInput is one outbound realtime message. Exactly one of Media or
// Message should be set.
type RealtimeInput struct {
	Media   *Media
	Message string
}

// Session is an open streaming session. Callers must call Close when done.
type Session interface {
	// SendRealtimeInput pushes one realtime message. It returns an error if the
	// session is closed or the write fails; callers around teardown are
	// expected to see such errors transiently.
	SendRealtimeInput(in RealtimeInput) error

	// Events returns the ordered inbound event stream. The channel is closed
	// after the session ends; the last event is [Errored] or [Closed] unless
	// the session was closed locally.
	Events() <-chan Event

	// Close terminates the session. Idempotent.
	Close() error
}

// Dialer opens sessions against an endpoint.
type Dialer interface {
	// Dial establishes a session. The returned session may not be ready for
	// input until it emits [Opened].
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, cfg SessionConfig) (Session, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f(ctx, cfg)
}
