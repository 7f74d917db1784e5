package live

// Event is one decoded inbound message. The concrete type is one of
// [Opened], [OperatorText], [AssistantTextDelta], [TurnComplete], [AudioOut],
// [Interrupted], [Errored], or [Closed].
type Event interface {
	event()
}

// Opened reports that the session accepted its setup and is ready for input.
type Opened struct{}

// OperatorText carries the latest transcript of the operator's speech. Each
// event replaces the previous one for the current turn.
type OperatorText struct {
	Text string
}

// AssistantTextDelta carries the next fragment of the assistant's spoken
// output. Fragments are appended in order.
type AssistantTextDelta struct {
	Text string
}

// TurnComplete marks the end of a conversational turn.
type TurnComplete struct{}

// AudioOut carries one chunk of synthesised speech as raw signed 16-bit
// little-endian PCM in the playback format.
type AudioOut struct {
	PCM []byte
}

// Interrupted reports that the assistant's in-progress utterance must be
// discarded, typically because the operator started speaking over it.
type Interrupted struct{}

// Errored reports that the link failed. The session is unusable afterwards.
type Errored struct {
	Err error
}

// Closed reports that the endpoint closed the session.
type Closed struct{}

func (Opened) event()             {}
func (OperatorText) event()       {}
func (AssistantTextDelta) event() {}
func (TurnComplete) event()       {}
func (AudioOut) event()           {}
func (Interrupted) event()        {}
func (Errored) event()            {}
func (Closed) event()             {}
