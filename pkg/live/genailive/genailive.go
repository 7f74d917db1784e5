// Package genailive implements the live.Dialer interface on top of the official
// Google Gen AI SDK (google.golang.org/genai).
//
// It produces the same event stream as the gemini package but leaves the wire
// protocol to the SDK.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/live"
	"google.golang.org/genai"
)

var _ live.Dialer = (*Dialer)(nil)
var _ live.Session = (*session)(nil)

// ErrSessionClosed is returned by SendRealtimeInput after Close.
var ErrSessionClosed = errors.New("genailive: session closed")

// Option configures a Dialer.
type Option func(*Dialer)

// WithLogger sets the logger used for recovered decode failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) { d.log = l }
}

// WithHTTPOptions overrides the SDK's HTTP options, e.g. the base URL.
func WithHTTPOptions(o genai.HTTPOptions) Option {
	return func(d *Dialer) { d.httpOptions = o }
}

// Dialer opens Gemini Live sessions through the Gen AI SDK.
type Dialer struct {
	apiKey      string
	httpOptions genai.HTTPOptions
	log         *slog.Logger
}

// New creates a Dialer that authenticates with apiKey.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{apiKey: apiKey, log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial connects a Live session and starts decoding server messages.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      d.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: d.httpOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("genailive: new client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = live.DefaultModel
	}
	conn, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", err)
	}

	s := &session{
		conn:   conn,
		log:    d.log,
		events: make(chan live.Event, 64),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

// connectConfig maps the session configuration onto the SDK type.
func connectConfig(cfg live.SessionConfig) *genai.LiveConnectConfig {
	modality := genai.ModalityAudio
	if cfg.ResponseModality != "" {
		modality = genai.Modality(cfg.ResponseModality)
	}
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{modality},
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

type session struct {
	conn   *genai.Session
	log    *slog.Logger
	events chan live.Event

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// receiveLoop blocks on the SDK's Receive until the connection ends.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.emit(receiveEnd(err))
			return
		}
		for _, ev := range decodeMessage(msg, s.log) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

// receiveEnd maps the error that ended the receive loop to the final event.
// A normal close from the server ends the session cleanly.
func receiveEnd(err error) live.Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
		return live.Closed{}
	}
	return live.Errored{Err: fmt.Errorf("genailive: receive: %w", err)}
}

// decodeMessage converts one SDK server message into radio events. The SDK
// already base64-decodes inline data, so audio parts only need a sanity
// check on the PCM framing.
func decodeMessage(msg *genai.LiveServerMessage, log *slog.Logger) []live.Event {
	var out []live.Event
	if msg.SetupComplete != nil {
		out = append(out, live.Opened{})
	}
	if msg.GoAway != nil {
		log.Info("genailive: server requested disconnect")
	}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, live.OperatorText{Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, live.AssistantTextDelta{Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		out = append(out, live.TurnComplete{})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			if len(p.InlineData.Data)%2 != 0 {
				log.Warn("genailive: dropping audio chunk", "kind", "decode_failure", "err", audio.ErrDecode)
				continue
			}
			out = append(out, live.AudioOut{PCM: p.InlineData.Data})
		}
	}
	if sc.Interrupted {
		out = append(out, live.Interrupted{})
	}
	return out
}

func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// SendRealtimeInput forwards one realtime message. Media arrives as
// transport text and is decoded back to bytes for the SDK.
func (s *session) SendRealtimeInput(in live.RealtimeInput) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	var ri genai.LiveRealtimeInput
	switch {
	case in.Media != nil:
		data, err := audio.DecodeTransport(in.Media.Data)
		if err != nil {
			return fmt.Errorf("genailive: media: %w", err)
		}
		blob := &genai.Blob{Data: data, MIMEType: in.Media.MIMEType}
		if strings.HasPrefix(in.Media.MIMEType, "image/") {
			ri.Video = blob
		} else {
			ri.Audio = blob
		}
	case in.Message != "":
		ri.Text = in.Message
	default:
		return fmt.Errorf("genailive: empty realtime input")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SendRealtimeInput(ri); err != nil {
		return fmt.Errorf("genailive: send: %w", err)
	}
	return nil
}

// Events returns the decoded inbound event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("genailive: close: %w", err)
	}
	return nil
}
