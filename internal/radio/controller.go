// Package radio implements the tactical voice link: it streams microphone
// audio and sampled video frames to a live AI session, plays the synthesised
// replies back gaplessly, and keeps a de-duplicated conversation history.
//
// The [Controller] owns the single session and every resource tied to it.
// Its collaborators are split by concern:
//
//   - [Capture] forwards microphone blocks to the session.
//   - [Sampler] sends a JPEG of the target's feed once per interval.
//   - [Scheduler] places inbound audio chunks on the output clock.
//   - [Reconciler] turns streamed transcripts into finalized [Turn] values.
//
// Locally recoverable failures (malformed payloads, unreadable frames,
// failed sends) never leave this package; they go to a [Reporter]. Only
// [ErrNoTargetSelected], [ErrDeviceAccessDenied] and [ErrLinkUnstable] reach
// the operator.
package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/tacradio/internal/frame"
	"github.com/MrWong99/tacradio/internal/observe"
	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/live"
)

// Defaults for [Controller] options.
const (
	DefaultGraceDelay   = time.Second
	DefaultHistoryLimit = 200
)

// SuggestedCommands are the quick commands offered to the operator.
var SuggestedCommands = []string{
	"Summarize video",
	"Identify subjects",
	"Check for anomalies",
	"Report vehicle movement",
}

// Target is a camera or radio node the operator can talk about.
type Target struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`

	// External feeds are embedded from elsewhere and cannot be read into a
	// raster, so no frames are sampled for them.
	External bool `json:"external"`
}

// State is the lifecycle state of the controller.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
)

// HistorySink persists finalized turns per target.
type HistorySink interface {
	Append(ctx context.Context, target string, t Turn) error
	List(ctx context.Context, target string, limit int) ([]Turn, error)
	Wipe(ctx context.Context, target string) error
}

// Snapshot is a consistent view of the controller for the UI.
type Snapshot struct {
	State      State  `json:"state"`
	Target     string `json:"target,omitempty"`
	Busy       bool   `json:"busy"`
	LiveInput  string `json:"live_input"`
	LiveOutput string `json:"live_output"`
	History    []Turn `json:"history"`
	Error      string `json:"error,omitempty"`
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithGraceDelay sets how long queued commands wait after the session opens.
func WithGraceDelay(d time.Duration) Option {
	return func(c *Controller) { c.grace = d }
}

// WithFrameInterval sets the frame sampling interval.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Controller) { c.frameInterval = d }
}

// WithSessionConfig sets the configuration forwarded on every dial.
func WithSessionConfig(cfg live.SessionConfig) Option {
	return func(c *Controller) { c.sessionCfg = cfg }
}

// WithFrameSources sets the function that resolves a target's frame source.
// Returning nil disables sampling for that target.
func WithFrameSources(fn func(Target) FrameSource) Option {
	return func(c *Controller) { c.frameSources = fn }
}

// WithFrameEncoder sets the frame encoder.
func WithFrameEncoder(enc FrameEncoder) Option {
	return func(c *Controller) { c.encoder = enc }
}

// WithHistorySink enables archiving of finalized turns.
func WithHistorySink(sink HistorySink, limit int) Option {
	return func(c *Controller) {
		c.sink = sink
		if limit > 0 {
			c.historyLimit = limit
		}
	}
}

// WithBlockSize sets the capture block size in samples.
func WithBlockSize(n int) Option {
	return func(c *Controller) { c.blockSize = n }
}

// WithFormats overrides the capture and playback formats.
func WithFormats(capture, playback audio.Format) Option {
	return func(c *Controller) {
		c.captureFormat = capture
		c.playbackFormat = playback
	}
}

// WithMetrics sets the metrics instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.rep.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l; c.rep.Logger = l }
}

// WithObserver registers a callback for every recovered failure.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.rep.Observer = o }
}

// WithClock sets the time source used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// ── Controller ─────────────────────────────────────────────────────────────────

// Controller is the session lifecycle state machine.
//
// Idle → Start → Connecting → (Opened) → Active → Stop / Errored / Closed →
// Idle. At most one session exists at a time. All methods are safe for
// concurrent use.
type Controller struct {
	dialer  live.Dialer
	mic     audio.Microphone
	speaker audio.Speaker

	grace          time.Duration
	frameInterval  time.Duration
	sessionCfg     live.SessionConfig
	frameSources   func(Target) FrameSource
	encoder        FrameEncoder
	sink           HistorySink
	historyLimit   int
	blockSize      int
	captureFormat  audio.Format
	playbackFormat audio.Format
	now            func() time.Time
	log            *slog.Logger
	rep            *Reporter

	rec *Reconciler

	mu       sync.Mutex
	targets  []Target
	target   *Target
	state    State
	startGen uint64
	cur      *link
	pending  []string
	lastErr  error

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// link groups everything owned by one open session.
type link struct {
	sess    live.Session
	out     audio.Output
	sched   *Scheduler
	capture *Capture
	sampler *Sampler
	target  Target
	grace   *time.Timer
	stop    chan struct{}
	dialed  time.Time
	opened  bool
}

// New creates an idle controller. targets lists the selectable targets.
func New(dialer live.Dialer, mic audio.Microphone, speaker audio.Speaker, targets []Target, opts ...Option) *Controller {
	c := &Controller{
		dialer:         dialer,
		mic:            mic,
		speaker:        speaker,
		grace:          DefaultGraceDelay,
		frameInterval:  DefaultFrameInterval,
		sessionCfg:     live.DefaultSessionConfig(),
		encoder:        frame.JPEG{Quality: frame.DefaultQuality},
		historyLimit:   DefaultHistoryLimit,
		blockSize:      audio.DefaultBlockSize,
		captureFormat:  audio.CaptureFormat,
		playbackFormat: audio.PlaybackFormat,
		now:            time.Now,
		log:            slog.Default(),
		rep:            &Reporter{},
		targets:        slices.Clone(targets),
		state:          StateIdle,
		subs:           make(map[int]chan struct{}),
	}
	c.frameSources = defaultFrameSource
	for _, o := range opts {
		o(c)
	}
	c.rec = NewReconciler(c.now)
	return c
}

// defaultFrameSource polls the target's stream URL for still images.
func defaultFrameSource(t Target) FrameSource {
	if t.StreamURL == "" {
		return nil
	}
	return frame.NewSnapshot(t.StreamURL)
}

func (c *Controller) metrics() *observe.Metrics { return c.rep.metrics() }

// ── Targets ────────────────────────────────────────────────────────────────────

// Targets returns the selectable targets.
func (c *Controller) Targets() []Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.targets)
}

// SelectTarget makes id the current target and loads its archived history.
// Switching to another target while a session is open stops the session.
func (c *Controller) SelectTarget(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := slices.IndexFunc(c.targets, func(t Target) bool { return t.ID == id })
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownTarget, id)
	}
	if c.target != nil && c.target.ID == id {
		c.mu.Unlock()
		return nil
	}
	old := c.stopLocked()
	t := c.targets[idx]
	c.target = &t
	c.lastErr = nil
	c.mu.Unlock()
	c.release(old, nil)

	c.rec.ClearHistory()
	if c.sink != nil {
		turns, err := c.sink.List(ctx, id, c.historyLimit)
		if err != nil {
			c.log.Warn("radio: load archived history", "target", id, "err", err)
		} else {
			c.rec.Restore(turns)
		}
	}
	c.notify()
	return nil
}

// SetTargets replaces the selectable targets. If the current target was
// removed, its session is stopped and the selection cleared. If it was
// modified, the new definition applies from the next start.
func (c *Controller) SetTargets(targets []Target) {
	c.mu.Lock()
	c.targets = slices.Clone(targets)
	var (
		cleared bool
		old     *link
	)
	if c.target != nil {
		idx := slices.IndexFunc(c.targets, func(t Target) bool { return t.ID == c.target.ID })
		if idx < 0 {
			old = c.stopLocked()
			c.target = nil
			cleared = true
		} else {
			t := c.targets[idx]
			c.target = &t
		}
	}
	c.mu.Unlock()
	c.release(old, nil)

	if cleared {
		c.rec.ClearHistory()
	}
	c.notify()
}

// ── Lifecycle ──────────────────────────────────────────────────────────────────

// Start opens the microphone, the speaker, and the streaming session. It
// returns once the session is dialled; capture and sampling begin when the
// endpoint reports the session open. Start while connecting or active is a
// no-op.
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	if c.target == nil {
		c.lastErr = ErrNoTargetSelected
		c.mu.Unlock()
		c.notify()
		return ErrNoTargetSelected
	}
	target := *c.target
	c.state = StateConnecting
	c.startGen++
	gen := c.startGen
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()

	ctx, span := observe.StartRadioSpan(ctx, "start", target.ID)
	defer func() { observe.EndSpan(span, err) }()

	// Devices outlive the request that started them.
	devCtx := context.WithoutCancel(ctx)
	started := time.Now()

	stream, err := c.mic.Open(devCtx, c.captureFormat, c.blockSize)
	if err != nil {
		return c.abortStart(gen, fmt.Errorf("%w: microphone: %w", ErrDeviceAccessDenied, err))
	}
	out, err := c.speaker.Open(devCtx, c.playbackFormat)
	if err != nil {
		_ = stream.Close()
		return c.abortStart(gen, fmt.Errorf("%w: speaker: %w", ErrDeviceAccessDenied, err))
	}
	sess, err := c.dialer.Dial(ctx, c.sessionCfg)
	if err != nil {
		_ = stream.Close()
		_ = out.Close()
		c.metrics().RecordLinkError(ctx, "dial")
		return c.abortStart(gen, fmt.Errorf("%w: %w", ErrLinkUnstable, err))
	}

	c.mu.Lock()
	if c.startGen != gen || c.state != StateConnecting {
		// Stopped while dialling.
		c.mu.Unlock()
		_ = sess.Close()
		_ = stream.Close()
		_ = out.Close()
		return nil
	}
	l := &link{
		sess:   sess,
		out:    out,
		sched:  NewScheduler(out, c.rep),
		target: target,
		stop:   make(chan struct{}),
		dialed: started,
	}
	l.sched.OnIdle(c.notify)
	// Audio captured while connecting is stale by the time the session opens.
	l.capture = NewCapture(stream, sess, c.captureFormat.SampleRate, c.rep)
	c.cur = l
	c.mu.Unlock()

	go c.pump(l)
	c.log.Info("radio: session dialled", "target", target.ID)
	return nil
}

// abortStart returns to idle after a failed Start unless the attempt was
// already superseded.
func (c *Controller) abortStart(gen uint64, err error) error {
	c.mu.Lock()
	if c.startGen == gen && c.state == StateConnecting {
		c.state = StateIdle
		c.pending = nil
		c.lastErr = err
	}
	c.mu.Unlock()
	c.log.Warn("radio: start failed", "err", err)
	c.notify()
	return err
}

// Stop closes the session and releases every resource tied to it. Stop
// while idle is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	l := c.stopLocked()
	c.mu.Unlock()
	c.release(l, nil)
	c.notify()
}

// stopLocked returns to idle and hands back the link to release, if any.
func (c *Controller) stopLocked() *link {
	switch {
	case c.cur != nil:
		l := c.cur
		c.detachLocked(l, nil)
		return l
	case c.state == StateConnecting:
		c.startGen++
		c.state = StateIdle
		c.pending = nil
		c.rec.ClearLive()
	}
	return nil
}

// detachLocked makes l no longer current and returns to idle. cause, if
// non-nil, becomes the last error. It reports false if l was not current.
// The caller must release l after unlocking c.mu.
func (c *Controller) detachLocked(l *link, cause error) bool {
	if c.cur != l {
		return false
	}
	c.cur = nil
	c.state = StateIdle
	c.pending = nil
	if cause != nil {
		c.lastErr = cause
	}
	if l.grace != nil {
		l.grace.Stop()
	}
	close(l.stop)
	c.rec.ClearLive()
	if l.opened {
		c.metrics().ActiveSessions.Add(context.Background(), -1)
	}
	return true
}

// release closes everything owned by a detached link. Capture and sampling
// are cancelled before the session is closed, and waited for after, so a
// send stalled on the session returns and nothing queued follows it. Must
// not be called with c.mu held.
func (c *Controller) release(l *link, cause error) {
	if l == nil {
		return
	}
	l.capture.Cancel()
	if l.sampler != nil {
		l.sampler.Cancel()
	}
	_ = l.sess.Close()
	if l.sampler != nil {
		l.sampler.Stop()
	}
	l.capture.Stop()
	l.sched.Flush()
	_ = l.out.Close()
	c.log.Info("radio: session closed", "target", l.target.ID, "cause", cause)
}

// Close stops any open session.
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

// ── Commands ───────────────────────────────────────────────────────────────────

// SendCommand sends a typed command. While active it is sent at once; while
// idle it is queued, the session is started, and the command is sent once
// the session has been open for the grace delay. The command is recorded as
// an operator turn when sent.
func (c *Controller) SendCommand(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	switch c.state {
	case StateActive:
		l := c.cur
		c.mu.Unlock()
		turn, ok := c.sendCommand(ctx, l, text)
		c.archive(ctx, l.target.ID, turn, ok)
		c.notify()
		return nil
	case StateConnecting:
		c.pending = append(c.pending, text)
		c.mu.Unlock()
		c.metrics().RecordCommand(ctx, "queued")
		return nil
	}
	c.pending = append(c.pending, text)
	c.mu.Unlock()
	c.metrics().RecordCommand(ctx, "queued")

	if err := c.Start(ctx); err != nil {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// sendCommand sends text on l and records it. It runs without c.mu so that
// a stalled write cannot block Stop.
func (c *Controller) sendCommand(ctx context.Context, l *link, text string) (Turn, bool) {
	ctx, span := observe.StartRadioSpan(ctx, "command", l.target.ID)
	err := l.sess.SendRealtimeInput(live.RealtimeInput{Message: text})
	if err != nil {
		c.rep.Recovered(ctx, SendFailure, err)
		c.metrics().RecordCommand(ctx, "failed")
		span.SetAttributes(observe.KeyCommandStatus.String("failed"))
	} else {
		c.metrics().RecordCommand(ctx, "sent")
		span.SetAttributes(observe.KeyCommandStatus.String("sent"))
	}
	observe.EndSpan(span, err)
	turn, ok := c.rec.Record(RoleUser, text)
	if ok {
		c.metrics().RecordTurn(ctx, string(RoleUser))
	}
	return turn, ok
}

// flushPending sends the queued commands once the grace delay has passed.
func (c *Controller) flushPending(l *link) {
	ctx := context.Background()
	c.mu.Lock()
	if c.cur != l || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, text := range pending {
		if t, ok := c.sendCommand(ctx, l, text); ok {
			c.archive(ctx, l.target.ID, t, true)
		}
	}
	c.notify()
}

// ── History ────────────────────────────────────────────────────────────────────

// ClearHistory wipes the history of the current target, in memory and in the
// archive.
func (c *Controller) ClearHistory(ctx context.Context) error {
	c.mu.Lock()
	var id string
	if c.target != nil {
		id = c.target.ID
	}
	c.mu.Unlock()

	c.rec.ClearHistory()
	c.notify()
	if c.sink != nil && id != "" {
		if err := c.sink.Wipe(ctx, id); err != nil {
			return fmt.Errorf("radio: wipe archive: %w", err)
		}
	}
	return nil
}

func (c *Controller) archive(ctx context.Context, target string, t Turn, ok bool) {
	if !ok || c.sink == nil {
		return
	}
	if err := c.sink.Append(ctx, target, t); err != nil {
		c.log.Warn("radio: archive turn", "target", target, "err", err)
	}
}

// ── Inbound events ─────────────────────────────────────────────────────────────

// pump consumes the session's events in order until the session ends or is
// torn down.
func (c *Controller) pump(l *link) {
	events := l.sess.Events()
	for {
		select {
		case <-l.stop:
			return
		case ev, ok := <-events:
			if !ok {
				c.handle(l, live.Closed{})
				return
			}
			if done := c.handle(l, ev); done {
				return
			}
		}
	}
}

// handle applies one event. It reports whether the session has ended.
func (c *Controller) handle(l *link, ev live.Event) bool {
	ctx := context.Background()

	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return true
	}

	var (
		turns    []Turn
		ended    bool
		detached bool
		cause    error
	)
	switch ev := ev.(type) {
	case live.Opened:
		c.openLocked(ctx, l)
	case live.OperatorText:
		c.rec.OperatorText(ev.Text)
	case live.AssistantTextDelta:
		c.rec.AssistantDelta(ev.Text)
	case live.TurnComplete:
		turns = c.rec.TurnComplete()
		for _, t := range turns {
			c.metrics().RecordTurn(ctx, string(t.Role))
		}
	case live.AudioOut:
		l.sched.Enqueue(ev.PCM)
	case live.Interrupted:
		l.sched.Flush()
		c.rec.Interrupt()
		c.metrics().Interruptions.Add(ctx, 1)
	case live.Errored:
		c.log.Error("radio: link failed", "target", l.target.ID, "err", ev.Err)
		c.metrics().RecordLinkError(ctx, "errored")
		cause = fmt.Errorf("%w: %w", ErrLinkUnstable, ev.Err)
		detached = c.detachLocked(l, cause)
		ended = true
	case live.Closed:
		detached = c.detachLocked(l, nil)
		ended = true
	}
	c.mu.Unlock()

	if detached {
		c.release(l, cause)
	}

	for _, t := range turns {
		c.archive(ctx, l.target.ID, t, true)
	}
	c.notify()
	return ended
}

// openLocked transitions to active and starts the outbound pipelines.
func (c *Controller) openLocked(ctx context.Context, l *link) {
	if l.opened {
		return
	}
	l.opened = true
	c.state = StateActive
	c.metrics().ActiveSessions.Add(ctx, 1)
	c.metrics().SessionStartDuration.Record(ctx, time.Since(l.dialed).Seconds())

	l.capture.Forward()
	if !l.target.External && c.frameSources != nil {
		if src := c.frameSources(l.target); src != nil {
			l.sampler = NewSampler(src, c.encoder, l.sess, c.rep)
			l.sampler.Start(context.Background(), c.frameInterval)
		}
	}
	if len(c.pending) > 0 {
		l.grace = time.AfterFunc(c.grace, func() { c.flushPending(l) })
	}
	c.log.Info("radio: session open", "target", l.target.ID)
}

// ── State ──────────────────────────────────────────────────────────────────────

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the condition that ended the last start attempt or session,
// or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Snapshot returns the current state for display.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{State: c.state}
	if c.target != nil {
		s.Target = c.target.ID
	}
	if c.cur != nil {
		s.Busy = c.cur.sched.Busy()
	}
	if c.lastErr != nil {
		s.Error = userMessage(c.lastErr)
	}
	c.mu.Unlock()

	s.LiveInput, s.LiveOutput = c.rec.Live()
	s.History = c.rec.History()
	return s
}

// History returns the finalized turns.
func (c *Controller) History() []Turn { return c.rec.History() }

// userMessage maps an error to the text shown to the operator.
func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoTargetSelected):
		return "Please select a target node."
	case errors.Is(err, ErrDeviceAccessDenied):
		return "Hardware access denied."
	case errors.Is(err, ErrLinkUnstable):
		return "Radio link unstable. Check network/API key."
	default:
		return err.Error()
	}
}

// ── Subscriptions ──────────────────────────────────────────────────────────────

// Subscribe returns a channel that receives a value whenever the snapshot may
// have changed. Notifications are coalesced. Call cancel to unsubscribe.
func (c *Controller) Subscribe() (updates <-chan struct{}, cancel func()) {
	ch := make(chan struct{}, 1)
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
