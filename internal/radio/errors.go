package radio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/tacradio/internal/observe"
)

// Conditions surfaced to the operator. Everything else is absorbed locally
// and reported through a [Reporter].
var (
	// ErrNoTargetSelected is returned by Start when no target is selected.
	ErrNoTargetSelected = errors.New("radio: no target selected")

	// ErrDeviceAccessDenied is returned by Start when the microphone or
	// speaker cannot be opened.
	ErrDeviceAccessDenied = errors.New("radio: device access denied")

	// ErrLinkUnstable reports that the streaming session failed. The radio
	// returns to idle and does not retry.
	ErrLinkUnstable = errors.New("radio: link unstable")

	// ErrUnknownTarget is returned by SelectTarget for an ID that is not
	// configured.
	ErrUnknownTarget = errors.New("radio: unknown target")
)

// FailureKind classifies an error that was recovered without interrupting
// the stream.
type FailureKind string

const (
	// DecodeFailure is a malformed PCM or transport-text payload. The chunk
	// is treated as empty.
	DecodeFailure FailureKind = "decode_failure"

	// FrameCaptureFailure is an unreadable or not-ready video frame. The tick
	// is skipped.
	FrameCaptureFailure FailureKind = "frame_capture_failure"

	// SendFailure is an outbound call that failed, typically around
	// teardown. It is not retried.
	SendFailure FailureKind = "send_failure"
)

// Observer is notified of every recovered failure.
type Observer func(kind FailureKind, err error)

// Reporter logs, counts, and forwards recovered failures. The zero value
// logs through [slog.Default] and records nothing else.
type Reporter struct {
	Logger   *slog.Logger
	Metrics  *observe.Metrics
	Observer Observer
}

// Recovered records err as an absorbed failure of the given kind.
func (r *Reporter) Recovered(ctx context.Context, kind FailureKind, err error) {
	if r == nil {
		slog.Debug("radio: recovered failure", "kind", string(kind), "err", err)
		return
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	// Send failures are routine around teardown.
	level := slog.LevelWarn
	if kind == SendFailure {
		level = slog.LevelDebug
	}
	log.Log(ctx, level, "radio: recovered failure", "kind", string(kind), "err", err)
	if r.Metrics != nil {
		r.Metrics.RecordRecovered(ctx, string(kind))
	}
	if r.Observer != nil {
		r.Observer(kind, err)
	}
}

// metrics returns the configured metrics or the package default.
func (r *Reporter) metrics() *observe.Metrics {
	if r != nil && r.Metrics != nil {
		return r.Metrics
	}
	return observe.DefaultMetrics()
}
