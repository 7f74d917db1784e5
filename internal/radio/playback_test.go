package radio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/tacradio/internal/radio"
	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/audio/mock"
)

func TestSchedulerGapless(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(audio.PlaybackFormat)
	s := radio.NewScheduler(out, &radio.Reporter{})

	durs := []time.Duration{100 * time.Millisecond, 40 * time.Millisecond, 250 * time.Millisecond}
	var want time.Duration
	for i, d := range durs {
		start, ok := s.Enqueue(pcmFor(audio.PlaybackFormat, d))
		if !ok {
			t.Fatalf("chunk %d not scheduled", i)
		}
		if start != want {
			t.Fatalf("chunk %d start = %v, want %v", i, start, want)
		}
		want += d
	}
	if got := s.Clock(); got != want {
		t.Fatalf("clock = %v, want %v", got, want)
	}

	plays := out.Plays()
	for i := 1; i < len(plays); i++ {
		if plays[i].Start != plays[i-1].End() {
			t.Fatalf("gap between chunk %d and %d: %v → %v", i-1, i, plays[i-1].End(), plays[i].Start)
		}
	}
}

func TestSchedulerCatchesUpWithDevice(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(audio.PlaybackFormat)
	s := radio.NewScheduler(out, &radio.Reporter{})

	s.Enqueue(pcmFor(audio.PlaybackFormat, 100*time.Millisecond))
	out.Advance(time.Second)

	start, ok := s.Enqueue(pcmFor(audio.PlaybackFormat, 100*time.Millisecond))
	if !ok {
		t.Fatal("chunk not scheduled")
	}
	if start != time.Second {
		t.Fatalf("start = %v, want device time 1s", start)
	}
}

func TestSchedulerFlush(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(audio.PlaybackFormat)
	s := radio.NewScheduler(out, &radio.Reporter{})
	idle := make(chan struct{}, 8)
	s.OnIdle(func() { idle <- struct{}{} })

	for range 3 {
		s.Enqueue(pcmFor(audio.PlaybackFormat, 200*time.Millisecond))
	}
	out.Advance(50 * time.Millisecond)
	if !s.Busy() {
		t.Fatal("expected busy before flush")
	}

	s.Flush()

	if s.Active() != 0 || s.Busy() {
		t.Fatalf("active = %d after flush", s.Active())
	}
	if s.Clock() != 0 {
		t.Fatalf("clock = %v after flush, want 0", s.Clock())
	}
	for i, h := range out.Handles() {
		if !h.Stopped() {
			t.Fatalf("handle %d not stopped", i)
		}
	}
	select {
	case <-idle:
	default:
		t.Fatal("flush did not signal idle")
	}

	// The next chunk starts at device time, not at the stale clock.
	start, _ := s.Enqueue(pcmFor(audio.PlaybackFormat, 100*time.Millisecond))
	if start != 50*time.Millisecond {
		t.Fatalf("start after flush = %v, want 50ms", start)
	}
}

func TestSchedulerIdleAfterNaturalEnd(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput(audio.PlaybackFormat)
	s := radio.NewScheduler(out, &radio.Reporter{})
	idle := make(chan struct{}, 8)
	s.OnIdle(func() { idle <- struct{}{} })

	s.Enqueue(pcmFor(audio.PlaybackFormat, 100*time.Millisecond))
	s.Enqueue(pcmFor(audio.PlaybackFormat, 100*time.Millisecond))

	out.Advance(150 * time.Millisecond)
	if s.Active() != 1 {
		t.Fatalf("active = %d after first chunk, want 1", s.Active())
	}
	select {
	case <-idle:
		t.Fatal("idle signalled while a chunk is still pending")
	default:
	}

	out.Advance(100 * time.Millisecond)
	if s.Active() != 0 {
		t.Fatalf("active = %d, want 0", s.Active())
	}
	select {
	case <-idle:
	default:
		t.Fatal("idle not signalled")
	}
}

func TestSchedulerRejectsMalformed(t *testing.T) {
	t.Parallel()

	var f failures
	out := mock.NewOutput(audio.PlaybackFormat)
	s := radio.NewScheduler(out, f.reporter())

	if _, ok := s.Enqueue([]byte{1, 2, 3}); ok {
		t.Fatal("odd-length chunk was scheduled")
	}
	if _, ok := s.Enqueue(nil); ok {
		t.Fatal("empty chunk was scheduled")
	}
	if f.count(radio.DecodeFailure) != 1 {
		t.Fatalf("decode failures = %d, want 1", f.count(radio.DecodeFailure))
	}
	if len(out.Plays()) != 0 {
		t.Fatalf("plays = %d, want 0", len(out.Plays()))
	}
	if s.Clock() != 0 {
		t.Fatalf("clock moved to %v", s.Clock())
	}
}

func TestSchedulerOutputClosed(t *testing.T) {
	t.Parallel()

	var f failures
	out := mock.NewOutput(audio.PlaybackFormat)
	s := radio.NewScheduler(out, f.reporter())
	_ = out.Close()

	if _, ok := s.Enqueue(pcmFor(audio.PlaybackFormat, 10*time.Millisecond)); ok {
		t.Fatal("chunk scheduled on closed output")
	}
	if s.Active() != 0 {
		t.Fatalf("active = %d", s.Active())
	}
}
