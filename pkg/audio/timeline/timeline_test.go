package timeline_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/audio/timeline"
)

var mono1k = audio.Format{SampleRate: 1000, Channels: 1}

// constBuffer returns a mono buffer of n frames all set to v.
func constBuffer(rate, n int, v float32) *audio.Buffer {
	buf := audio.NewBuffer(audio.Format{SampleRate: rate, Channels: 1}, n)
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = v
	}
	return buf
}

func TestNowAdvancesByRenderedFrames(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	if got := c.Now(); got != 0 {
		t.Fatalf("Now() = %v, want 0", got)
	}
	c.Render(make([]float32, 250))
	if got, want := c.Now(), 250*time.Millisecond; got != want {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestPlayAtAbsoluteTime(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	if _, err := c.Play(constBuffer(1000, 4, 0.5), 2*time.Millisecond, nil); err != nil {
		t.Fatalf("Play: %v", err)
	}

	out := make([]float32, 8)
	c.Render(out)
	want := []float32{0, 0, 0.5, 0.5, 0.5, 0.5, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestBackToBackBuffersAreGapless(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	first := constBuffer(1000, 3, 0.25)
	second := constBuffer(1000, 3, -0.25)
	if _, err := c.Play(first, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Play(second, first.Duration(), nil); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 6)
	c.Render(out)
	want := []float32{0.25, 0.25, 0.25, -0.25, -0.25, -0.25}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestPastStartPlaysImmediately(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	c.Render(make([]float32, 10))
	if _, err := c.Play(constBuffer(1000, 2, 0.5), 0, nil); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 2)
	c.Render(out)
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Fatalf("out = %v, want [0.5 0.5]", out)
	}
}

func TestOverlappingBuffersMixAndClip(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	_, _ = c.Play(constBuffer(1000, 2, 0.75), 0, nil)
	_, _ = c.Play(constBuffer(1000, 2, 0.75), 0, nil)
	out := make([]float32, 2)
	c.Render(out)
	if out[0] != 1 || out[1] != 1 {
		t.Fatalf("out = %v, want clipped [1 1]", out)
	}
}

func TestOnEndedFiresOnceWhenFinished(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	var ended atomic.Int32
	_, _ = c.Play(constBuffer(1000, 5, 0.1), 0, func() { ended.Add(1) })

	c.Render(make([]float32, 4))
	if got := ended.Load(); got != 0 {
		t.Fatalf("ended after 4 frames = %d, want 0", got)
	}
	c.Render(make([]float32, 4))
	if got := ended.Load(); got != 1 {
		t.Fatalf("ended after 8 frames = %d, want 1", got)
	}
	c.Render(make([]float32, 4))
	if got := ended.Load(); got != 1 {
		t.Fatalf("ended fired again: %d", got)
	}
	if got := c.Active(); got != 0 {
		t.Fatalf("Active() = %d, want 0", got)
	}
}

func TestStopSilencesAndFiresEnded(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	var ended atomic.Int32
	p, _ := c.Play(constBuffer(1000, 100, 0.5), 0, func() { ended.Add(1) })

	p.Stop()
	p.Stop()

	out := make([]float32, 4)
	c.Render(out)
	for i, s := range out {
		if s != 0 {
			t.Errorf("out[%d] = %v after Stop, want 0", i, s)
		}
	}
	if got := ended.Load(); got != 1 {
		t.Fatalf("ended = %d, want 1", got)
	}
}

func TestPlayConvertsFormat(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	// 2 kHz source, 8 frames -> 4 frames at 1 kHz.
	_, _ = c.Play(constBuffer(2000, 8, 0.5), 0, nil)
	out := make([]float32, 6)
	c.Render(out)
	for i := range 4 {
		if out[i] != 0.5 {
			t.Errorf("out[%d] = %v, want 0.5", i, out[i])
		}
	}
	if out[4] != 0 || out[5] != 0 {
		t.Errorf("tail = %v, want silence", out[4:])
	}
}

func TestCloseStopsAllAndRejectsPlay(t *testing.T) {
	t.Parallel()

	c := timeline.New(mono1k)
	var ended atomic.Int32
	_, _ = c.Play(constBuffer(1000, 10, 0.5), 0, func() { ended.Add(1) })
	_, _ = c.Play(constBuffer(1000, 10, 0.5), 0, func() { ended.Add(1) })

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := ended.Load(); got != 2 {
		t.Fatalf("ended = %d, want 2", got)
	}
	if _, err := c.Play(constBuffer(1000, 1, 0), 0, nil); err == nil {
		t.Fatal("Play after Close: want error")
	}
}
