package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/tacradio/pkg/audio"
)

// Scheduler turns inbound PCM chunks into gapless playback on an output
// clock.
//
// Every chunk starts at max(clock, device time) and advances the clock by its
// own duration, so chunks play strictly in arrival order and back-to-back
// while the device stays behind the clock. [Scheduler.Flush] stops everything
// at once and resets the clock to zero.
//
// The Output must not invoke onEnded synchronously from Play.
type Scheduler struct {
	out    audio.Output
	format audio.Format
	rep    *Reporter

	mu     sync.Mutex
	clock  time.Duration
	nextID uint64
	active map[uint64]audio.Playback
	onIdle func()
}

// NewScheduler returns a scheduler playing on out. Chunks are decoded in the
// output's format.
func NewScheduler(out audio.Output, rep *Reporter) *Scheduler {
	return &Scheduler{
		out:    out,
		format: out.Format(),
		rep:    rep,
		active: make(map[uint64]audio.Playback),
	}
}

// OnIdle registers fn to run whenever the active set becomes empty, after a
// natural finish or a flush. fn runs without the scheduler lock held.
func (s *Scheduler) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIdle = fn
}

// Enqueue decodes pcm and schedules it. It returns the start time and true,
// or false if the chunk was empty or malformed and nothing was scheduled.
func (s *Scheduler) Enqueue(pcm []byte) (time.Duration, bool) {
	ctx := context.Background()
	buf, err := audio.DecodeBuffer(pcm, s.format)
	if err != nil {
		s.rep.Recovered(ctx, DecodeFailure, err)
		return 0, false
	}
	if buf.Frames() == 0 {
		return 0, false
	}
	dur := buf.Duration()

	s.mu.Lock()
	start := max(s.clock, s.out.Now())
	id := s.nextID
	s.nextID++
	p, err := s.out.Play(buf, start, func() { s.ended(id) })
	if err != nil {
		s.mu.Unlock()
		s.rep.Recovered(ctx, DecodeFailure, fmt.Errorf("radio: schedule chunk: %w", err))
		return 0, false
	}
	s.active[id] = p
	s.clock = start + dur
	s.mu.Unlock()

	met := s.rep.metrics()
	met.ActivePlaybacks.Add(ctx, 1)
	met.ChunkDuration.Record(ctx, dur.Seconds())
	return start, true
}

// ended removes a finished playback. Callbacks for playbacks that were
// already flushed find nothing to remove.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	idle := len(s.active) == 0
	fn := s.onIdle
	s.mu.Unlock()

	s.rep.metrics().ActivePlaybacks.Add(context.Background(), -1)
	if idle && fn != nil {
		fn()
	}
}

// Flush stops every active playback immediately, clears the active set, and
// resets the clock to zero.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	handles := make([]audio.Playback, 0, len(s.active))
	for _, p := range s.active {
		handles = append(handles, p)
	}
	clear(s.active)
	s.clock = 0
	fn := s.onIdle
	s.mu.Unlock()

	for _, p := range handles {
		p.Stop()
	}
	if n := len(handles); n > 0 {
		s.rep.metrics().ActivePlaybacks.Add(context.Background(), int64(-n))
	}
	if fn != nil {
		fn()
	}
}

// Clock returns the next gapless start time.
func (s *Scheduler) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Active returns the number of scheduled playbacks that have not ended.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Busy reports whether any playback is pending.
func (s *Scheduler) Busy() bool { return s.Active() > 0 }
