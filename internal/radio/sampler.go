package radio

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/live"
)

// DefaultFrameInterval is the time between two sampled frames.
const DefaultFrameInterval = time.Second

// FrameSource yields the current frame of a target's video feed.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// FrameEncoder compresses a frame for transmission.
type FrameEncoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Sampler periodically sends the current video frame to the session as a
// JPEG media chunk. Frame and encode failures skip the tick.
type Sampler struct {
	src  FrameSource
	enc  FrameEncoder
	send Sender
	rep  *Reporter

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewSampler returns a sampler that is not yet ticking.
func NewSampler(src FrameSource, enc FrameEncoder, send Sender, rep *Reporter) *Sampler {
	return &Sampler{src: src, enc: enc, send: send, rep: rep}
}

// Start begins sampling every interval until Stop or ctx is done.
func (s *Sampler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if ctx.Err() != nil {
					return
				}
				s.Sample(ctx)
			}
		}
	}()
}

// Sample performs a single tick: read, encode, send. It reports whether a
// frame was sent.
func (s *Sampler) Sample(ctx context.Context) bool {
	img, err := s.src.Frame(ctx)
	if err != nil {
		s.rep.Recovered(ctx, FrameCaptureFailure, err)
		return false
	}
	data, err := s.enc.Encode(img)
	if err != nil {
		s.rep.Recovered(ctx, FrameCaptureFailure, err)
		return false
	}
	err = s.send.SendRealtimeInput(live.RealtimeInput{
		Media: &live.Media{Data: audio.EncodeTransport(data), MIMEType: live.MIMEJPEG},
	})
	if err != nil {
		s.rep.Recovered(ctx, SendFailure, err)
		return false
	}
	s.rep.metrics().SampledFrames.Add(ctx, 1)
	return true
}

// Cancel stops the ticker without waiting for an in-flight tick.
func (s *Sampler) Cancel() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Stop cancels the ticker and waits for an in-flight tick to finish.
// Idempotent; a sampler that was never started stops immediately.
func (s *Sampler) Stop() {
	s.Cancel()
	if s.done != nil {
		<-s.done
	}
}
