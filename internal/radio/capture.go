package radio

import (
	"context"
	"sync"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/live"
)

// Sender is the outbound half of a [live.Session].
type Sender interface {
	SendRealtimeInput(in live.RealtimeInput) error
}

// Capture forwards microphone blocks to the session until stopped.
//
// Each block is PCM16-encoded, transport-encoded, and sent as one media
// chunk tagged with the capture rate. Send failures are reported and
// dropped; the loop keeps running. Blocks still queued when Stop is called
// are dropped.
type Capture struct {
	stream audio.InputStream
	send   Sender
	mime   string
	rep    *Reporter

	forwarding bool
	forward    chan chan struct{}
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

// StartCapture starts forwarding blocks from stream to send. rate is the
// capture sample rate used in the MIME type.
func StartCapture(stream audio.InputStream, send Sender, rate int, rep *Reporter) *Capture {
	c := newCapture(stream, send, rate, rep)
	c.forwarding = true
	go c.run()
	return c
}

// NewCapture starts draining stream but discards every block until Forward
// is called. Use it to keep a device open while the session is not yet
// ready to receive audio.
func NewCapture(stream audio.InputStream, send Sender, rate int, rep *Reporter) *Capture {
	c := newCapture(stream, send, rate, rep)
	go c.run()
	return c
}

func newCapture(stream audio.InputStream, send Sender, rate int, rep *Reporter) *Capture {
	return &Capture{
		stream:  stream,
		send:    send,
		mime:    live.AudioMIMEType(rate),
		rep:     rep,
		forward: make(chan chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Forward starts sending blocks. Blocks captured before the call are
// discarded; blocks captured after it returns are sent.
func (c *Capture) Forward() {
	ack := make(chan struct{})
	select {
	case c.forward <- ack:
		<-ack
	case <-c.done:
	}
}

func (c *Capture) run() {
	defer close(c.done)
	ctx := context.Background()
	met := c.rep.metrics()
	blocks := c.stream.Blocks()

	forwarding := c.forwarding

	for {
		select {
		case <-c.quit:
			return
		case ack := <-c.forward:
			ended := false
			if !forwarding {
				ended = !c.discardQueued(blocks)
				forwarding = true
			}
			close(ack)
			if ended {
				return
			}
		case block, ok := <-blocks:
			if !ok {
				return
			}
			if !forwarding {
				continue
			}
			select {
			case <-c.quit:
				return
			default:
			}
			data := audio.EncodeTransport(audio.SamplesToPCM16(block))
			err := c.send.SendRealtimeInput(live.RealtimeInput{
				Media: &live.Media{Data: data, MIMEType: c.mime},
			})
			if err != nil {
				c.rep.Recovered(ctx, SendFailure, err)
				continue
			}
			met.CapturedBlocks.Add(ctx, 1)
		}
	}
}

// discardQueued drops the blocks already buffered in the stream. It reports
// false if the stream has ended.
func (c *Capture) discardQueued(blocks <-chan []float32) bool {
	for {
		select {
		case _, ok := <-blocks:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

// Cancel disconnects the capture graph without waiting. No block is sent
// after Cancel returns except one already in flight. Idempotent.
func (c *Capture) Cancel() {
	c.stopOnce.Do(func() {
		close(c.quit)
		_ = c.stream.Close()
	})
}

// Stop cancels the capture and waits for the forwarding loop to exit. A send
// already in flight is not interrupted; close the session to unblock it.
func (c *Capture) Stop() {
	c.Cancel()
	<-c.done
}

// Done is closed once the forwarding loop has exited, either after Stop or
// because the device stream ended.
func (c *Capture) Done() <-chan struct{} { return c.done }
