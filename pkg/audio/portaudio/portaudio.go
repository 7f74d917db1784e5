//go:build portaudio

// Package portaudio implements [audio.Microphone] and [audio.Speaker] with the
// PortAudio C library through github.com/gordonklaus/portaudio.
//
// It requires cgo and the PortAudio headers, so it is only compiled with the
// "portaudio" build tag. Both directions use callback streams: the capture
// callback feeds an [audio.BlockStream], the playback callback renders a
// [timeline.Context].
package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/audio/timeline"
	"github.com/gordonklaus/portaudio"
)

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
)

// outputFramesPerBuffer is 40 ms at 24 kHz.
const outputFramesPerBuffer = 960

// PortAudio must be initialised once per process; streams share the library.
var (
	initMu   sync.Mutex
	initRefs int
)

func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	initRefs--
	if initRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// Microphone captures from the default input device.
type Microphone struct{}

// Open starts a mono callback stream at the requested rate.
func (Microphone) Open(ctx context.Context, f audio.Format, blockSize int) (audio.InputStream, error) {
	if err := acquire(); err != nil {
		return nil, err
	}

	var stream *portaudio.Stream
	bs := audio.NewBlockStream(blockSize, func() error {
		defer release()
		if err := stream.Stop(); err != nil {
			_ = stream.Close()
			return fmt.Errorf("portaudio: stop input: %w", err)
		}
		return stream.Close()
	})

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(f.SampleRate), blockSize, func(in []float32) {
		bs.Write(in)
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = bs.Close()
	}()
	return bs, nil
}

// Speaker plays through the default output device.
type Speaker struct{}

// Open starts a callback stream that renders a fresh software timeline.
func (Speaker) Open(_ context.Context, f audio.Format) (audio.Output, error) {
	if err := acquire(); err != nil {
		return nil, err
	}

	tl := timeline.New(f)
	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), outputFramesPerBuffer, func(out []float32) {
		tl.Render(out)
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	return &output{Context: tl, stream: stream}, nil
}

type output struct {
	*timeline.Context
	stream *portaudio.Stream
	once   sync.Once
}

// Close stops the device stream and every scheduled buffer.
func (o *output) Close() error {
	var err error
	o.once.Do(func() {
		defer release()
		if stopErr := o.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop output: %w", stopErr)
		}
		_ = o.stream.Close()
		_ = o.Context.Close()
	})
	return err
}
