package wavfile

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/audio/timeline"
	"github.com/youpy/go-wav"
)

var _ audio.Speaker = (*Speaker)(nil)

// renderPeriod is how much audio the speaker renders per tick.
const renderPeriod = 20 * time.Millisecond

// Speaker renders playback in real time without a device. When Path is set,
// everything rendered is written to that file as 16-bit PCM on Close.
type Speaker struct {
	Path string
}

// Open starts a timeline rendered by a wall-clock ticker.
func (s *Speaker) Open(_ context.Context, f audio.Format) (audio.Output, error) {
	if s.Path != "" {
		// Fail early rather than after a whole session.
		file, err := os.Create(s.Path)
		if err != nil {
			return nil, fmt.Errorf("wavfile: create %q: %w", s.Path, err)
		}
		file.Close()
	}

	o := &output{
		Context: timeline.New(f),
		path:    s.Path,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go o.run()
	return o, nil
}

type output struct {
	*timeline.Context
	path string

	mu       sync.Mutex
	rendered []float32

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func (o *output) run() {
	defer close(o.stopped)
	f := o.Format()
	buf := make([]float32, int(f.Frames(renderPeriod))*max(f.Channels, 1))

	t := time.NewTicker(renderPeriod)
	defer t.Stop()
	for {
		select {
		case <-o.done:
			return
		case <-t.C:
			o.Render(buf)
			if o.path != "" {
				o.mu.Lock()
				o.rendered = append(o.rendered, buf...)
				o.mu.Unlock()
			}
		}
	}
}

// Close stops rendering, releases scheduled buffers, and writes the
// recording if one was requested.
func (o *output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		<-o.stopped
		err = o.Context.Close()
		if o.path != "" {
			if werr := o.write(); werr != nil && err == nil {
				err = werr
			}
		}
	})
	return err
}

func (o *output) write() error {
	o.mu.Lock()
	data := o.rendered
	o.rendered = nil
	o.mu.Unlock()

	f := o.Format()
	ch := max(f.Channels, 1)
	samples := make([]wav.Sample, len(data)/ch)
	for i := range samples {
		for c := range min(ch, 2) {
			v := math.Max(-1, math.Min(1, float64(data[i*ch+c])))
			samples[i].Values[c] = int(v * math.MaxInt16)
		}
	}

	file, err := os.Create(o.path)
	if err != nil {
		return fmt.Errorf("wavfile: create %q: %w", o.path, err)
	}
	w := wav.NewWriter(file, uint32(len(samples)), uint16(min(ch, 2)), uint32(f.SampleRate), 16)
	if err := w.WriteSamples(samples); err != nil {
		file.Close()
		return fmt.Errorf("wavfile: write %q: %w", o.path, err)
	}
	return file.Close()
}
