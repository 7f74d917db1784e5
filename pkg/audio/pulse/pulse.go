// Package pulse implements [audio.Microphone] and [audio.Speaker] on top of a
// PulseAudio (or PipeWire-pulse) server using the pure-Go
// github.com/jfreymuth/pulse client.
//
// Capture records mono float32 at the requested rate and regroups the driver's
// fragments into fixed-size blocks. Playback pulls from a
// [timeline.Context], so the output clock advances exactly as fast as the
// server consumes samples.
package pulse

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/audio/timeline"
	"github.com/jfreymuth/pulse"
)

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
	_ audio.Output     = (*output)(nil)
)

const applicationName = "tacradio"

// defaultLatency is the playback buffer target in seconds.
const defaultLatency = 0.05

// Microphone records from a PulseAudio source.
type Microphone struct {
	// Source is the source name to record from. Empty or "default" selects
	// the server's default source.
	Source string
}

// Open connects to the server and starts a record stream. Errors from the
// server, including a refused connection, are returned wrapped.
func (m *Microphone) Open(ctx context.Context, f audio.Format, blockSize int) (audio.InputStream, error) {
	client, err := newClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}

	source, err := resolveSource(client, m.Source)
	if err != nil {
		client.Close()
		return nil, err
	}

	var stream *pulse.RecordStream
	bs := audio.NewBlockStream(blockSize, func() error {
		if stream != nil {
			stream.Stop()
			stream.Close()
		}
		client.Close()
		return nil
	})

	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		if !bs.Write(buf) {
			return 0, pulse.EndOfData
		}
		return len(buf), nil
	})
	stream, err = client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(f.SampleRate),
		pulse.RecordMediaName("tacradio capture"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: create record stream: %w", err)
	}
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = bs.Close()
	}()
	return bs, nil
}

// Speaker plays to the server's default sink.
type Speaker struct {
	// Latency is the requested playback latency in seconds. Zero selects
	// 50 ms.
	Latency float64
}

// Open connects to the server and starts a playback stream fed by a fresh
// software timeline.
func (s *Speaker) Open(_ context.Context, f audio.Format) (audio.Output, error) {
	client, err := newClient("audio-speakers")
	if err != nil {
		return nil, err
	}

	tl := timeline.New(f)
	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		tl.Render(buf)
		return len(buf), nil
	})

	latency := s.Latency
	if latency <= 0 {
		latency = defaultLatency
	}
	layout := pulse.PlaybackMono
	if f.Channels == 2 {
		layout = pulse.PlaybackStereo
	}
	stream, err := client.NewPlayback(
		reader,
		layout,
		pulse.PlaybackSampleRate(f.SampleRate),
		pulse.PlaybackLatency(latency),
		pulse.PlaybackMediaName("tacradio playback"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: create playback stream: %w", err)
	}
	stream.Start()

	return &output{Context: tl, client: client, stream: stream}, nil
}

// output binds a timeline to the stream that drains it.
type output struct {
	*timeline.Context
	client *pulse.Client
	stream *pulse.PlaybackStream
}

// Close stops the stream, then releases every scheduled buffer.
func (o *output) Close() error {
	o.stream.Stop()
	o.stream.Close()
	o.client.Close()
	return o.Context.Close()
}

func newClient(icon string) (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName(icon),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse: connect server: %w", err)
	}
	return client, nil
}

func resolveSource(client *pulse.Client, name string) (*pulse.Source, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "default") {
		src, err := client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("pulse: read default source: %w", err)
		}
		return src, nil
	}
	src, err := client.SourceByID(name)
	if err != nil {
		return nil, fmt.Errorf("pulse: resolve source %q: %w", name, err)
	}
	return src, nil
}
