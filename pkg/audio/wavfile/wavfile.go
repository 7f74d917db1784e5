// Package wavfile implements [audio.Microphone] by streaming a WAV file as if
// it were a live input device. It is used for headless drills and demos where
// no capture hardware is available.
//
// The file is decoded with github.com/youpy/go-wav, down-mixed and resampled
// to the requested capture format, and delivered in fixed-size blocks paced
// at real time.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/youpy/go-wav"
)

var _ audio.Microphone = (*Microphone)(nil)

// readFrames is the number of source frames decoded per step.
const readFrames = 1024

// Microphone replays a WAV file.
type Microphone struct {
	// Path is the WAV file to stream.
	Path string

	// Loop restarts the file from the beginning at end of stream instead of
	// closing the block channel.
	Loop bool

	// NoPacing delivers blocks as fast as they decode. Tests use it to avoid
	// waiting for wall-clock time.
	NoPacing bool
}

// Open validates the file header and starts streaming.
func (m *Microphone) Open(ctx context.Context, f audio.Format, blockSize int) (audio.InputStream, error) {
	file, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", m.Path, err)
	}
	src, err := readFormat(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	done := make(chan struct{})
	bs := audio.NewBlockStream(blockSize, func() error {
		close(done)
		return nil
	})

	s := &streamer{
		file:   file,
		src:    src,
		conv:   &audio.FormatConverter{Target: audio.Format{SampleRate: f.SampleRate, Channels: 1}},
		out:    bs,
		loop:   m.Loop,
		pacing: !m.NoPacing,
		done:   done,
	}
	go s.run(ctx)
	return bs, nil
}

// readFormat parses the header and rejects layouts the decoder cannot
// represent.
func readFormat(file *os.File) (audio.Format, error) {
	format, err := wav.NewReader(file).Format()
	if err != nil {
		return audio.Format{}, fmt.Errorf("wavfile: read header: %w", err)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return audio.Format{}, fmt.Errorf("wavfile: unsupported channel count %d", format.NumChannels)
	}
	if format.SampleRate == 0 {
		return audio.Format{}, errors.New("wavfile: zero sample rate")
	}
	return audio.Format{SampleRate: int(format.SampleRate), Channels: int(format.NumChannels)}, nil
}

type streamer struct {
	file   *os.File
	src    audio.Format
	conv   *audio.FormatConverter
	out    *audio.BlockStream
	loop   bool
	pacing bool
	done   chan struct{}
}

func (s *streamer) run(ctx context.Context) {
	defer s.file.Close()
	defer s.out.Close()

	step := s.src.FrameDuration(readFrames)
	var tick <-chan time.Time
	if s.pacing {
		t := time.NewTicker(step)
		defer t.Stop()
		tick = t.C
	}

	reader := wav.NewReader(s.file)
	for {
		samples, err := reader.ReadSamples(readFrames)
		if err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("wavfile: read failed", "path", s.file.Name(), "err", err)
			return
		}
		if len(samples) > 0 {
			buf := audio.NewBuffer(s.src, len(samples))
			for i, smp := range samples {
				for ch := range buf.Channels {
					buf.Channels[ch][i] = float32(reader.FloatValue(smp, uint(ch)))
				}
			}
			if !s.out.Write(s.conv.Convert(buf).Channels[0]) {
				return
			}
		}
		if errors.Is(err, io.EOF) || len(samples) == 0 {
			if !s.loop {
				return
			}
			reader = wav.NewReader(s.file)
			if _, err := reader.Format(); err != nil {
				slog.Warn("wavfile: rewind failed", "path", s.file.Name(), "err", err)
				return
			}
		}

		if tick == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-tick:
		}
	}
}
