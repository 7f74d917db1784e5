package audio

import (
	"log/slog"
	"sync"
)

// FormatConverter converts Buffers to a target format. It logs once on the
// first format mismatch. Create one per stream; not designed for shared use
// across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts buf to the target format. If the source format already
// matches, buf is returned unchanged.
//
// Conversion order: channels first, then sample rate, so a stereo source bound
// for a mono target is only resampled once.
func (c *FormatConverter) Convert(buf *Buffer) *Buffer {
	src := buf.Format()
	if src == c.Target {
		return buf
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", src.String(),
			"to", c.Target.String(),
		)
	})

	chs := buf.Channels
	if len(chs) != c.Target.Channels {
		chs = Remix(chs, c.Target.Channels)
	}
	if buf.SampleRate != c.Target.SampleRate {
		res := make([][]float32, len(chs))
		for i, ch := range chs {
			res[i] = Resample(ch, buf.SampleRate, c.Target.SampleRate)
		}
		chs = res
	}
	return &Buffer{Channels: chs, SampleRate: c.Target.SampleRate}
}

// Remix maps planar channels onto n output channels. Down-mixing to mono
// averages all inputs; up-mixing from mono duplicates the single channel. For
// any other layout the first n channels are kept and missing ones are silent.
func Remix(chs [][]float32, n int) [][]float32 {
	if len(chs) == n || n <= 0 {
		return chs
	}
	if len(chs) == 0 {
		return make([][]float32, n)
	}
	frames := len(chs[0])
	out := make([][]float32, n)

	switch {
	case n == 1:
		mono := make([]float32, frames)
		for _, ch := range chs {
			for i, s := range ch {
				mono[i] += s
			}
		}
		inv := 1 / float32(len(chs))
		for i := range mono {
			mono[i] *= inv
		}
		out[0] = mono
	case len(chs) == 1:
		for i := range out {
			out[i] = append([]float32(nil), chs[0]...)
		}
	default:
		for i := range out {
			if i < len(chs) {
				out[i] = chs[i]
			} else {
				out[i] = make([]float32, frames)
			}
		}
	}
	return out
}

// Resample converts samples from srcRate to dstRate using linear
// interpolation. If the rates match or either is non-positive, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx < last {
			s1 = samples[idx+1]
		}
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}
