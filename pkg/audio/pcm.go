package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecode reports a malformed PCM or transport-text payload. Callers treat
// it as an empty chunk; it is never fatal to a stream.
var ErrDecode = errors.New("audio: decode failure")

// pcmScale is the int16 full-scale factor shared by both conversion directions.
const pcmScale = 32768

// SamplesToPCM16 encodes float samples as signed 16-bit little-endian PCM.
//
// Each sample is multiplied by 32768 and truncated toward zero. No clamping is
// applied: values outside [-1, 1) wrap around in 16 bits, so 1.0 encodes as
// -32768. Callers that need clipping must clamp beforehand.
func SamplesToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * pcmScale))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToSamples decodes interleaved signed 16-bit little-endian PCM into one
// float slice per channel, scaling by 1/32768.
//
// The frame count is len(pcm) / 2 / channels. A payload whose length is not a
// whole number of frames, or a non-positive channel count, yields ErrDecode and
// no samples.
func PCM16ToSamples(pcm []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrDecode, channels)
	}
	frameBytes := 2 * channels
	if len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrDecode, len(pcm), frameBytes)
	}
	frames := len(pcm) / frameBytes
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(pcm[off:]))
			out[ch][i] = float32(v) / pcmScale
		}
	}
	return out, nil
}

// DecodeBuffer decodes a PCM16 payload into a [Buffer] of format f.
func DecodeBuffer(pcm []byte, f Format) (*Buffer, error) {
	chs, err := PCM16ToSamples(pcm, f.Channels)
	if err != nil {
		return nil, err
	}
	return &Buffer{Channels: chs, SampleRate: f.SampleRate}, nil
}

// EncodeTransport renders raw bytes as standard base64, the text encoding the
// streaming endpoint expects for inline media.
func EncodeTransport(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeTransport reverses [EncodeTransport]. On malformed input it returns an
// empty, non-nil slice together with an error wrapping ErrDecode.
func DecodeTransport(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}
