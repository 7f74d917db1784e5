// Package audio defines the sample formats, PCM codec, and device interfaces
// used by the tactical radio.
//
// Devices are injected collaborators rather than ambient globals:
//
//   - [Microphone] opens a capture context and yields fixed-size blocks of
//     channel-0 samples.
//   - [Speaker] opens a playback context whose [Output] owns its own clock and
//     schedules [Buffer] values at absolute times on it.
//
// Capture and playback contexts are independent values and must never be
// shared. Concrete devices live in sub-packages (pulse, portaudio, wavfile);
// [github.com/MrWong99/tacradio/pkg/audio/timeline] provides the software
// clock and mixer that device backends drive.
package audio

import (
	"context"
	"time"
)

// DefaultBlockSize is the number of samples per capture block.
const DefaultBlockSize = 4096

// InputStream is an open capture graph.
type InputStream interface {
	// Blocks returns the channel on which captured blocks arrive. Each block
	// holds exactly the requested number of channel-0 samples. The channel is
	// closed when the stream is closed or the device fails.
	Blocks() <-chan []float32

	// Close disconnects the capture graph. Idempotent.
	Close() error
}

// Microphone opens capture streams.
type Microphone interface {
	// Open starts capturing in format f, delivering blocks of blockSize
	// samples. An error means the device could not be opened or access was
	// refused.
	Open(ctx context.Context, f Format, blockSize int) (InputStream, error)
}

// Playback is a handle on one scheduled buffer.
type Playback interface {
	// Stop silences the buffer immediately. Stopping an already finished or
	// stopped playback is a no-op.
	Stop()
}

// Output is a playback context with its own monotonic clock.
//
// Implementations must be safe for concurrent use. onEnded callbacks may run
// on a device goroutine and must not block.
type Output interface {
	// Format returns the context's sample rate and channel count.
	Format() Format

	// Now returns the current output-device time.
	Now() time.Duration

	// Play schedules buf to start at the absolute clock time at. A start time
	// in the past plays immediately. onEnded, if non-nil, is invoked exactly
	// once when the buffer finishes or is stopped.
	Play(buf *Buffer, at time.Duration, onEnded func()) (Playback, error)

	// Close stops all playback and releases the device. Idempotent.
	Close() error
}

// Speaker opens playback contexts.
type Speaker interface {
	Open(ctx context.Context, f Format) (Output, error)
}
