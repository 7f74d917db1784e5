package audio

import "sync"

// Blocker regroups an arbitrary sequence of sample slices into blocks of a
// fixed size. Device callbacks deliver whatever the driver hands them; the
// capture path wants exactly [DefaultBlockSize] samples per block.
//
// A Blocker is not safe for concurrent use.
type Blocker struct {
	size    int
	pending []float32
}

// NewBlocker returns a Blocker producing blocks of size samples. A size of
// zero or less selects [DefaultBlockSize].
func NewBlocker(size int) *Blocker {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &Blocker{size: size, pending: make([]float32, 0, size)}
}

// Size returns the block size.
func (b *Blocker) Size() int { return b.size }

// Push appends samples and returns every block that is now complete. Each
// returned block is a fresh slice owned by the caller.
func (b *Blocker) Push(samples []float32) [][]float32 {
	var out [][]float32
	for len(samples) > 0 {
		n := min(b.size-len(b.pending), len(samples))
		b.pending = append(b.pending, samples[:n]...)
		samples = samples[n:]
		if len(b.pending) == b.size {
			block := make([]float32, b.size)
			copy(block, b.pending)
			out = append(out, block)
			b.pending = b.pending[:0]
		}
	}
	return out
}

// Pending returns how many samples are buffered towards the next block.
func (b *Blocker) Pending() int { return len(b.pending) }

// BlockStream is an [InputStream] fed by a device callback. Write regroups
// incoming samples into fixed-size blocks and delivers them on Blocks; when
// the consumer falls behind, blocks are dropped rather than stalling the
// device thread.
type BlockStream struct {
	mu      sync.Mutex
	blocker *Blocker
	blocks  chan []float32
	closed  bool
	dropped int
	onClose func() error
}

// NewBlockStream returns a stream with the given block size. onClose, if
// non-nil, runs once when the stream is closed and releases the device.
func NewBlockStream(blockSize int, onClose func() error) *BlockStream {
	return &BlockStream{
		blocker: NewBlocker(blockSize),
		blocks:  make(chan []float32, 32),
		onClose: onClose,
	}
}

// Write accepts samples from the device. It reports false once the stream
// is closed so callbacks can signal end-of-stream to their driver.
func (s *BlockStream) Write(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for _, block := range s.blocker.Push(samples) {
		select {
		case s.blocks <- block:
		default:
			s.dropped++
		}
	}
	return true
}

// Dropped returns the number of blocks discarded because the consumer was
// not keeping up.
func (s *BlockStream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Blocks implements [InputStream].
func (s *BlockStream) Blocks() <-chan []float32 { return s.blocks }

// Close implements [InputStream]. Idempotent.
func (s *BlockStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.blocks)
	s.mu.Unlock()

	if s.onClose != nil {
		return s.onClose()
	}
	return nil
}
