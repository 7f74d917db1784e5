package radio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tacradio/internal/radio"
	"github.com/MrWong99/tacradio/pkg/audio"
)

// failures collects recovered failures from a Reporter.
type failures struct {
	mu    sync.Mutex
	kinds []radio.FailureKind
}

func (f *failures) observe(kind radio.FailureKind, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}

func (f *failures) count(kind radio.FailureKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func (f *failures) reporter() *radio.Reporter {
	return &radio.Reporter{Observer: f.observe}
}

// pcmFor returns silent PCM16 of the given duration in format f.
func pcmFor(f audio.Format, d time.Duration) []byte {
	n := int(f.Frames(d)) * f.Channels
	return audio.SamplesToPCM16(make([]float32, n))
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
