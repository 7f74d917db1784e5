// Package archive persists the radio's conversation history per target.
//
// Two [radio.HistorySink] implementations are provided: [Memory], which keeps
// turns for the lifetime of the process, and [Postgres], which stores them in
// a radio_turns table so history survives restarts.
package archive

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/tacradio/internal/radio"
)

// Memory is an in-process [radio.HistorySink]. All methods are safe for
// concurrent use.
type Memory struct {
	mu    sync.Mutex
	turns map[string][]radio.Turn
}

var _ radio.HistorySink = (*Memory)(nil)

// NewMemory returns an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{turns: make(map[string][]radio.Turn)}
}

// Append stores t under target. A turn whose ID is already stored is ignored.
func (m *Memory) Append(_ context.Context, target string, t radio.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.turns[target], func(x radio.Turn) bool { return x.ID == t.ID }) {
		return nil
	}
	m.turns[target] = append(m.turns[target], t)
	return nil
}

// List returns the newest limit turns of target in chronological order. A
// non-positive limit returns every turn.
func (m *Memory) List(_ context.Context, target string, limit int) ([]radio.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[target]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return slices.Clone(turns), nil
}

// Wipe deletes every turn of target.
func (m *Memory) Wipe(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, target)
	return nil
}
