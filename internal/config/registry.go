package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioDevices is the pair of devices an audio backend provides.
type AudioDevices struct {
	Microphone audio.Microphone
	Speaker    audio.Speaker
}

// Registry maps names to constructor functions for live transports and audio
// backends. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  map[string]func(LiveConfig) (live.Dialer, error)
	audio map[string]func(AudioConfig) (AudioDevices, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:  make(map[string]func(LiveConfig) (live.Dialer, error)),
		audio: make(map[string]func(AudioConfig) (AudioDevices, error)),
	}
}

// RegisterLive registers a live transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(LiveConfig) (live.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (AudioDevices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLive instantiates the transport registered under cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateLive(cfg LiveConfig) (live.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.live[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateAudio instantiates the backend registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (AudioDevices, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return AudioDevices{}, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// LiveNames returns the registered transport names, sorted.
func (r *Registry) LiveNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.live)
}

// AudioNames returns the registered backend names, sorted.
func (r *Registry) AudioNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.audio)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
