//go:build portaudio

package main

import (
	"github.com/MrWong99/tacradio/internal/config"
	"github.com/MrWong99/tacradio/pkg/audio/portaudio"
)

func init() {
	extraProviders = append(extraProviders, func(reg *config.Registry) {
		reg.RegisterAudio("portaudio", func(config.AudioConfig) (config.AudioDevices, error) {
			return config.AudioDevices{
				Microphone: portaudio.Microphone{},
				Speaker:    portaudio.Speaker{},
			}, nil
		})
	})
}
