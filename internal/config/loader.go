package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tacradio/pkg/live"
)

// APIKeyEnv is consulted when live.api_key is empty.
const APIKeyEnv = "GEMINI_API_KEY"

// ValidProviderNames lists known names per registry kind. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini-live", "genai-live"},
	"audio": {"pulse", "portaudio", "wav"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	def := live.DefaultSessionConfig()
	if cfg.Live.Provider == "" {
		cfg.Live.Provider = "gemini-live"
	}
	if cfg.Live.APIKey == "" {
		cfg.Live.APIKey = os.Getenv(APIKeyEnv)
	}
	if cfg.Live.Model == "" {
		cfg.Live.Model = def.Model
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = def.Voice
	}
	if cfg.Live.Instructions == "" {
		cfg.Live.Instructions = def.Instructions
	}

	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = "pulse"
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = 16000
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = 24000
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = 4096
	}
	if cfg.Audio.Latency == 0 {
		cfg.Audio.Latency = 50 * time.Millisecond
	}

	if cfg.Frames.Interval == 0 {
		cfg.Frames.Interval = time.Second
	}
	if cfg.Frames.Quality == 0 {
		cfg.Frames.Quality = 60
	}

	if cfg.Radio.GraceDelay == 0 {
		cfg.Radio.GraceDelay = time.Second
	}
	if cfg.Archive.HistoryLimit == 0 {
		cfg.Archive.HistoryLimit = 200
	}
}

// SessionConfig converts the live section into the configuration sent on
// every dial.
func (c LiveConfig) SessionConfig() live.SessionConfig {
	return live.SessionConfig{
		Model:               c.Model,
		ResponseModality:    live.ModalityAudio,
		Voice:               c.Voice,
		Instructions:        c.Instructions,
		InputTranscription:  !c.DisableTranscription,
		OutputTranscription: !c.DisableTranscription,
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v is outside [0, 1]", r))
	}

	// Live
	validateProviderName("live", cfg.Live.Provider)
	if cfg.Live.APIKey == "" {
		slog.Warn("live.api_key is empty and " + APIKeyEnv + " is not set; sessions will fail to authenticate")
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Audio.Backend == "wav" && cfg.Audio.WAVFile == "" {
		errs = append(errs, errors.New("audio.wav_file is required when audio.backend is wav"))
	}
	if cfg.Audio.CaptureRate < 0 || cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, errors.New("audio sample rates must be positive"))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.Latency < 0 {
		errs = append(errs, fmt.Errorf("audio.latency %s must not be negative", cfg.Audio.Latency))
	}

	// Frames
	if cfg.Frames.Interval < 0 {
		errs = append(errs, fmt.Errorf("frames.interval %s must not be negative", cfg.Frames.Interval))
	}
	if cfg.Frames.Quality < 0 || cfg.Frames.Quality > 100 {
		errs = append(errs, fmt.Errorf("frames.quality %d is out of range [1, 100]", cfg.Frames.Quality))
	}
	if cfg.Frames.MaxWidth < 0 {
		errs = append(errs, fmt.Errorf("frames.max_width %d must not be negative", cfg.Frames.MaxWidth))
	}

	// Radio
	if cfg.Radio.GraceDelay < 0 {
		errs = append(errs, fmt.Errorf("radio.grace_delay %s must not be negative", cfg.Radio.GraceDelay))
	}
	if cfg.Archive.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("archive.history_limit %d must not be negative", cfg.Archive.HistoryLimit))
	}

	// Targets
	seen := make(map[string]int, len(cfg.Targets))
	for i, t := range cfg.Targets {
		prefix := fmt.Sprintf("targets[%d]", i)
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[t.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of targets[%d]", prefix, t.ID, prev))
			}
			seen[t.ID] = i
		}
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if !t.External && t.StreamURL == "" {
			slog.Warn("target has no stream_url; no frames will be sampled", "target", t.ID)
		}
	}
	if id := cfg.Radio.DefaultTarget; id != "" {
		if _, ok := seen[id]; !ok {
			errs = append(errs, fmt.Errorf("radio.default_target %q does not name a configured target", id))
		}
	}
	if len(cfg.Targets) == 0 {
		slog.Warn("no targets configured; the radio cannot be started")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
