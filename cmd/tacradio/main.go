// Command tacradio is the tactical voice radio server. It streams microphone
// audio and camera frames to a live AI endpoint and serves the operator API.
//
// Usage:
//
//	tacradio -config config.yaml
//
// The server shuts down gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/tacradio/internal/app"
	"github.com/MrWong99/tacradio/internal/config"
	"github.com/MrWong99/tacradio/internal/observe"
	"github.com/MrWong99/tacradio/pkg/audio/pulse"
	"github.com/MrWong99/tacradio/pkg/audio/wavfile"
	"github.com/MrWong99/tacradio/pkg/live"
	"github.com/MrWong99/tacradio/pkg/live/gemini"
	"github.com/MrWong99/tacradio/pkg/live/genailive"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload targets and log level when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tacradio: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tacradio: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("tacradio starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "tacradio",
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(level), app.WithTelemetry(tel))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider registration ─────────────────────────────────────────────────────

// extraProviders holds registrations compiled in behind build tags.
var extraProviders []func(*config.Registry)

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(c config.LiveConfig) (live.Dialer, error) {
		opts := []gemini.Option{gemini.WithLogger(slog.Default())}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(c.APIKey, opts...), nil
	})

	reg.RegisterLive("genai-live", func(c config.LiveConfig) (live.Dialer, error) {
		opts := []genailive.Option{genailive.WithLogger(slog.Default())}
		if c.BaseURL != "" {
			opts = append(opts, genailive.WithHTTPOptions(genai.HTTPOptions{BaseURL: c.BaseURL}))
		}
		return genailive.New(c.APIKey, opts...), nil
	})

	reg.RegisterAudio("pulse", func(c config.AudioConfig) (config.AudioDevices, error) {
		return config.AudioDevices{
			Microphone: &pulse.Microphone{Source: c.Input},
			Speaker:    &pulse.Speaker{Latency: c.Latency.Seconds()},
		}, nil
	})

	reg.RegisterAudio("wav", func(c config.AudioConfig) (config.AudioDevices, error) {
		return config.AudioDevices{
			Microphone: &wavfile.Microphone{Path: c.WAVFile, Loop: c.Loop},
			Speaker:    &wavfile.Speaker{Path: c.WAVOutput},
		}, nil
	})

	for _, register := range extraProviders {
		register(reg)
	}

	slog.Debug("registered providers", "live", reg.LiveNames(), "audio", reg.AudioNames())
}

func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	dialer, err := reg.CreateLive(cfg.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Live.Provider, err)
	}
	slog.Info("provider created", "kind", "live", "name", cfg.Live.Provider)

	devices, err := reg.CreateAudio(cfg.Audio)
	if errors.Is(err, config.ErrProviderNotRegistered) && cfg.Audio.Backend == "portaudio" {
		return nil, fmt.Errorf("audio backend %q is not compiled in; rebuild with -tags portaudio", cfg.Audio.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	return &app.Providers{Live: dialer, Audio: devices}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        tacradio: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", cfg.Live.Provider+" / "+cfg.Live.Model)
	printRow("Voice", cfg.Live.Voice)
	printRow("Audio", cfg.Audio.Backend)
	printRow("Frames", cfg.Frames.Interval.String())
	if cfg.Archive.PostgresDSN != "" {
		printRow("Archive", "postgres")
	} else {
		printRow("Archive", "memory")
	}
	printRow("Targets", fmt.Sprint(len(cfg.Targets)))
	if cfg.Radio.DefaultTarget != "" {
		printRow("Default target", cfg.Radio.DefaultTarget)
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}
