// Package app wires the tactical radio subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the archive, the radio
// controller and the HTTP surface from config, Run serves until the context
// ends, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithArchive,
// WithFrameSources, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/tacradio/internal/api"
	"github.com/MrWong99/tacradio/internal/archive"
	"github.com/MrWong99/tacradio/internal/config"
	"github.com/MrWong99/tacradio/internal/frame"
	"github.com/MrWong99/tacradio/internal/health"
	"github.com/MrWong99/tacradio/internal/observe"
	"github.com/MrWong99/tacradio/internal/radio"
	"github.com/MrWong99/tacradio/pkg/audio"
	"github.com/MrWong99/tacradio/pkg/live"
	"golang.org/x/sync/errgroup"
)

// Providers holds the backends created by main.go via the config registry.
type Providers struct {
	Live  live.Dialer
	Audio config.AudioDevices
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	archive      radio.HistorySink
	frameSources func(radio.Target) radio.FrameSource
	metrics      *observe.Metrics
	metricsHTTP  http.Handler
	level        *slog.LevelVar
	ctrl         *radio.Controller
	health       *health.Handler
	handler      http.Handler
	server       *http.Server
	listener     net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a history archive instead of creating one from config.
func WithArchive(s radio.HistorySink) Option {
	return func(a *App) { a.archive = s }
}

// WithFrameSources injects the per-target frame source resolver.
func WithFrameSources(fn func(radio.Target) radio.FrameSource) Option {
	return func(a *App) { a.frameSources = fn }
}

// WithMetrics sets the metrics instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry uses the instruments of t and serves its registry on
// /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) {
		a.metrics = t.Metrics
		a.metricsHTTP = t.Handler()
	}
}

// WithLevelVar lets ApplyConfig change the log level of a handler built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: live dialer is required")
	}
	if providers.Audio.Microphone == nil || providers.Audio.Speaker == nil {
		return nil, errors.New("app: audio devices are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHTTP == nil {
		a.metricsHTTP = observe.MetricsHandler()
	}

	// ── 1. Archive ───────────────────────────────────────────────────────
	var checks []health.Checker
	if err := a.initArchive(ctx, &checks); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 2. Radio controller ──────────────────────────────────────────────
	if err := a.initController(ctx); err != nil {
		return nil, fmt.Errorf("app: init radio: %w", err)
	}

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	a.health = health.New(checks...)
	mux := http.NewServeMux()
	api.New(a.ctrl).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHTTP)
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initArchive opens the PostgreSQL archive when a DSN is configured and
// falls back to memory otherwise.
func (a *App) initArchive(ctx context.Context, checks *[]health.Checker) error {
	if a.archive != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		a.archive = archive.NewMemory()
		slog.Info("archive: in memory")
		return nil
	}

	pg, err := archive.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.archive = pg
	a.closers = append(a.closers, func() error { pg.Close(); return nil })
	*checks = append(*checks, health.Checker{Name: "archive", Check: pg.Ping})
	slog.Info("archive: postgres connected")
	return nil
}

// initController builds the radio controller and selects the default target.
func (a *App) initController(ctx context.Context) error {
	cfg := a.cfg
	opts := []radio.Option{
		radio.WithGraceDelay(cfg.Radio.GraceDelay),
		radio.WithFrameInterval(cfg.Frames.Interval),
		radio.WithSessionConfig(cfg.Live.SessionConfig()),
		radio.WithFrameEncoder(frame.JPEG{Quality: cfg.Frames.Quality, MaxWidth: cfg.Frames.MaxWidth}),
		radio.WithHistorySink(a.archive, cfg.Archive.HistoryLimit),
		radio.WithBlockSize(cfg.Audio.BlockSize),
		radio.WithFormats(
			audio.Format{SampleRate: cfg.Audio.CaptureRate, Channels: 1},
			audio.Format{SampleRate: cfg.Audio.PlaybackRate, Channels: 1},
		),
		radio.WithMetrics(a.metrics),
		radio.WithLogger(slog.Default()),
	}
	if a.frameSources != nil {
		opts = append(opts, radio.WithFrameSources(a.frameSources))
	}

	a.ctrl = radio.New(a.providers.Live, a.providers.Audio.Microphone, a.providers.Audio.Speaker,
		Targets(cfg.Targets), opts...)
	a.closers = append(a.closers, a.ctrl.Close)

	if id := cfg.Radio.DefaultTarget; id != "" {
		if err := a.ctrl.SelectTarget(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Targets converts configured targets to radio targets.
func Targets(tcs []config.TargetConfig) []radio.Target {
	out := make([]radio.Target, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, radio.Target{
			ID:        tc.ID,
			Name:      tc.Name,
			Location:  tc.Location,
			StreamURL: tc.StreamURL,
			External:  tc.External,
		})
	}
	return out
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the radio controller.
func (a *App) Controller() *radio.Controller { return a.ctrl }

// Handler returns the HTTP handler serving the API, health and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of a changed config. It has
// the signature of [config.ChangeFunc].
func (a *App) ApplyConfig(_, newCfg *config.Config, d config.ConfigDiff) {
	if d.TargetsChanged {
		a.ctrl.SetTargets(Targets(newCfg.Targets))
		for _, tc := range d.TargetChanges {
			slog.Info("target updated", "id", tc.ID, "added", tc.Added, "removed", tc.Removed, "modified", tc.Modified)
		}
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
