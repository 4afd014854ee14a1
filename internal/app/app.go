// Package app wires all wavecast subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives playback until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject fakes via functional options (WithDecoder, WithClock,
// WithMetrics). When an option is not provided, New uses the real
// implementation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/wavecast/internal/catalog"
	"github.com/MrWong99/wavecast/internal/config"
	"github.com/MrWong99/wavecast/internal/health"
	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/internal/playback"
	"github.com/MrWong99/wavecast/internal/server"
	"github.com/MrWong99/wavecast/internal/stream"
	"github.com/MrWong99/wavecast/pkg/audio"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds the graceful HTTP shutdown inside Run.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injectable collaborators.
	decoder        audio.Decoder
	clock          clockwork.Clock
	metrics        *observe.Metrics
	metricsHandler http.Handler
	tracerProvider trace.TracerProvider
	configWatcher  *config.Watcher

	// Subsystems, initialised in New and torn down in Shutdown.
	catalog    *catalog.Catalog
	hub        *playback.Hub
	controller *playback.Controller
	libWatcher *catalog.Watcher
	listener   net.Listener
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDecoder replaces the file decoder.
func WithDecoder(d audio.Decoder) Option {
	return func(a *App) { a.decoder = d }
}

// WithClock replaces the clock used for chunk pacing and debouncing.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics injects a metrics sink instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithTracerProvider sends request and session spans to tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) { a.tracerProvider = tp }
}

// WithConfigWatcher runs w alongside the server. Route its callback to
// [App.Reconfigure] to apply changes.
func WithConfigWatcher(w *config.Watcher) Option {
	return func(a *App) { a.configWatcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together and binds the listen
// address. It fails with an error wrapping [catalog.ErrCatalogEmpty] when the
// library holds no playable tracks.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.decoder == nil {
		a.decoder = audio.FileDecoder{}
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Library ───────────────────────────────────────────────────────
	a.catalog = catalog.New(cfg.Library.Dir, cfg.Library.Extensions)

	// ── 2. Broadcast hub ─────────────────────────────────────────────────
	a.hub = playback.NewHub(
		playback.WithSendTimeout(cfg.Stream.SendTimeout),
		playback.WithMaxClients(cfg.Stream.MaxClients),
		playback.WithHubMetrics(a.metrics),
	)

	// ── 3. Playback controller ───────────────────────────────────────────
	ctrl, err := playback.NewController(a.catalog, a.hub,
		playback.WithDecoder(a.decoder),
		playback.WithClock(a.clock),
		playback.WithChunkDuration(cfg.Stream.ChunkDuration),
		playback.WithAdvanceOnError(cfg.Stream.AdvanceOnError),
		playback.WithMetrics(a.metrics),
		playback.WithTracerProvider(a.tracerProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}
	a.controller = ctrl

	// ── 4. HTTP server ───────────────────────────────────────────────────
	var streamOpts []stream.Option
	if len(cfg.Server.AllowedOrigins) > 0 {
		streamOpts = append(streamOpts, stream.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	}
	srv := server.New(server.Config{
		Controller: a.controller,
		Library:    a.catalog,
		Stream:     stream.NewHandler(a.hub, streamOpts...),
		Health: health.New(
			health.Library(a.catalog.Snapshot),
			health.Running("playback", a.controller.Ready),
		),
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		TracerProvider: a.tracerProvider,
		StaticDir:      staticDir(cfg.Server.StaticDir),
	})

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Server.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("app: listen %q: %w", cfg.Server.ListenAddr, err)
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	// ── 5. Library watcher (optional) ────────────────────────────────────
	// Created last so a failed listen leaves no inotify handle behind.
	if cfg.Library.Watch {
		w, err := catalog.NewWatcher(a.catalog, a.reloadLibrary,
			catalog.WithDebounce(cfg.Library.Debounce),
			catalog.WithClock(a.clock),
		)
		if err != nil {
			_ = a.listener.Close()
			return nil, fmt.Errorf("app: init library watcher: %w", err)
		}
		a.libWatcher = w
		a.closers = append(a.closers, w.Close)
	}

	return a, nil
}

// staticDir returns dir when it exists, or "" to select the built-in player.
func staticDir(dir string) string {
	if dir == "" {
		return ""
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		slog.Info("static directory not found, serving built-in player", "dir", dir)
		return ""
	}
	return dir
}

// Addr returns the address the server is bound to.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Controller returns the playback controller.
func (a *App) Controller() *playback.Controller { return a.controller }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, drives playback and runs the optional watchers until ctx
// is cancelled or one of them fails. On cancellation Run returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.controller.Run(gctx)
	})

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil && tls.CertFile != "" {
			err = a.httpServer.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		err := a.httpServer.Shutdown(shutdownCtx)
		// Hijacked WebSocket connections are not tracked by Shutdown.
		a.hub.CloseAll("server shutting down")
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("app: shutdown http: %w", err)
		}
		return nil
	})

	if a.libWatcher != nil {
		g.Go(func() error {
			return a.libWatcher.Run(gctx)
		})
	}
	if a.configWatcher != nil {
		g.Go(func() error {
			return a.configWatcher.Run(gctx)
		})
	}

	slog.Info("app running",
		"addr", a.listener.Addr().String(),
		"library", a.cfg.Library.Dir,
		"watch_library", a.libWatcher != nil,
		"watch_config", a.configWatcher != nil,
	)
	return g.Wait()
}

// reloadLibrary is the library watcher callback.
func (a *App) reloadLibrary(ctx context.Context) {
	pos, err := a.controller.Reload(ctx)
	if err != nil {
		slog.Warn("library reload failed", "err", err)
		return
	}
	slog.Info("library reloaded", "track", pos.Track.Name, "index", pos.Index, "tracks", pos.Total)
}

// Reconfigure applies the hot-reloadable differences between old and new and
// returns the diff. Settings that need a restart are logged and ignored.
func (a *App) Reconfigure(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.SendTimeoutChanged {
		a.hub.SetSendTimeout(d.NewSendTimeout)
		slog.Info("send timeout updated", "send_timeout", d.NewSendTimeout)
	}
	if d.AdvanceOnErrorChanged {
		a.controller.SetAdvanceOnError(d.NewAdvanceOnError)
		slog.Info("advance_on_error updated", "advance_on_error", d.NewAdvanceOnError)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "fields", d.RestartRequired)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects all listeners and runs the closers. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "clients", a.hub.Count(), "closers", len(a.closers))

		a.hub.CloseAll("server shutting down")

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
