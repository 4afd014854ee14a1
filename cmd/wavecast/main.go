// Command wavecast streams a directory of audio files to every connected
// WebSocket listener.
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

	"github.com/MrWong99/wavecast/internal/app"
	"github.com/MrWong99/wavecast/internal/catalog"
	"github.com/MrWong99/wavecast/internal/config"
	"github.com/MrWong99/wavecast/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchConfig := flag.Bool("watch-config", false, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(level))

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *watchConfig {
		watcher, err = config.NewWatcher(*configPath, nil)
		if err == nil {
			cfg = watcher.Current()
		}
	} else {
		cfg, err = config.Load(*configPath)
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("config file not found, using defaults", "config", *configPath)
		cfg = config.Default()
		watcher = nil
	case err != nil:
		fmt.Fprintf(os.Stderr, "wavecast: %v\n", err)
		return 1
	}
	level.Set(cfg.Server.LogLevel.Slog())

	slog.Info("wavecast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Telemetry.SampleRatio(),
		Global:           true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler),
		app.WithTracerProvider(tel.TracerProvider),
	}
	if watcher != nil {
		opts = append(opts, app.WithConfigWatcher(watcher))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		if errors.Is(err, catalog.ErrCatalogEmpty) {
			slog.Error("no playable tracks found", "dir", cfg.Library.Dir, "extensions", cfg.Library.Extensions)
		} else {
			slog.Error("failed to initialise application", "err", err)
		}
		return 1
	}
	if watcher != nil {
		watcher.OnChange(func(old, new *config.Config) {
			d := application.Reconfigure(old, new)
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Slog())
				slog.Info("log level updated", "log_level", d.NewLogLevel)
			}
		})
	}

	printStartupSummary(cfg, application.Addr().String(), *watchConfig)

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func printStartupSummary(cfg *config.Config, addr string, watchConfig bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        wavecast: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", addr)
	printRow("Library", cfg.Library.Dir)
	printRow("Chunk", cfg.Stream.ChunkDuration.String())
	printRow("Send timeout", cfg.Stream.SendTimeout.String())
	printRow("Skip on error", onOff(cfg.Stream.AdvanceOnError))
	if cfg.Stream.MaxClients > 0 {
		printRow("Max clients", fmt.Sprint(cfg.Stream.MaxClients))
	} else {
		printRow("Max clients", "(unlimited)")
	}
	printRow("Watch library", onOff(cfg.Library.Watch))
	printRow("Watch config", onOff(watchConfig))
	if cfg.Server.TLS != nil && cfg.Server.TLS.CertFile != "" {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
