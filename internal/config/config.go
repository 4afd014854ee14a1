// Package config provides the configuration schema, loader, and file watcher
// for the wavecast broadcast server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/wavecast/pkg/audio"
)

// LogLevel controls log verbosity for the wavecast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the equivalent [slog.Level]. Unknown or empty levels map to
// [slog.LevelInfo].
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultStaticDir     = "static"
	DefaultLibraryDir    = "audio"
	DefaultDebounce      = 500 * time.Millisecond
	DefaultChunkDuration = 3 * time.Second
	DefaultSendTimeout   = 2 * time.Second
	DefaultServiceName   = "wavecast"
)

// Config is the root configuration structure for wavecast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Library   LibraryConfig   `yaml:"library"`
	Stream    StreamConfig    `yaml:"stream"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir is served at "/". When the directory does not exist the
	// built-in player page is served instead.
	StaticDir string `yaml:"static_dir"`

	// AllowedOrigins lists host patterns accepted for cross-origin WebSocket
	// upgrades. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LibraryConfig describes where tracks live.
type LibraryConfig struct {
	// Dir is the directory scanned for tracks. Subdirectories are ignored.
	Dir string `yaml:"dir"`

	// Extensions filters directory entries, case-insensitively. Defaults to
	// every extension the decoder supports.
	Extensions []string `yaml:"extensions"`

	// Watch enables filesystem notifications that reload the playlist when
	// files are added or removed.
	Watch bool `yaml:"watch"`

	// Debounce coalesces bursts of filesystem events into one reload.
	Debounce time.Duration `yaml:"debounce"`
}

// StreamConfig tunes chunking and delivery.
type StreamConfig struct {
	// ChunkDuration is the playback length of each chunk and the pacing
	// interval between chunks.
	ChunkDuration time.Duration `yaml:"chunk_duration"`

	// SendTimeout bounds a single delivery to one client. A client that does
	// not accept a chunk within this window is disconnected.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// AdvanceOnError moves on to the next track when one fails to decode.
	// When false, playback stalls until a listener navigates.
	AdvanceOnError bool `yaml:"advance_on_error"`

	// MaxClients caps concurrent listeners. 0 means unlimited.
	MaxClients int `yaml:"max_clients"`
}

// TelemetryConfig tunes the OpenTelemetry providers.
type TelemetryConfig struct {
	// ServiceName is reported as service.name on metrics and spans.
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of new traces that are recorded, in
	// [0, 1]. Nil means 1.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`
}

// SampleRatio returns the configured trace sample ratio, or 1 when unset.
func (t TelemetryConfig) SampleRatio() float64 {
	if t.TraceSampleRatio == nil {
		return 1
	}
	return *t.TraceSampleRatio
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = DefaultStaticDir
	}
	if cfg.Library.Dir == "" {
		cfg.Library.Dir = DefaultLibraryDir
	}
	if len(cfg.Library.Extensions) == 0 {
		cfg.Library.Extensions = append([]string(nil), audio.SupportedExtensions...)
	}
	if cfg.Library.Debounce == 0 {
		cfg.Library.Debounce = DefaultDebounce
	}
	if cfg.Stream.ChunkDuration == 0 {
		cfg.Stream.ChunkDuration = DefaultChunkDuration
	}
	if cfg.Stream.SendTimeout == 0 {
		cfg.Stream.SendTimeout = DefaultSendTimeout
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.TraceSampleRatio == nil {
		ratio := 1.0
		cfg.Telemetry.TraceSampleRatio = &ratio
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
