package config_test

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/wavecast/internal/config"
	"github.com/MrWong99/wavecast/pkg/audio"
)

const fullYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
  static_dir: public
  allowed_origins: ["example.com"]
  tls:
    cert_file: cert.pem
    key_file: key.pem
library:
  dir: /srv/music
  extensions: [".wav"]
  watch: true
  debounce: 250ms
stream:
  chunk_duration: 1500ms
  send_timeout: 1s
  advance_on_error: true
  max_clients: 64
telemetry:
  service_name: radio-east
  trace_sample_ratio: 0
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9000")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.StaticDir != "public" {
		t.Errorf("static_dir: got %q, want %q", cfg.Server.StaticDir, "public")
	}
	if !slices.Equal(cfg.Server.AllowedOrigins, []string{"example.com"}) {
		t.Errorf("allowed_origins: got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.TLS == nil || cfg.Server.TLS.CertFile != "cert.pem" || cfg.Server.TLS.KeyFile != "key.pem" {
		t.Errorf("tls: got %+v", cfg.Server.TLS)
	}
	if cfg.Library.Dir != "/srv/music" || !cfg.Library.Watch {
		t.Errorf("library: got %+v", cfg.Library)
	}
	if cfg.Library.Debounce != 250*time.Millisecond {
		t.Errorf("debounce: got %v, want 250ms", cfg.Library.Debounce)
	}
	if !slices.Equal(cfg.Library.Extensions, []string{".wav"}) {
		t.Errorf("extensions: got %v", cfg.Library.Extensions)
	}
	if cfg.Stream.ChunkDuration != 1500*time.Millisecond {
		t.Errorf("chunk_duration: got %v, want 1.5s", cfg.Stream.ChunkDuration)
	}
	if cfg.Stream.SendTimeout != time.Second {
		t.Errorf("send_timeout: got %v, want 1s", cfg.Stream.SendTimeout)
	}
	if !cfg.Stream.AdvanceOnError {
		t.Error("advance_on_error: got false, want true")
	}
	if cfg.Stream.MaxClients != 64 {
		t.Errorf("max_clients: got %d, want 64", cfg.Stream.MaxClients)
	}
	if cfg.Telemetry.ServiceName != "radio-east" {
		t.Errorf("service_name: got %q, want %q", cfg.Telemetry.ServiceName, "radio-east")
	}
	// An explicit 0 disables sampling instead of selecting the default.
	if got := cfg.Telemetry.SampleRatio(); got != 0 {
		t.Errorf("trace_sample_ratio: got %v, want 0", got)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "server: {}\n"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
		}
		if cfg.Server.LogLevel != config.LogInfo {
			t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
		}
		if cfg.Library.Dir != config.DefaultLibraryDir {
			t.Errorf("library.dir: got %q, want %q", cfg.Library.Dir, config.DefaultLibraryDir)
		}
		if !slices.Equal(cfg.Library.Extensions, audio.SupportedExtensions) {
			t.Errorf("extensions: got %v, want %v", cfg.Library.Extensions, audio.SupportedExtensions)
		}
		if cfg.Stream.ChunkDuration != config.DefaultChunkDuration {
			t.Errorf("chunk_duration: got %v, want %v", cfg.Stream.ChunkDuration, config.DefaultChunkDuration)
		}
		if cfg.Stream.SendTimeout != config.DefaultSendTimeout {
			t.Errorf("send_timeout: got %v, want %v", cfg.Stream.SendTimeout, config.DefaultSendTimeout)
		}
		if cfg.Stream.AdvanceOnError {
			t.Error("advance_on_error should default to false")
		}
		if cfg.Stream.MaxClients != 0 {
			t.Errorf("max_clients: got %d, want 0", cfg.Stream.MaxClients)
		}
		if cfg.Telemetry.ServiceName != config.DefaultServiceName {
			t.Errorf("service_name: got %q, want %q", cfg.Telemetry.ServiceName, config.DefaultServiceName)
		}
		if got := cfg.Telemetry.SampleRatio(); got != 1 {
			t.Errorf("trace_sample_ratio: got %v, want 1", got)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("stream:\n  buffer_size: 4\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "buffer_size") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"tls half configured", "server:\n  tls:\n    cert_file: c.pem\n", "cert_file and key_file"},
		{"negative chunk duration", "stream:\n  chunk_duration: -1s\n", "stream.chunk_duration"},
		{"negative send timeout", "stream:\n  send_timeout: -1s\n", "stream.send_timeout"},
		{"negative max clients", "stream:\n  max_clients: -3\n", "stream.max_clients"},
		{"sample ratio above one", "telemetry:\n  trace_sample_ratio: 1.5\n", "telemetry.trace_sample_ratio"},
		{"negative sample ratio", "telemetry:\n  trace_sample_ratio: -0.5\n", "telemetry.trace_sample_ratio"},
		{"negative debounce", "library:\n  debounce: -1s\n", "library.debounce"},
		{"empty extension", "library:\n  extensions: [\".\"]\n", "library.extensions[0]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Stream.MaxClients = -1
	cfg.Library.Dir = ""

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "stream.max_clients", "library.dir"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, fullYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.MaxClients != 64 {
		t.Errorf("max_clients: got %d, want 64", cfg.Stream.MaxClients)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file, got nil")
	} else if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tc := range tests {
		if got := tc.in.Slog().String(); got != tc.want {
			t.Errorf("LogLevel(%q).Slog(): got %s, want %s", tc.in, got, tc.want)
		}
	}
}
