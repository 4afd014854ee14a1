package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/wavecast/pkg/audio"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if (tls.CertFile == "") != (tls.KeyFile == "") {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Library
	if cfg.Library.Dir == "" {
		errs = append(errs, errors.New("library.dir is required"))
	}
	for i, ext := range cfg.Library.Extensions {
		if strings.TrimPrefix(ext, ".") == "" {
			errs = append(errs, fmt.Errorf("library.extensions[%d] is empty", i))
			continue
		}
		norm := strings.ToLower(ext)
		if !strings.HasPrefix(norm, ".") {
			norm = "." + norm
		}
		if !slices.Contains(audio.SupportedExtensions, norm) {
			slog.Warn("library extension has no decoder; matching files will fail to play",
				"extension", ext,
				"supported", audio.SupportedExtensions,
			)
		}
	}
	if cfg.Library.Debounce < 0 {
		errs = append(errs, fmt.Errorf("library.debounce %s must not be negative", cfg.Library.Debounce))
	}

	// Stream
	if cfg.Stream.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("stream.chunk_duration %s must be positive", cfg.Stream.ChunkDuration))
	}
	if cfg.Stream.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream.send_timeout %s must be positive", cfg.Stream.SendTimeout))
	}
	if cfg.Stream.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("stream.max_clients %d must not be negative", cfg.Stream.MaxClients))
	}
	if cfg.Stream.ChunkDuration > 0 && cfg.Stream.SendTimeout > cfg.Stream.ChunkDuration {
		slog.Warn("stream.send_timeout exceeds chunk_duration; a slow client can delay the next chunk",
			"send_timeout", cfg.Stream.SendTimeout,
			"chunk_duration", cfg.Stream.ChunkDuration,
		)
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio(); r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}
