package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SendTimeoutChanged bool
	NewSendTimeout     time.Duration

	AdvanceOnErrorChanged bool
	NewAdvanceOnError     bool

	// RestartRequired lists settings that changed but only take effect after
	// a restart (e.g. "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SendTimeoutChanged || d.AdvanceOnErrorChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Stream.SendTimeout != new.Stream.SendTimeout {
		d.SendTimeoutChanged = true
		d.NewSendTimeout = new.Stream.SendTimeout
	}
	if old.Stream.AdvanceOnError != new.Stream.AdvanceOnError {
		d.AdvanceOnErrorChanged = true
		d.NewAdvanceOnError = new.Stream.AdvanceOnError
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.static_dir", old.Server.StaticDir != new.Server.StaticDir)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("library.dir", old.Library.Dir != new.Library.Dir)
	restart("library.extensions", !slices.Equal(old.Library.Extensions, new.Library.Extensions))
	restart("library.watch", old.Library.Watch != new.Library.Watch)
	restart("library.debounce", old.Library.Debounce != new.Library.Debounce)
	restart("stream.chunk_duration", old.Stream.ChunkDuration != new.Stream.ChunkDuration)
	restart("stream.max_clients", old.Stream.MaxClients != new.Stream.MaxClients)
	restart("telemetry.service_name", old.Telemetry.ServiceName != new.Telemetry.ServiceName)
	restart("telemetry.trace_sample_ratio", old.Telemetry.SampleRatio() != new.Telemetry.SampleRatio())

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
