package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EnrollmentChanged is set when any dialogue setting changed. New
	// sessions pick up the new machine; running attempts keep their state.
	EnrollmentChanged bool

	// VoiceChanged is set when the prompt voice changed.
	VoiceChanged bool

	// RestartRequired lists top-level sections that changed but cannot be
	// applied at runtime.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.EnrollmentChanged = !enrollmentEqual(old.Enrollment, new.Enrollment)
	d.VoiceChanged = old.Voice != new.Voice

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func enrollmentEqual(a, b EnrollmentConfig) bool {
	return a.Locale == b.Locale &&
		a.ConfirmPolicy == b.ConfirmPolicy &&
		a.MaxAttempts() == b.MaxAttempts() &&
		a.ChunkCardNumbers() == b.ChunkCardNumbers() &&
		slices.Equal(a.AffirmTokens, b.AffirmTokens) &&
		slices.Equal(a.DenyTokens, b.DenyTokens) &&
		slices.Equal(a.StartTokens, b.StartTokens)
}
