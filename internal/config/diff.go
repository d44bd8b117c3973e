package config

import (
	"reflect"

	"github.com/MrWong99/elocute/internal/assessment"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are applied by the running server; the others only
// take effect after a restart and are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AssessmentChanged is true if any assessment setting changed.
	AssessmentChanged bool

	// AssessmentFields names the changed assessment settings by YAML key.
	AssessmentFields []string

	// RestartRequired names the changed top-level sections that cannot be
	// applied without a restart.
	RestartRequired []string
}

// Empty reports whether nothing effective changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AssessmentChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.AssessmentFields = diffAssessment(old.Assessment.Settings(), new.Assessment.Settings())
	d.AssessmentChanged = len(d.AssessmentFields) > 0

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.References != new.References {
		d.RestartRequired = append(d.RestartRequired, "references")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// diffAssessment compares the effective settings, so that spelling out a
// default value does not count as a change.
func diffAssessment(old, new assessment.Settings) []string {
	var fields []string
	if old.Timeout != new.Timeout {
		fields = append(fields, "timeout")
	}
	if old.Reconcile != new.Reconcile {
		fields = append(fields, "reconcile")
	}
	if old.SubstitutionAware != new.SubstitutionAware {
		fields = append(fields, "substitution_aware")
	}
	if old.Miscue != new.Miscue {
		fields = append(fields, "miscue")
	}
	if old.ChunkDuration != new.ChunkDuration {
		fields = append(fields, "chunk_duration")
	}
	if old.Pacing != new.Pacing {
		fields = append(fields, "pacing")
	}
	if !reflect.DeepEqual(old.ProsodyLocales, new.ProsodyLocales) {
		fields = append(fields, "prosody_locales")
	}
	if old.DefaultLanguage != new.DefaultLanguage {
		fields = append(fields, "default_language")
	}
	if old.Weights != new.Weights {
		fields = append(fields, "weights")
	}
	return fields
}
