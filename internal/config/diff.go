package config

// ConfigDiff describes what changed between two configs.
// Only settings that can be safely hot-reloaded are tracked; structural
// changes (backends, storage roots) are reported so callers can log that
// a restart is needed.
type ConfigDiff struct {
	ThresholdsChanged bool
	NewThresholds     ArbiterConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BackendsChanged is true when the backend list differs. Backend
	// changes are not hot-reloadable.
	BackendsChanged bool
	BackendsAdded   []string
	BackendsRemoved []string
}

// HotReloadable reports whether d contains at least one change that can be
// applied without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.ThresholdsChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	if old.Arbiter.ReviewThreshold != new.Arbiter.ReviewThreshold ||
		old.Arbiter.EscalationThreshold != new.Arbiter.EscalationThreshold {
		d.ThresholdsChanged = true
		d.NewThresholds = new.Arbiter
	}

	oldNames := make(map[string]bool, len(old.Backends))
	for _, b := range old.Backends {
		oldNames[b.Name] = true
	}
	newNames := make(map[string]bool, len(new.Backends))
	for _, b := range new.Backends {
		newNames[b.Name] = true
	}
	for _, b := range old.Backends {
		if !newNames[b.Name] {
			d.BackendsRemoved = append(d.BackendsRemoved, b.Name)
			d.BackendsChanged = true
		}
	}
	for _, b := range new.Backends {
		if !oldNames[b.Name] {
			d.BackendsAdded = append(d.BackendsAdded, b.Name)
			d.BackendsChanged = true
		}
	}

	return d
}
