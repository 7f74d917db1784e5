package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	TargetsChanged  bool         // true if any target was added, removed, or modified
	TargetChanges   []TargetDiff // per-target diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// TargetDiff describes what changed for a single target between two configs.
type TargetDiff struct {
	ID       string
	Added    bool
	Removed  bool
	Modified bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldTargets := make(map[string]TargetConfig, len(old.Targets))
	for _, t := range old.Targets {
		oldTargets[t.ID] = t
	}
	newTargets := make(map[string]TargetConfig, len(new.Targets))
	for _, t := range new.Targets {
		newTargets[t.ID] = t
	}

	// Walk in config order so the result is deterministic.
	for _, t := range old.Targets {
		nt, exists := newTargets[t.ID]
		switch {
		case !exists:
			d.TargetChanges = append(d.TargetChanges, TargetDiff{ID: t.ID, Removed: true})
		case nt != t:
			d.TargetChanges = append(d.TargetChanges, TargetDiff{ID: t.ID, Modified: true})
		}
	}
	for _, t := range new.Targets {
		if _, exists := oldTargets[t.ID]; !exists {
			d.TargetChanges = append(d.TargetChanges, TargetDiff{ID: t.ID, Added: true})
		}
	}
	d.TargetsChanged = len(d.TargetChanges) > 0

	return d
}
