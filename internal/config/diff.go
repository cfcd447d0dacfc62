package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Voices, the log level and the mute flag are applied live; any other change
// is listed in RestartRequired.
type ConfigDiff struct {
	VoicesChanged   bool        // true if any voice was added, removed or modified
	VoiceChanges    []VoiceDiff // per-speaker diffs, sorted by key
	LogLevelChanged bool
	NewLogLevel     LogLevel
	MutedChanged    bool
	NewMuted        bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// VoiceDiff describes what changed for a single voice entry.
type VoiceDiff struct {
	Key     string
	Added   bool
	Removed bool
	Changed bool
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.VoicesChanged && !d.LogLevelChanged && !d.MutedChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Narration.Muted != new.Narration.Muted {
		d.MutedChanged = true
		d.NewMuted = new.Narration.Muted
	}

	keys := slices.Sorted(maps.Keys(old.Voices))
	for k := range new.Voices {
		if _, ok := old.Voices[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		ov, inOld := old.Voices[k]
		nv, inNew := new.Voices[k]
		var vd VoiceDiff
		switch {
		case !inOld:
			vd = VoiceDiff{Key: k, Added: true}
		case !inNew:
			vd = VoiceDiff{Key: k, Removed: true}
		case !reflect.DeepEqual(ov, nv):
			vd = VoiceDiff{Key: k, Changed: true}
		default:
			continue
		}
		d.VoiceChanges = append(d.VoiceChanges, vd)
		d.VoicesChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldNarration, newNarration := old.Narration, new.Narration
	oldNarration.Muted, newNarration.Muted = false, false

	for _, section := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"trial", old.Trial, new.Trial},
		{"narration", oldNarration, newNarration},
		{"audio", old.Audio, new.Audio},
		{"dictation", old.Dictation, new.Dictation},
		{"transcript", old.Transcript, new.Transcript},
		{"telemetry", old.Telemetry, new.Telemetry},
	} {
		if !reflect.DeepEqual(section.old, section.new) {
			d.RestartRequired = append(d.RestartRequired, section.name)
		}
	}
	return d
}
