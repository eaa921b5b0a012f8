package config

import "slices"

// ConfigDiff describes the hot-reloadable differences between two configs.
// Everything else requires a restart.
type ConfigDiff struct {
	// PersonaChanged is set when the instructions changed. The new persona
	// applies to the next voice session.
	PersonaChanged bool

	// VoiceChanged is set when the voice name changed.
	VoiceChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LLMChanged is set when the content provider chain changed.
	LLMChanged bool
}

// Any reports whether anything reloadable changed.
func (d ConfigDiff) Any() bool {
	return d.PersonaChanged || d.VoiceChanged || d.LogLevelChanged || d.LLMChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{
		PersonaChanged: old.Persona.Instructions != new.Persona.Instructions,
		VoiceChanged:   old.Persona.Voice != new.Persona.Voice,
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.LLMChanged = !slices.EqualFunc(old.Providers.LLM, new.Providers.LLM, sameEntry)
	return d
}

func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if b.Options[k] != v {
			return false
		}
	}
	return true
}
