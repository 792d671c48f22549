package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the voice
// settings and the log level can be applied to a running process; every
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged    bool
	VoiceSpeedChanged  bool
	VoiceOutputChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LanguageChanged || d.VoiceSpeedChanged ||
		d.VoiceOutputChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.LanguageChanged = old.Voice.Language != new.Voice.Language
	d.VoiceSpeedChanged = old.Voice.VoiceSpeed != new.Voice.VoiceSpeed
	d.VoiceOutputChanged = boolOr(old.Voice.VoiceOutput, true) != boolOr(new.Voice.VoiceOutput, true)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldVoice, newVoice := old.Voice, new.Voice
	oldVoice.Language, newVoice.Language = "", ""
	oldVoice.VoiceSpeed, newVoice.VoiceSpeed = 0, 0
	oldVoice.VoiceOutput, newVoice.VoiceOutput = nil, nil

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"voice", oldVoice, newVoice},
		{"providers", old.Providers, new.Providers},
		{"nlu", old.NLU, new.NLU},
		{"context_store", old.ContextStore, new.ContextStore},
		{"conversation", old.Conversation, new.Conversation},
		{"shop", old.Shop, new.Shop},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
