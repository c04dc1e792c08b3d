package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; every other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that differ, in schema
	// order (e.g. "providers", "agent").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"agent", old.Agent, new.Agent},
		{"memory", old.Memory, new.Memory},
		{"mcp", old.MCP, new.MCP},
		{"voice", old.Voice, new.Voice},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
