package config

import "time"

// Config represents the complete jarm-bridge configuration.
//
// The YAML file is read first; JARM_BRIDGE_* environment variables named
// after the field path (e.g. JARM_BRIDGE_TOOL_TARGET_PATTERN) override it.
type Config struct {
	Tool    ToolConfig    `yaml:"tool"`
	Framing FramingConfig `yaml:"framing"`
	Log     LogConfig     `yaml:"log"`

	// SourceFile is the file the config was loaded from, empty for built-in defaults.
	SourceFile string `yaml:"-" ignored:"true"`
}

// ToolConfig describes how to launch the scan tool.
type ToolConfig struct {
	Command       string        `yaml:"command" split_words:"true"`
	Args          []string      `yaml:"args" split_words:"true"`
	Dir           string        `yaml:"dir" split_words:"true"`
	Timeout       time.Duration `yaml:"timeout" split_words:"true"`
	TargetPattern string        `yaml:"target_pattern" split_words:"true"`
	Checksum      string        `yaml:"checksum" split_words:"true"`
	ChecksumPath  string        `yaml:"checksum_path" split_words:"true"`
	LockFile      string        `yaml:"lock_file" split_words:"true"`
}

// FramingConfig bounds frame sizes in each direction.
type FramingConfig struct {
	MaxInboundBytes  uint32 `yaml:"max_inbound_bytes" split_words:"true"`
	MaxOutboundBytes uint32 `yaml:"max_outbound_bytes" split_words:"true"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level      string `yaml:"level" split_words:"true"`
	Format     string `yaml:"format" split_words:"true"`
	File       string `yaml:"file" split_words:"true"`
	MaxSizeMB  int    `yaml:"max_size_mb" split_words:"true"`
	MaxBackups int    `yaml:"max_backups" split_words:"true"`
	MaxAgeDays int    `yaml:"max_age_days" split_words:"true"`
}
