package config

import (
	"runtime"

	"github.com/mattjoyce/jarm-bridge/internal/framing"
)

// DefaultScript is the scan tool script launched through the interpreter.
const DefaultScript = "threaded_jarm.py"

// DefaultInterpreter returns the Python launcher name for goos.
// Windows installs expose "python"; everything else ships "python3".
func DefaultInterpreter(goos string) string {
	if goos == "windows" {
		return "python"
	}
	return "python3"
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Tool: ToolConfig{
			Command: DefaultInterpreter(runtime.GOOS),
			Args:    []string{DefaultScript},
		},
		Framing: FramingConfig{
			MaxInboundBytes:  framing.DefaultMaxInbound,
			MaxOutboundBytes: framing.DefaultMaxOutbound,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
