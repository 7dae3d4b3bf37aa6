package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, e.g. JARM_BRIDGE_TOOL_TIMEOUT.
	EnvPrefix = "JARM_BRIDGE"

	// EnvConfigPath names an explicit config file.
	EnvConfigPath = "JARM_BRIDGE_CONFIG"

	// DefaultFileName is looked up next to the executable.
	DefaultFileName = "jarm-bridge.yaml"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Discover returns the config file to use. $JARM_BRIDGE_CONFIG wins; otherwise
// DefaultFileName in baseDir is used if it exists. found is false when neither
// applies and built-in defaults should be used.
func Discover(baseDir string) (path string, found bool) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, true
	}
	p := filepath.Join(baseDir, DefaultFileName)
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	return "", false
}

// LoadDefault discovers and loads the configuration for a host installed in
// baseDir (normally the executable's directory). A missing config file is not
// an error.
func LoadDefault(baseDir string) (*Config, error) {
	path, found := Discover(baseDir)
	if !found {
		cfg := Defaults()
		return finish(cfg, baseDir)
	}
	return Load(path)
}

// Load reads and parses configuration from a file, applies environment
// overrides and validates the result. Relative paths inside the file are
// resolved against the file's directory.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or unset %s", absPath, EnvConfigPath)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg := Defaults()
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
	}
	cfg.SourceFile = absPath

	return finish(cfg, filepath.Dir(absPath))
}

// decode unmarshals YAML on top of cfg, so keys absent from the file keep
// their default values. Unknown keys are rejected.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func finish(cfg *Config, baseDir string) (*Config, error) {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyConfigDefaults(cfg, baseDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults fills zero values left by the file or environment and
// anchors relative paths at baseDir.
func applyConfigDefaults(cfg *Config, baseDir string) {
	def := Defaults()

	if cfg.Tool.Command == "" {
		cfg.Tool.Command = def.Tool.Command
	}
	if cfg.Framing.MaxInboundBytes == 0 {
		cfg.Framing.MaxInboundBytes = def.Framing.MaxInboundBytes
	}
	if cfg.Framing.MaxOutboundBytes == 0 {
		cfg.Framing.MaxOutboundBytes = def.Framing.MaxOutboundBytes
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	switch {
	case cfg.Tool.Dir == "":
		cfg.Tool.Dir = baseDir
	case !filepath.IsAbs(cfg.Tool.Dir) && baseDir != "":
		cfg.Tool.Dir = filepath.Join(baseDir, cfg.Tool.Dir)
	}
	if cfg.Log.File != "" && !filepath.IsAbs(cfg.Log.File) && baseDir != "" {
		cfg.Log.File = filepath.Join(baseDir, cfg.Log.File)
	}
	if cfg.Tool.LockFile != "" && !filepath.IsAbs(cfg.Tool.LockFile) && baseDir != "" {
		cfg.Tool.LockFile = filepath.Join(baseDir, cfg.Tool.LockFile)
	}
}

// interpolateEnv replaces ${VAR} with the variable's value. Unset variables
// are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
