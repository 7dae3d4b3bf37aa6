package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattjoyce/jarm-bridge/internal/framing"
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
)

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Tool.Command == "" {
		errs = append(errs, fmt.Errorf("tool.command is required"))
	}
	for _, field := range []struct{ name, value string }{
		{"tool.command", cfg.Tool.Command},
		{"tool.dir", cfg.Tool.Dir},
		{"tool.checksum", cfg.Tool.Checksum},
		{"tool.checksum_path", cfg.Tool.ChecksumPath},
		{"tool.lock_file", cfg.Tool.LockFile},
		{"log.file", cfg.Log.File},
	} {
		if m := envVarPattern.FindStringSubmatch(field.value); m != nil {
			errs = append(errs, fmt.Errorf("%s: environment variable ${%s} is not set", field.name, m[1]))
		}
	}
	for i, arg := range cfg.Tool.Args {
		if m := envVarPattern.FindStringSubmatch(arg); m != nil {
			errs = append(errs, fmt.Errorf("tool.args[%d]: environment variable ${%s} is not set", i, m[1]))
		}
	}

	if cfg.Tool.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tool.timeout must not be negative (got %s)", cfg.Tool.Timeout))
	}

	if cfg.Tool.TargetPattern != "" {
		if _, err := regexp.Compile(cfg.Tool.TargetPattern); err != nil {
			errs = append(errs, fmt.Errorf("tool.target_pattern: %w", err))
		}
	}

	if sum := strings.TrimSpace(cfg.Tool.Checksum); sum != "" {
		if b, err := hex.DecodeString(sum); err != nil || len(b) != 32 {
			errs = append(errs, fmt.Errorf("tool.checksum must be a 64-character BLAKE3 hex digest"))
		}
	}

	if cfg.Framing.MaxOutboundBytes > framing.DefaultMaxOutbound {
		errs = append(errs, fmt.Errorf("framing.max_outbound_bytes must not exceed %d (got %d)",
			framing.DefaultMaxOutbound, cfg.Framing.MaxOutboundBytes))
	}

	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level))
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		errs = append(errs, fmt.Errorf("log.format must be one of: json, text (got %q)", cfg.Log.Format))
	}

	return errors.Join(errs...)
}
