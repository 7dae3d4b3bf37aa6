// Package doctor checks that a jarm-bridge install can actually run scans.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mattjoyce/jarm-bridge/internal/config"
	"github.com/mattjoyce/jarm-bridge/internal/integrity"
	"github.com/mattjoyce/jarm-bridge/internal/lock"
	"github.com/mattjoyce/jarm-bridge/internal/scan"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the local machine.
type Doctor struct {
	cfg  *config.Config
	goos string
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, goos: runtime.GOOS}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateCommand(r)
	d.validateDir(r)
	d.validateScript(r)
	d.validateChecksum(r)
	d.validateLockFile(r)
	d.validateLogFile(r)
	d.warnUnbounded(r)
	d.warnDefaults(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig re-runs static validation so a hand-built Config is covered too.
func (d *Doctor) validateConfig(r *Result) {
	if err := config.Validate(d.cfg); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			d.addError(r, "config", "", line)
		}
	}
}

// validateCommand checks the interpreter or executable can be found.
func (d *Doctor) validateCommand(r *Result) {
	if d.cfg.Tool.Command == "" {
		return
	}
	if _, err := exec.LookPath(d.cfg.Tool.Command); err != nil {
		d.addError(r, "tool", "tool.command",
			fmt.Sprintf("scan tool command %q not found: %v", d.cfg.Tool.Command, err))
	}
}

func (d *Doctor) validateDir(r *Result) {
	if d.cfg.Tool.Dir == "" {
		return
	}
	info, err := os.Stat(d.cfg.Tool.Dir)
	switch {
	case err != nil:
		d.addError(r, "tool", "tool.dir", fmt.Sprintf("working directory unavailable: %v", err))
	case !info.IsDir():
		d.addError(r, "tool", "tool.dir", fmt.Sprintf("%s is not a directory", d.cfg.Tool.Dir))
	}
}

// validateScript checks the first argument exists when it names a file.
func (d *Doctor) validateScript(r *Result) {
	if len(d.cfg.Tool.Args) == 0 || strings.HasPrefix(d.cfg.Tool.Args[0], "-") {
		return
	}
	path, err := scan.ToolPath(d.toolOptions())
	if err != nil {
		return
	}
	if _, err := os.Stat(path); err != nil {
		d.addError(r, "tool", "tool.args[0]", fmt.Sprintf("scan tool script not found: %s", path))
	}
}

func (d *Doctor) validateChecksum(r *Result) {
	if d.cfg.Tool.Checksum == "" {
		d.addWarning(r, "integrity", "tool.checksum",
			"scan tool is not pinned; run 'jarm-bridge hash' and set tool.checksum")
		return
	}

	path, err := scan.ToolPath(d.toolOptions())
	if err != nil {
		d.addError(r, "integrity", "tool.checksum_path", err.Error())
		return
	}
	if err := integrity.VerifyFileHash(path, d.cfg.Tool.Checksum); err != nil {
		if errors.Is(err, integrity.ErrHashMismatch) {
			d.addError(r, "integrity", "tool.checksum",
				fmt.Sprintf("%v; if the tool was updated intentionally, run 'jarm-bridge hash' again", err))
			return
		}
		d.addError(r, "integrity", "tool.checksum", err.Error())
	}
}

func (d *Doctor) validateLockFile(r *Result) {
	if d.cfg.Tool.LockFile == "" {
		return
	}
	if d.goos == "windows" {
		d.addError(r, "tool", "tool.lock_file", "scan lock files are not supported on windows")
		return
	}
	if _, err := os.Stat(filepath.Dir(d.cfg.Tool.LockFile)); err != nil {
		d.addWarning(r, "tool", "tool.lock_file",
			fmt.Sprintf("lock directory %s does not exist yet; it will be created", filepath.Dir(d.cfg.Tool.LockFile)))
		return
	}
	if _, err := os.Stat(d.cfg.Tool.LockFile); err != nil {
		return
	}

	l, err := lock.TryAcquire(d.cfg.Tool.LockFile)
	switch {
	case errors.Is(err, lock.ErrHeld):
		d.addWarning(r, "tool", "tool.lock_file",
			fmt.Sprintf("scan lock %s is held by another host; a scan is in progress", d.cfg.Tool.LockFile))
	case err != nil:
		d.addError(r, "tool", "tool.lock_file", fmt.Sprintf("scan lock unusable: %v", err))
	default:
		_ = l.Release()
	}
}

func (d *Doctor) validateLogFile(r *Result) {
	if d.cfg.Log.File == "" {
		return
	}
	dir := filepath.Dir(d.cfg.Log.File)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		d.addWarning(r, "log", "log.file", fmt.Sprintf("log directory %s does not exist yet", dir))
	}
}

// warnUnbounded flags settings that leave the bridge open to hangs or to
// passing arbitrary strings to the tool.
func (d *Doctor) warnUnbounded(r *Result) {
	if d.cfg.Tool.Timeout == 0 {
		d.addWarning(r, "tool", "tool.timeout",
			"scan runs are unbounded; a hung tool blocks the bridge until the browser disconnects")
	}
	if d.cfg.Tool.TargetPattern == "" {
		d.addWarning(r, "tool", "tool.target_pattern",
			"targets are passed to the tool without validation")
	}
}

func (d *Doctor) warnDefaults(r *Result) {
	if d.cfg.SourceFile == "" {
		d.addWarning(r, "config", "",
			fmt.Sprintf("no %s found; using built-in defaults", config.DefaultFileName))
	}
}

func (d *Doctor) toolOptions() scan.Options {
	return scan.Options{
		Command:      d.cfg.Tool.Command,
		Args:         d.cfg.Tool.Args,
		Dir:          d.cfg.Tool.Dir,
		ChecksumPath: d.cfg.Tool.ChecksumPath,
	}
}

// FormatHuman returns the result as readable text.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
