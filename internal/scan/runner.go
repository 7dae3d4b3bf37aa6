package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/jarm-bridge/internal/integrity"
	"github.com/mattjoyce/jarm-bridge/internal/lock"
	"github.com/mattjoyce/jarm-bridge/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr kept from one tool run.
	maxStderrBytes = 64 * 1024

	// maxStdoutBytes caps the raw stdout kept from one tool run. Outcome
	// lines past the cap are still kept, see outputBuffer.
	maxStdoutBytes = 1024 * 1024

	// maxLineBytes caps a single stdout line considered for outcome fields.
	maxLineBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

var (
	// ErrTargetRejected is returned when the target fails the configured pattern.
	ErrTargetRejected = errors.New("target rejected")

	// ErrChecksumMismatch is returned when the pinned tool file has changed.
	ErrChecksumMismatch = errors.New("scan tool checksum mismatch")

	// ErrTimeout is returned when the tool outlives the configured timeout.
	ErrTimeout = errors.New("scan tool timed out")
)

// Result is the raw outcome of one tool invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Options configures how the scan tool is located and launched.
type Options struct {
	// Command is the executable, e.g. an interpreter such as python3.
	Command string
	// Args are placed before the target, e.g. the script path.
	Args []string
	// Dir is the working directory; empty inherits the host's.
	Dir string
	// Timeout bounds one run; zero means no bound.
	Timeout time.Duration
	// TargetPattern, when set, must match the whole target.
	TargetPattern string
	// Checksum is the expected BLAKE3 hex digest of ChecksumPath.
	Checksum string
	// ChecksumPath is the file pinned by Checksum; empty selects ToolPath().
	ChecksumPath string
	// LockFile, when set, serialises runs across host processes.
	LockFile string
}

// ExecRunner launches the scan tool as a subprocess per target.
type ExecRunner struct {
	opts    Options
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// NewExecRunner validates opts and returns a runner.
func NewExecRunner(opts Options) (*ExecRunner, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("scan tool command is empty")
	}

	r := &ExecRunner{opts: opts, logger: log.WithComponent("scan")}
	if opts.TargetPattern != "" {
		re, err := regexp.Compile(`^(?:` + opts.TargetPattern + `)$`)
		if err != nil {
			return nil, fmt.Errorf("compile target pattern: %w", err)
		}
		r.pattern = re
	}
	return r, nil
}

// ToolPath returns the file that identifies the tool: the first argument
// (normally the script) resolved against Dir, or the command itself.
func ToolPath(opts Options) (string, error) {
	if opts.ChecksumPath != "" {
		return resolve(opts.Dir, opts.ChecksumPath), nil
	}
	if len(opts.Args) > 0 {
		return resolve(opts.Dir, opts.Args[0]), nil
	}
	p, err := exec.LookPath(opts.Command)
	if err != nil {
		return "", fmt.Errorf("locate %q: %w", opts.Command, err)
	}
	return p, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}

// Run invokes the tool with target as its last argument and waits for it to
// exit. A non-zero exit status is reported in Result, not as an error; errors
// mean the tool could not be run to completion.
func (r *ExecRunner) Run(ctx context.Context, target string) (Result, error) {
	if r.pattern != nil && !r.pattern.MatchString(target) {
		return Result{}, fmt.Errorf("%w: %q does not match %s", ErrTargetRejected, target, r.opts.TargetPattern)
	}

	if r.opts.Checksum != "" {
		if err := r.verifyChecksum(); err != nil {
			return Result{}, err
		}
	}

	if r.opts.LockFile != "" {
		l, err := lock.Acquire(r.opts.LockFile)
		if err != nil {
			return Result{}, fmt.Errorf("acquire scan lock: %w", err)
		}
		defer func() {
			if err := l.Release(); err != nil {
				r.logger.Warn("failed to release scan lock", "error", err)
			}
		}()
	}

	return r.spawn(ctx, target)
}

func (r *ExecRunner) verifyChecksum() error {
	path, err := ToolPath(r.opts)
	if err != nil {
		return err
	}
	if err := integrity.VerifyFileHash(path, r.opts.Checksum); err != nil {
		if errors.Is(err, integrity.ErrHashMismatch) {
			return fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
		}
		return err
	}
	return nil
}

// spawn runs the subprocess, enforcing the timeout with SIGTERM followed by
// SIGKILL after a grace period. Context cancellation is handled the same way.
func (r *ExecRunner) spawn(ctx context.Context, target string) (Result, error) {
	args := append(append([]string{}, r.opts.Args...), target)

	// Don't use CommandContext - termination is managed below.
	cmd := exec.Command(r.opts.Command, args...)
	cmd.Dir = r.opts.Dir
	cmd.WaitDelay = terminationGracePeriod

	stdout := newOutputBuffer(maxStdoutBytes)
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Debug("spawning scan tool", "command", r.opts.Command, "args", args, "dir", r.opts.Dir)

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start scan tool: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if r.opts.Timeout > 0 {
		timer := time.NewTimer(r.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-waitErr:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if stdout.Truncated() {
			r.logger.Debug("scan tool stdout truncated", "limit", maxStdoutBytes)
		}
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			r.logger.Debug("scan tool exited with non-zero status", "exit_code", res.ExitCode)
		case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
			// The tool exited but a child it left behind still holds the pipes.
			res.ExitCode = cmd.ProcessState.ExitCode()
			r.logger.Warn("scan tool exited with its output still held open by a child process",
				"exit_code", res.ExitCode)
		default:
			return res, fmt.Errorf("wait for scan tool: %w", err)
		}
		return res, nil

	case <-timeout:
		r.logger.Warn("scan tool timed out, sending SIGTERM", "timeout", r.opts.Timeout)
		r.terminate(cmd, waitErr)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()},
			fmt.Errorf("%w after %v", ErrTimeout, r.opts.Timeout)

	case <-ctx.Done():
		r.logger.Warn("scan cancelled, sending SIGTERM")
		r.terminate(cmd, waitErr)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	}
}

func (r *ExecRunner) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Debug("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		r.logger.Info("scan tool exited after SIGTERM")
	case <-grace.C:
		r.logger.Warn("scan tool did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			r.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// cappedBuffer keeps the first limit bytes written and silently drops the
// rest, so a chatty tool never blocks on a full pipe.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if len(p) > room {
		b.dropped = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
	} else {
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

// outputBuffer captures stdout. It keeps the first limit bytes verbatim and,
// once that cap is hit, the last line seen for each outcome field, so that
// ParseOutput on String() agrees with ParseOutput on the full output.
type outputBuffer struct {
	head cappedBuffer
	// line is the current line, cut at maxLineBytes.
	line []byte
	tail map[int]string
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{head: cappedBuffer{limit: limit}, tail: make(map[int]string)}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	n := len(p)
	_, _ = b.head.Write(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			b.appendLine(p)
			break
		}
		b.appendLine(p[:i])
		b.endLine()
		p = p[i+1:]
	}
	return n, nil
}

func (b *outputBuffer) appendLine(p []byte) {
	if room := maxLineBytes - len(b.line); room < len(p) {
		p = p[:max(room, 0)]
	}
	b.line = append(b.line, p...)
}

func (b *outputBuffer) endLine() {
	if b.head.dropped {
		line := strings.TrimSpace(string(b.line))
		if i := fieldIndex(line); i >= 0 {
			b.tail[i] = line
		}
	}
	b.line = b.line[:0]
}

// Truncated reports whether any stdout beyond the cap was dropped.
func (b *outputBuffer) Truncated() bool { return b.head.dropped }

// String returns the kept stdout. A final line without a newline counts.
func (b *outputBuffer) String() string {
	if len(b.line) > 0 {
		b.endLine()
	}
	if len(b.tail) == 0 {
		return b.head.String()
	}
	var sb strings.Builder
	sb.WriteString(b.head.String())
	for i := range outcomeFields {
		if line, ok := b.tail[i]; ok {
			sb.WriteString("\n")
			sb.WriteString(line)
		}
	}
	return sb.String()
}
