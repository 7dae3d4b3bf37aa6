// Command jarm-bridge is a native messaging host that lets a browser
// extension run the JARM scan tool and read back structured results.
//
// The browser starts the host with its own arguments (an extension origin,
// a parent window handle, or a manifest path), so anything that is not a
// known command below starts the host loop on stdin/stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/jarm-bridge/internal/bridge"
	"github.com/mattjoyce/jarm-bridge/internal/config"
	"github.com/mattjoyce/jarm-bridge/internal/doctor"
	"github.com/mattjoyce/jarm-bridge/internal/framing"
	"github.com/mattjoyce/jarm-bridge/internal/integrity"
	"github.com/mattjoyce/jarm-bridge/internal/log"
	"github.com/mattjoyce/jarm-bridge/internal/scan"
)

const version = "0.1.0"

// shutdownGrace is how long a signalled host waits for an in-flight scan to
// be terminated and answered before exiting anyway.
const shutdownGrace = 7 * time.Second

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		os.Exit(runServe())
	}

	switch args[0] {
	case "check":
		os.Exit(runCheck(args[1:]))
	case "hash":
		os.Exit(runHash(args[1:]))
	case "version":
		fmt.Printf("jarm-bridge version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		os.Exit(runServe())
	}
}

func printUsage() {
	fmt.Print(`jarm-bridge - native messaging host for JARM scans

Usage:
  jarm-bridge                 Serve native messaging on stdin/stdout
  jarm-bridge check [flags]   Validate configuration and scan tool setup
  jarm-bridge hash [file...]  Print BLAKE3 digests for tool.checksum
  jarm-bridge version         Show version information
  jarm-bridge help            Show this help message

Configuration is read from $JARM_BRIDGE_CONFIG or jarm-bridge.yaml next to
the executable; JARM_BRIDGE_* environment variables override it.
`)
}

// executableDir returns the directory holding the running binary, which is
// where browsers expect a host's companion files to live.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault(executableDir())
}

func runServe() int {
	cfg, err := loadConfig("")
	if err != nil {
		// stdout belongs to the browser; stderr ends up in its log.
		fmt.Fprintf(os.Stderr, "jarm-bridge: %v\n", err)
		return 1
	}

	log.Configure(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer func() { _ = log.Close() }()

	logger := log.WithComponent("main")
	logger.Info("jarm-bridge starting", "version", version, "config", cfg.SourceFile, "args", os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, os.Stdin, os.Stdout) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
		select {
		case runErr = <-done:
		case <-time.After(shutdownGrace):
			// The loop is blocked reading stdin and cannot be interrupted.
			runErr = ctx.Err()
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("jarm-bridge stopped", "error", runErr)
		return 1
	}
	logger.Info("jarm-bridge stopped")
	return 0
}

// serve wires the framing channel and the scan runner and runs the loop
// until end of stream.
func serve(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	runner, err := scan.NewExecRunner(toolOptions(cfg))
	if err != nil {
		return fmt.Errorf("configure scan tool: %w", err)
	}

	ch := framing.New(in, out, framing.Options{
		MaxInbound:  cfg.Framing.MaxInboundBytes,
		MaxOutbound: cfg.Framing.MaxOutboundBytes,
	})

	return bridge.New(ch, runner).Run(ctx)
}

func toolOptions(cfg *config.Config) scan.Options {
	return scan.Options{
		Command:       cfg.Tool.Command,
		Args:          cfg.Tool.Args,
		Dir:           cfg.Tool.Dir,
		Timeout:       cfg.Tool.Timeout,
		TargetPattern: cfg.Tool.TargetPattern,
		Checksum:      cfg.Tool.Checksum,
		ChecksumPath:  cfg.Tool.ChecksumPath,
		LockFile:      cfg.Tool.LockFile,
	}
}

func runCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runHash(args []string) int {
	var configPath string

	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	paths := fs.Args()
	if len(paths) == 0 {
		cfg, err := loadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
			return 1
		}
		p, err := scan.ToolPath(toolOptions(cfg))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to locate scan tool: %v\n", err)
			return 1
		}
		paths = []string{p}
	}

	hashes, err := integrity.HashFiles(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hash error: %v\n", err)
		return 1
	}

	code := 0
	for _, h := range hashes {
		if !h.Exists {
			fmt.Fprintf(os.Stderr, "SKIP %s: not found\n", h.Path)
			code = 1
			continue
		}
		fmt.Printf("%s  %s\n", h.Hash, h.Path)
	}
	return code
}
