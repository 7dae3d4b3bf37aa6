package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/jarm-bridge/internal/framing"
	"github.com/mattjoyce/jarm-bridge/internal/log"
	"github.com/mattjoyce/jarm-bridge/internal/scan"
)

// Bridge couples a Channel to a Runner.
type Bridge struct {
	ch     Channel
	runner Runner
	logger *slog.Logger
}

// New creates a Bridge. The Channel is used exclusively by the Bridge.
func New(ch Channel, runner Runner) *Bridge {
	return &Bridge{
		ch:     ch,
		runner: runner,
		logger: log.WithComponent("bridge"),
	}
}

// Run serves requests until the peer closes the stream, in which case it
// returns nil. A framing error, a failed write or a cancelled ctx (checked
// between requests) ends the loop with that error.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("bridge loop started")
	served := 0
	defer func() { b.logger.Info("bridge loop stopped", "served", served) }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := b.ch.Receive()
		if errors.Is(err, io.EOF) {
			b.logger.Debug("end of stream")
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive request: %w", err)
		}

		reply := b.handle(ctx, msg)
		if err := b.ch.Send(reply); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
		served++
	}
}

// handle turns one request into exactly one reply.
func (b *Bridge) handle(ctx context.Context, msg framing.Message) any {
	reqLogger := b.logger.With(slog.String("request_id", uuid.NewString()))

	raw, ok := msg["target"]
	if !ok {
		reqLogger.Warn("request without target", "keys", len(msg))
		return ErrorReply{Error: MsgNoTarget}
	}
	target, ok := raw.(string)
	if !ok {
		reqLogger.Warn("request target is not a string", "type", fmt.Sprintf("%T", raw))
		return ErrorReply{Error: MsgTargetNotString}
	}

	reqLogger = reqLogger.With("target", target)
	reqLogger.Info("running scan")

	res, err := b.runner.Run(ctx, target)
	if err != nil {
		reqLogger.Error("scan tool could not run", "error", err)
		return ErrorReply{Error: err.Error()}
	}

	if res.ExitCode != 0 {
		diag := strings.TrimSpace(res.Stderr)
		if diag == "" {
			diag = fmt.Sprintf("scan tool exited with status %d", res.ExitCode)
		}
		reqLogger.Warn("scan tool failed", "exit_code", res.ExitCode, "stderr", diag)
		return ErrorReply{Error: diag}
	}

	outcome := scan.ParseOutput(res.Stdout)
	reqLogger.Info("scan completed",
		"domain_found", outcome.Domain != nil,
		"ip_found", outcome.ResolvedIP != nil,
		"jarm_found", outcome.JARM != nil)
	return outcome
}
