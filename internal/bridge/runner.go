package bridge

import (
	"context"

	"github.com/mattjoyce/jarm-bridge/internal/framing"
	"github.com/mattjoyce/jarm-bridge/internal/scan"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/jarm-bridge/internal/bridge Runner

// Runner invokes the scan tool for a single target. A non-zero exit status
// belongs in the Result; an error means the tool could not be run at all.
type Runner interface {
	Run(ctx context.Context, target string) (scan.Result, error)
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, target string) (scan.Result, error)

// Run calls f(ctx, target).
func (f RunnerFunc) Run(ctx context.Context, target string) (scan.Result, error) {
	return f(ctx, target)
}

// Channel is the framed message stream the loop talks over.
// *framing.Channel is the production implementation.
type Channel interface {
	Send(msg any) error
	Receive() (framing.Message, error)
}
