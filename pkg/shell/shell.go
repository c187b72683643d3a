// Package shell runs external programs for the rest of the module. All kernel
// interaction goes through the Shell interface so it can be replaced in tests.
package shell

import (
	"context"
	"log/slog"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"

	"github.com/fly-io/layerstack/pkg/errors"
)

// Shell executes commands synchronously. A non-zero exit is always an error.
type Shell interface {
	// CheckCall runs argv and discards its output.
	CheckCall(ctx context.Context, argv ...string) error
	// CheckOutput runs argv and returns its standard output.
	CheckOutput(ctx context.Context, argv ...string) (string, error)
}

// System runs commands on the host.
type System struct{}

// NewSystem returns a Shell backed by the host.
func NewSystem() *System {
	return &System{}
}

func (s *System) CheckCall(ctx context.Context, argv ...string) error {
	_, err := s.CheckOutput(ctx, argv...)
	return err
}

func (s *System) CheckOutput(ctx context.Context, argv ...string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New(errors.KindInvalidArgument, "exec", "", "empty command")
	}

	line := strings.Join(argv, " ")
	slog.Debug("shell_exec", "command", line)

	out, err := cmd.RunContext(ctx, argv[0], argv[1:]...)
	if err != nil {
		slog.Debug("shell_exec_failed", "command", line, "error", err)
		return "", errors.E(errors.KindCommandFailed, "exec", line, err)
	}

	slog.Debug("shell_exec_done", "command", line, "output_bytes", len(out))
	return out, nil
}
