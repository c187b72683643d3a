//go:build !linux

package devicemapper

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Preflight always fails: device-mapper only exists on Linux.
func Preflight(_ context.Context, _ shell.Shell) error {
	slog.Warn("devicemapper_unsupported_platform", "platform", runtime.GOOS)
	return errors.New(errors.KindUnsupported, "preflight", runtime.GOOS, "devicemapper is only available on linux")
}
