package filesystem

import (
	"context"
	"log/slog"
	"slices"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Format creates a filesystem of kind on device with mkfs.<kind>.
func Format(ctx context.Context, sh shell.Shell, kind, device string, force bool) error {
	if !slices.Contains(Kinds, kind) {
		return errors.New(errors.KindUnsupported, "mkfs", kind, "supported filesystems are %v", Kinds)
	}

	argv := []string{"mkfs." + kind}
	if force {
		argv = append(argv, "-F")
	}
	argv = append(argv, device)

	slog.Info("format_device", "device_path", device, "filesystem", kind)
	if err := sh.CheckCall(ctx, argv...); err != nil {
		slog.Error("device_format_failed", "device_path", device, "error", err)
		return errors.Wrap(err, "failed to format device")
	}
	return nil
}
