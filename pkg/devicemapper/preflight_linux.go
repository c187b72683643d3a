//go:build linux

package devicemapper

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Preflight checks that the host can manage device-mapper devices: the
// process must run as root and dmsetup must talk to the kernel driver.
func Preflight(ctx context.Context, sh shell.Shell) error {
	slog.Debug("preflight_start", "platform", "linux")

	if !isRoot(ctx, sh) {
		slog.Error("devicemapper_requires_root")
		return errors.New(errors.KindUnsupported, "preflight", "", "devicemapper requires root privileges")
	}

	out, err := sh.CheckOutput(ctx, "dmsetup", "version")
	if err != nil {
		slog.Error("dmsetup_unavailable", "error", err)
		return errors.Wrap(err, "device-mapper is not usable")
	}

	slog.Debug("preflight_ok", "dmsetup", strings.TrimSpace(strings.SplitN(out, "\n", 2)[0]))
	return nil
}

func isRoot(ctx context.Context, sh shell.Shell) bool {
	out, err := sh.CheckOutput(ctx, "id", "-u")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "0"
}
