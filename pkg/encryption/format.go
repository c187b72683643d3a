package encryption

import (
	"context"
	"log/slog"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/security"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Format writes a new LUKS header to device, destroying its content.
// Non-interactive formats do not ask for confirmation.
func Format(ctx context.Context, sh shell.Shell, device, keyFile string, interactive bool) error {
	argv := []string{"cryptsetup", "luksFormat"}
	if keyFile != "" {
		if err := security.ValidateKeyFile(keyFile); err != nil {
			return errors.E(errors.KindInvalidArgument, "luks_format", device, err)
		}
		argv = append(argv, "--key-file", keyFile)
	}
	if !interactive {
		argv = append(argv, "--batch-mode")
	}
	argv = append(argv, device)

	slog.Info("luks_format", "device", device, "interactive", interactive)
	if err := sh.CheckCall(ctx, argv...); err != nil {
		slog.Error("luks_format_failed", "device", device, "error", err)
		return errors.Wrap(err, "failed to format encrypted device")
	}
	return nil
}

// CloseMapping removes the decrypted mapping /dev/mapper/<name>, whoever opened it.
func CloseMapping(ctx context.Context, sh shell.Shell, name string) error {
	if err := security.ValidateMappingName(name); err != nil {
		return errors.E(errors.KindInvalidArgument, "luks_close", name, err)
	}

	slog.Info("luks_close", "name", name)
	if err := sh.CheckCall(ctx, "cryptsetup", "luksClose", name); err != nil {
		slog.Error("luks_close_failed", "name", name, "error", err)
		return errors.Wrap(err, "failed to close encrypted device")
	}
	return nil
}
