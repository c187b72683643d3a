package commands

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/devicemapper"
	"github.com/fly-io/layerstack/pkg/encryption"
	"github.com/fly-io/layerstack/pkg/errors"
)

// newEnv returns a host environment honoring the configured overhead limit.
// Tests replace it with a faked host.
var newEnv = func() *blockdevice.Env {
	env := blockdevice.DefaultEnv()
	env.MaxOverhead = cfg.MaxOverhead
	return env
}

var preflightCheck = devicemapper.Preflight

// preflight checks the host can change device-mapper state
func preflight(ctx context.Context, env *blockdevice.Env) error {
	if err := preflightCheck(ctx, env.Shell); err != nil {
		return errors.Wrap(err, "preflight failed")
	}
	return nil
}

// openParams are the parameters handed to every layer when a stack is opened
func openParams() blockdevice.Params {
	params := blockdevice.Params{}
	if cfg.KeyFile != "" {
		params[encryption.ParamKeyFile] = cfg.KeyFile
	}
	return params
}

// parseSize parses a humanized size such as 10GiB. A leading sign is only
// accepted for relative sizes.
func parseSize(s string, relative bool) (int64, error) {
	sign := int64(1)
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if !relative {
			return 0, errors.New(errors.KindInvalidArgument, "parse_size", s, "signed sizes require --relative")
		}
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.E(errors.KindInvalidArgument, "parse_size", s, err)
	}
	return sign * int64(n), nil
}

// formatSize renders bytes with binary units; negative values print as "-"
func formatSize(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}
