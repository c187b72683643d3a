package lvm

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/devicemapper"
	"github.com/fly-io/layerstack/pkg/errors"
)

// LVFromPath returns the logical volume at path, given either as
// /dev/<vg>/<lv> or as its device-mapper node /dev/mapper/<vg>-<lv>.
// ok is false when path is not a logical volume.
func LVFromPath(ctx context.Context, env *blockdevice.Env, path string) (lv *LV, ok bool, err error) {
	if env == nil {
		env = blockdevice.DefaultEnv()
	}

	dir, name := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)

	var vgName, lvName string
	switch {
	case dir+"/" == devicemapper.DMDir:
		info, err := devicemapper.DMInfo(ctx, env.Shell, path)
		if err != nil {
			return nil, false, err
		}
		if !strings.HasPrefix(info.Get("UUID"), "LVM-") {
			return nil, false, nil
		}
		if vgName, lvName, ok = SplitDMName(info.Name()); !ok {
			return nil, false, nil
		}
	case filepath.Dir(dir)+"/" == devicemapper.DevDir:
		vgName, lvName = filepath.Base(dir), name
	default:
		return nil, false, nil
	}

	vg, err := LookupVG(ctx, env, vgName)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidArgument) || errors.Is(err, errors.ErrCommandFailed) {
			slog.Debug("lv_resolve_skipped", "path", path, "error", err)
			return nil, false, nil
		}
		return nil, false, err
	}

	lv, err = vg.LV(ctx, lvName)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidArgument) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return lv, true, nil
}

// SplitDMName splits a device-mapper name built by LVM, where dashes inside
// the VG and LV names are doubled and a single dash separates them. Names of
// internal sub-volumes ("vg-lv-real") are rejected.
func SplitDMName(name string) (vg, lv string, ok bool) {
	sep := -1
	for i := 0; i < len(name); i++ {
		if name[i] != '-' {
			continue
		}
		if i+1 < len(name) && name[i+1] == '-' {
			i++
			continue
		}
		if sep >= 0 {
			return "", "", false
		}
		sep = i
	}
	if sep <= 0 || sep == len(name)-1 {
		return "", "", false
	}

	unescape := func(s string) string { return strings.ReplaceAll(s, "--", "-") }
	return unescape(name[:sep]), unescape(name[sep+1:]), true
}
