package lvm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/errors"
)

// LV is a logical volume. Its device node is resizable.
type LV struct {
	*blockdevice.Device
	vg   *VG
	name string
}

func newLV(vg *VG, name string) (*LV, error) {
	lv := &LV{vg: vg, name: name}
	dev, err := blockdevice.NewDevice(vg.env, vg.Dir()+name, blockdevice.WithDriver(lvDriver{lv}))
	if err != nil {
		return nil, err
	}
	lv.Device = dev
	return lv, nil
}

func (lv *LV) Name() string {
	return lv.name
}

func (lv *LV) VG() *VG {
	return lv.vg
}

// Rename renames the volume; its device path changes accordingly.
func (lv *LV) Rename(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	slog.Info("lv_rename", "vg", lv.vg.name, "from", lv.name, "to", name)
	if err := lv.vg.env.Shell.CheckCall(ctx, "lvrename", lv.vg.name, lv.name, name); err != nil {
		return errors.Wrap(err, "failed to rename logical volume")
	}

	dev, err := blockdevice.NewDevice(lv.vg.env, lv.vg.Dir()+name, blockdevice.WithDriver(lvDriver{lv}))
	if err != nil {
		return err
	}
	lv.name, lv.Device = name, dev
	return nil
}

// Remove deletes the volume.
func (lv *LV) Remove(ctx context.Context, force bool) error {
	argv := []string{"lvremove"}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, lv.vg.name+"/"+lv.name)

	slog.Info("lv_remove", "vg", lv.vg.name, "lv", lv.name)
	if err := lv.vg.env.Shell.CheckCall(ctx, argv...); err != nil {
		return errors.Wrap(err, "failed to remove logical volume")
	}
	return nil
}

func (lv *LV) String() string {
	return fmt.Sprintf("LV<%s/%s>", lv.vg.name, lv.name)
}

type lvDriver struct {
	lv *LV
}

func (d lvDriver) Granularity(ctx context.Context, _ string) (int64, error) {
	return d.lv.vg.ExtentSize(ctx)
}

func (d lvDriver) Resize(ctx context.Context, path string, size int64, req blockdevice.ResizeRequest) error {
	if req.Minimum || req.Maximum {
		return errors.New(errors.KindUnsupported, "lvresize", path, "only explicit sizes are supported")
	}

	argv := []string{"lvresize"}
	if !req.Interactive {
		argv = append(argv, "-f")
	}
	argv = append(argv, "--size", sizeArg(size), path)

	if err := d.lv.vg.env.Shell.CheckCall(ctx, argv...); err != nil {
		return errors.Wrap(err, "failed to resize logical volume")
	}
	return nil
}

func sizeArg(size int64) string {
	return fmt.Sprintf("%db", size)
}
