package lvm

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/security"
)

// VG is an existing volume group.
type VG struct {
	env  *blockdevice.Env
	name string
}

// LookupVG returns the named volume group, which must exist.
func LookupVG(ctx context.Context, env *blockdevice.Env, name string) (*VG, error) {
	if env == nil {
		env = blockdevice.DefaultEnv()
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	records, err := VGDisplay(ctx, env.Shell)
	if err != nil {
		return nil, err
	}
	if _, ok := records[name]; !ok {
		return nil, errors.New(errors.KindInvalidArgument, "vg", name, "volume group does not exist")
	}
	return &VG{env: env, name: name}, nil
}

func validateName(name string) error {
	if err := security.ValidateMappingName(name); err != nil {
		return errors.E(errors.KindInvalidArgument, "lvm", name, err)
	}
	if strings.HasPrefix(name, "-") {
		return errors.New(errors.KindInvalidArgument, "lvm", name, "name starts with a dash")
	}
	return nil
}

func (vg *VG) Name() string {
	return vg.name
}

// Dir is the directory holding the LV device nodes.
func (vg *VG) Dir() string {
	return "/dev/" + vg.name + "/"
}

// Info returns the vgdisplay record.
func (vg *VG) Info(ctx context.Context) (Record, error) {
	out, err := vg.env.Shell.CheckOutput(ctx, "vgdisplay", vg.name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to display volume group")
	}
	records, err := ParseVGDisplay(out)
	if err != nil {
		return nil, err
	}
	r, ok := records[vg.name]
	if !ok {
		return nil, errors.New(errors.KindInvariant, "vgdisplay", vg.name, "volume group missing from output")
	}
	return r, nil
}

// ExtentSize is the PE size. LVM allows powers of two from 1KiB to 16GiB.
func (vg *VG) ExtentSize(ctx context.Context) (int64, error) {
	info, err := vg.Info(ctx)
	if err != nil {
		return 0, err
	}
	pe, err := info.Bytes("PE Size")
	if err != nil {
		return 0, err
	}
	if pe < 1<<10 || pe > 16<<30 || pe&(pe-1) != 0 {
		return 0, errors.New(errors.KindInvariant, "vgdisplay", vg.name, "implausible extent size %d", pe)
	}
	return pe, nil
}

// LVNames lists the logical volumes of the group.
func (vg *VG) LVNames(ctx context.Context) ([]string, error) {
	out, err := vg.env.Shell.CheckOutput(ctx, "lvs", "--noheadings", "-o", "lv_name", vg.name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list logical volumes")
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// LV returns an existing logical volume.
func (vg *VG) LV(ctx context.Context, name string) (*LV, error) {
	names, err := vg.LVNames(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, errors.New(errors.KindInvalidArgument, "lv", vg.name+"/"+name, "logical volume does not exist")
	}
	return newLV(vg, name)
}

// CreateLV creates a linear logical volume. LVM rounds size up to an extent.
func (vg *VG) CreateLV(ctx context.Context, name string, size int64) (*LV, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.New(errors.KindInvalidArgument, "lvcreate", name, "size must be positive")
	}

	slog.Info("lv_create", "vg", vg.name, "lv", name, "size", size)
	if err := vg.env.Shell.CheckCall(ctx, "lvcreate", vg.name, "--name", name, "--size", sizeArg(size)); err != nil {
		slog.Error("lv_create_failed", "vg", vg.name, "lv", name, "error", err)
		return nil, errors.Wrap(err, "failed to create logical volume")
	}
	return newLV(vg, name)
}

// Remove removes the volume group, which must hold no logical volumes.
func (vg *VG) Remove(ctx context.Context) error {
	slog.Info("vg_remove", "vg", vg.name)
	if err := vg.env.Shell.CheckCall(ctx, "vgremove", vg.name); err != nil {
		return errors.Wrap(err, "failed to remove volume group")
	}
	return nil
}

func (vg *VG) String() string {
	return "VG<" + vg.name + ">"
}
