package lvm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/devicemapper"
	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Kind is the content kind of an LVM physical volume.
const Kind = "LVM2 PV"

// Register adds physical volumes to reg.
func Register(reg *blockdevice.Registry) {
	reg.Register(Kind, blockdevice.Signature(Kind), func(_ context.Context, dev blockdevice.BlockDevice) (blockdevice.Data, error) {
		return NewPV(dev), nil
	}, false)
}

// PV is a physical volume occupying a block device.
type PV struct {
	blockdevice.BaseData
}

func NewPV(dev blockdevice.BlockDevice) *PV {
	return &PV{BaseData: blockdevice.NewBaseData(dev, Kind)}
}

// CreatePV initializes device as a physical volume, wiping existing signatures
// when force is set.
func CreatePV(ctx context.Context, sh shell.Shell, device string, force bool) error {
	argv := []string{"pvcreate"}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, device)

	slog.Info("pv_create", "device", device)
	if err := sh.CheckCall(ctx, argv...); err != nil {
		slog.Error("pv_create_failed", "device", device, "error", err)
		return errors.Wrap(err, "failed to create physical volume")
	}
	return nil
}

func (p *PV) sh() shell.Shell {
	return p.Device().Env().Shell
}

func (p *PV) query(ctx context.Context, field string) (string, error) {
	path, err := p.Device().Path()
	if err != nil {
		return "", err
	}
	out, err := p.sh().CheckOutput(ctx, "pvs", "--noheadings", "--nosuffix", "--units", "b", "-o", field, path)
	if err != nil {
		return "", errors.Wrap(err, "failed to query physical volume")
	}
	return strings.TrimSpace(out), nil
}

func (p *PV) queryInt(ctx context.Context, field string) (int64, error) {
	v, err := p.query(ctx, field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.E(errors.KindInvariant, "pvs", field, err)
	}
	return n, nil
}

// Size is the size LVM reports for the PV. Inside a volume group this stops
// at the last whole extent, so it may fall short of the device; Slack bounds
// the difference.
func (p *PV) Size(ctx context.Context) (int64, error) {
	return p.queryInt(ctx, "pv_size")
}

// Slack is the metadata area before the first extent plus one extent, the
// most the PV size can fall short of its device.
func (p *PV) Slack(ctx context.Context) (int64, error) {
	start, err := p.queryInt(ctx, "pe_start")
	if err != nil {
		return 0, err
	}
	g, err := p.Granularity(ctx)
	if err != nil {
		return 0, err
	}
	return start + g, nil
}

// VGName returns the volume group the PV belongs to, or "".
func (p *PV) VGName(ctx context.Context) (string, error) {
	return p.query(ctx, "vg_name")
}

// Granularity is the extent size of the volume group, or a sector for an
// unassigned PV.
func (p *PV) Granularity(ctx context.Context) (int64, error) {
	vg, err := p.VGName(ctx)
	if err != nil {
		return 0, err
	}
	if vg == "" {
		return devicemapper.SectorSize, nil
	}

	return p.queryInt(ctx, "vg_extent_size")
}

// ResizeTo runs pvresize. LVM cannot compute a minimum size for a PV.
func (p *PV) ResizeTo(ctx context.Context, size int64, req blockdevice.ResizeRequest) error {
	if req.Minimum {
		return errors.New(errors.KindUnsupported, "pvresize", p.String(), "no minimum size")
	}
	path, err := p.Device().Path()
	if err != nil {
		return err
	}

	argv := []string{"pvresize"}
	if !req.Maximum {
		argv = append(argv, "--setphysicalvolumesize", fmt.Sprintf("%db", size))
	}
	if !req.Interactive {
		argv = append(argv, "--yes")
	}
	argv = append(argv, path)

	slog.Info("pv_resize", "device", path, "request", req.String(), "size", size)
	if err := p.sh().CheckCall(ctx, argv...); err != nil {
		slog.Error("pv_resize_failed", "device", path, "error", err)
		return errors.Wrap(err, "failed to resize physical volume")
	}
	return nil
}

// Remove wipes the PV label.
func (p *PV) Remove(ctx context.Context) error {
	path, err := p.Device().Path()
	if err != nil {
		return err
	}
	if err := p.sh().CheckCall(ctx, "pvremove", path); err != nil {
		return errors.Wrap(err, "failed to remove physical volume")
	}
	return nil
}

// CreateVG creates a volume group holding only this PV.
func (p *PV) CreateVG(ctx context.Context, name string) (*VG, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path, err := p.Device().Path()
	if err != nil {
		return nil, err
	}

	slog.Info("vg_create", "vg", name, "device", path)
	if err := p.sh().CheckCall(ctx, "vgcreate", name, path); err != nil {
		slog.Error("vg_create_failed", "vg", name, "error", err)
		return nil, errors.Wrap(err, "failed to create volume group")
	}
	return LookupVG(ctx, p.Device().Env(), name)
}
