// Package encryption implements LUKS encrypted volumes as a layer pair: the
// encrypted device is the outer layer and the decrypted mapping the inner one.
package encryption

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/devicemapper"
	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/security"
	"github.com/fly-io/layerstack/pkg/shell"
)

const (
	// Kind is the registered content type name
	Kind = "LUKS"
	// SectorSize is the LUKS sector size in bytes
	SectorSize = 512

	luks1MaxOffset = 4 << 20
	luks2MaxOffset = 16 << 20
)

// Accepted parameters.
const (
	ParamKeyFile = "key_file"
	// ParamName overrides the mapping name, which defaults to the base name of
	// the encrypted device.
	ParamName = "name"
)

// Register adds LUKS to reg.
func Register(reg *blockdevice.Registry) {
	reg.Register(Kind, blockdevice.Signature("LUKS encrypted file"), New, false)
}

// New is the registry constructor.
func New(_ context.Context, dev blockdevice.BlockDevice) (blockdevice.Data, error) {
	return NewEncrypted(dev, nil), nil
}

// Encrypted is a LUKS formatted device.
type Encrypted struct {
	blockdevice.BaseData
	params blockdevice.ParamSet
	inner  *blockdevice.InnerLayer
	header *Header
}

// NewEncrypted wraps dev. params are used when opening the decrypted mapping.
func NewEncrypted(dev blockdevice.BlockDevice, params blockdevice.Params, opts ...blockdevice.LifecycleOption) *Encrypted {
	e := &Encrypted{BaseData: blockdevice.NewBaseData(dev, Kind)}
	e.params = blockdevice.NewParamSet(acceptedParams, params)
	e.inner = blockdevice.NewInnerLayer(e, &decrypted{e: e}, params, opts...)
	return e
}

var acceptedParams = []string{ParamKeyFile, ParamName}

func (e *Encrypted) AcceptedParams() []string {
	return e.params.AcceptedParams()
}

func (e *Encrypted) Params() blockdevice.Params {
	return e.params.Params()
}

func (e *Encrypted) Inner() *blockdevice.InnerLayer {
	return e.inner
}

func (e *Encrypted) shell() shell.Shell {
	return e.Device().Env().Shell
}

// Header reads the LUKS header of the device.
func (e *Encrypted) Header(ctx context.Context) (Header, error) {
	path, err := e.Device().Path()
	if err != nil {
		return Header{}, err
	}

	h, err := ReadHeader(ctx, e.shell(), path)
	if err != nil {
		return Header{}, err
	}
	e.header = &h
	return h, nil
}

// Size is the header plus the decrypted size while open. A closed volume
// reports the size of its device.
func (e *Encrypted) Size(ctx context.Context) (int64, error) {
	if !e.inner.IsOpen() {
		return e.Device().Size(ctx)
	}

	h, err := e.Header(ctx)
	if err != nil {
		return 0, err
	}
	inner, err := e.inner.Size(ctx)
	if err != nil {
		return 0, err
	}
	return h.Offset + inner, nil
}

func (e *Encrypted) Granularity(context.Context) (int64, error) {
	return SectorSize, nil
}

func (e *Encrypted) ResizeTo(ctx context.Context, size int64, req blockdevice.ResizeRequest) error {
	return blockdevice.ResizeOuter(ctx, e, size, req)
}

// OverheadLimit allows headers up to the maximum of their LUKS version.
func (e *Encrypted) OverheadLimit() int64 {
	if e.header != nil {
		return e.header.MaxOffset() + 1
	}
	return luks2MaxOffset + 1
}

// decrypted maps and unmaps the plaintext device.
type decrypted struct {
	e *Encrypted
}

func (d *decrypted) AcceptedParams() []string {
	return acceptedParams
}

func (d *decrypted) Open(ctx context.Context, params blockdevice.Params) (string, error) {
	device, err := d.e.Device().Path()
	if err != nil {
		return "", err
	}

	name := params[ParamName]
	if name == "" {
		name = filepath.Base(device)
	}
	if err := security.ValidateMappingName(name); err != nil {
		return "", errors.E(errors.KindInvalidArgument, "luks_open", device, err)
	}

	path := devicemapper.DMDir + name
	if d.e.Device().Env().Exists(path) {
		return "", errors.New(errors.KindAlreadyOpen, "luks_open", device, "target %s already exists", path)
	}

	argv := []string{"cryptsetup", "luksOpen"}
	if kf := params[ParamKeyFile]; kf != "" {
		if err := security.ValidateKeyFile(kf); err != nil {
			return "", errors.E(errors.KindInvalidArgument, "luks_open", device, err)
		}
		argv = append(argv, "--key-file", kf)
	}
	argv = append(argv, device, name)

	slog.Info("luks_open", "device", device, "name", name)
	if err := d.e.shell().CheckCall(ctx, argv...); err != nil {
		slog.Error("luks_open_failed", "device", device, "error", err)
		return "", errors.Wrap(err, "failed to open encrypted device")
	}

	if !d.e.Device().Env().Exists(path) {
		return "", errors.New(errors.KindInvariant, "luks_open", device, "%s missing after luksOpen", path)
	}
	return path, nil
}

func (d *decrypted) Close(ctx context.Context, path string) error {
	return CloseMapping(ctx, d.e.shell(), filepath.Base(path))
}

func (d *decrypted) Granularity(context.Context, string) (int64, error) {
	return SectorSize, nil
}

func (d *decrypted) Resize(ctx context.Context, path string, size int64, req blockdevice.ResizeRequest) error {
	if req.Minimum {
		return errors.New(errors.KindUnsupported, "luks_resize", path, "the minimum size of a LUKS mapping would be 0")
	}

	argv := []string{"cryptsetup", "resize"}
	if !req.Maximum {
		if size%SectorSize != 0 {
			return errors.New(errors.KindWrongSize, "luks_resize", path, "%d is not a multiple of %d", size, SectorSize)
		}
		argv = append(argv, "--size", fmt.Sprint(size/SectorSize))
	}
	argv = append(argv, filepath.Base(path))

	if err := d.e.shell().CheckCall(ctx, argv...); err != nil {
		slog.Error("luks_resize_failed", "path", path, "error", err)
		return errors.Wrap(err, "failed to resize encrypted device")
	}
	return nil
}

// Verify checks the mapping starts right after the header.
func (d *decrypted) Verify(ctx context.Context, inner *blockdevice.InnerLayer) error {
	outer, err := d.e.Device().Size(ctx)
	if err != nil {
		return err
	}
	size, err := inner.Size(ctx)
	if err != nil {
		return err
	}
	h, err := d.e.Header(ctx)
	if err != nil {
		return err
	}

	if outer-size != h.Offset {
		slog.Error("luks_size_mismatch", "outer", outer, "inner", size, "header", h.Offset)
		return errors.New(errors.KindInvariant, "luks_verify", d.e.String(), "device %d - mapping %d != header %d", outer, size, h.Offset)
	}
	return nil
}
