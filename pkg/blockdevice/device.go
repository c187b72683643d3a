package blockdevice

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fly-io/layerstack/pkg/errors"
)

// BlockDevice is a device node identified by its path.
type BlockDevice interface {
	Resizable
	// Path fails with ErrNotReady while the device has no path.
	Path() (string, error)
	Env() *Env
	// Signature describes the device content, as printed by file(1).
	Signature(ctx context.Context) (string, error)
	// Data returns the recognized content, or nil when unrecognized.
	Data(ctx context.Context) (Data, error)
}

// DeviceDriver implements granularity and resizing for a kind of device. A
// Device without a driver cannot be resized.
type DeviceDriver interface {
	Granularity(ctx context.Context, path string) (int64, error)
	Resize(ctx context.Context, path string, size int64, req ResizeRequest) error
}

// Device is the common BlockDevice implementation. Size and content are always
// read from the kernel; only the Data instance is cached, and only for as long
// as the recognized content type stays the same.
type Device struct {
	env    *Env
	path   string
	driver DeviceDriver

	data     Data
	dataKind string
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithDriver makes the device resizable.
func WithDriver(d DeviceDriver) DeviceOption {
	return func(dev *Device) { dev.driver = d }
}

// NewDevice returns the device at path, which must exist.
func NewDevice(env *Env, path string, opts ...DeviceOption) (*Device, error) {
	if env == nil {
		env = DefaultEnv()
	}
	if !env.Exists(path) {
		return nil, errors.New(errors.KindInvalidArgument, "device", path, "path does not exist")
	}

	d := &Device{env: env, path: path}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// newUnsetDevice returns a device whose path is set later, on open.
func newUnsetDevice(env *Env, driver DeviceDriver) *Device {
	return &Device{env: env, driver: driver}
}

func (d *Device) Env() *Env {
	return d.env
}

func (d *Device) Path() (string, error) {
	if d.path == "" {
		return "", errors.New(errors.KindNotReady, "path", "", "block device path is not set")
	}
	return d.path, nil
}

func (d *Device) setPath(path string) error {
	if path != "" && !d.env.Exists(path) {
		return errors.New(errors.KindInvariant, "device", path, "block device node not found")
	}
	d.path = path
	d.data, d.dataKind = nil, ""
	return nil
}

func (d *Device) Size(ctx context.Context) (int64, error) {
	path, err := d.Path()
	if err != nil {
		return 0, err
	}

	out, err := d.env.Shell.CheckOutput(ctx, "blockdev", "--getsize64", path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query device size")
	}

	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, errors.E(errors.KindInvariant, "size", path, err)
	}
	return size, nil
}

func (d *Device) Signature(ctx context.Context) (string, error) {
	path, err := d.Path()
	if err != nil {
		return "", err
	}

	out, err := d.env.Shell.CheckOutput(ctx, "file", "--special", "--dereference", path)
	if err != nil {
		return "", errors.Wrap(err, "failed to read content signature")
	}
	return strings.TrimSpace(out), nil
}

// Data classifies the content again on every call, returning the cached
// instance when the content type did not change.
func (d *Device) Data(ctx context.Context) (Data, error) {
	name, construct, err := d.env.registry().Classify(ctx, d)
	if err != nil {
		return nil, err
	}

	if construct == nil {
		d.data, d.dataKind = nil, ""
		return nil, nil
	}
	if d.data != nil && d.dataKind == name {
		return d.data, nil
	}

	data, err := construct(ctx, d)
	if err != nil {
		slog.Error("data_construct_failed", "device", d.path, "kind", name, "error", err)
		return nil, errors.Wrap(err, "failed to build "+name)
	}

	d.data, d.dataKind = data, name
	slog.Debug("data_recognized", "device", d.path, "kind", name)
	return data, nil
}

func (d *Device) Granularity(ctx context.Context) (int64, error) {
	if d.driver == nil {
		return 0, errors.New(errors.KindUnsupported, "granularity", d.path, "device cannot be resized")
	}

	path, err := d.Path()
	if err != nil {
		return 0, err
	}
	return d.driver.Granularity(ctx, path)
}

// ResizeTo resizes the device node. A device holding recognized content is only
// resized when req.NoData is set: the caller is responsible for the content.
func (d *Device) ResizeTo(ctx context.Context, size int64, req ResizeRequest) error {
	if d.driver == nil {
		return errors.New(errors.KindUnsupported, "resize", d.path, "device cannot be resized")
	}

	path, err := d.Path()
	if err != nil {
		return err
	}

	if !req.NoData {
		data, err := d.Data(ctx)
		if err != nil {
			return err
		}
		if data != nil {
			return errors.New(errors.KindInvalidArgument, "resize", path, "device holds %s content", data.Kind())
		}
	}

	slog.Info("device_resize", "device", path, "size", size, "request", req.String())
	if err := d.driver.Resize(ctx, path, size, req); err != nil {
		slog.Error("device_resize_failed", "device", path, "error", err)
		return err
	}
	return nil
}

func (d *Device) String() string {
	if d.path == "" {
		return "Device<unset>"
	}
	return fmt.Sprintf("Device<%s>", d.path)
}
