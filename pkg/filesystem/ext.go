// Package filesystem implements the ext2, ext3 and ext4 filesystems as block
// device content.
package filesystem

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Kinds lists the supported filesystems.
var Kinds = []string{"ext2", "ext3", "ext4"}

// Register adds every ext filesystem to reg.
func Register(reg *blockdevice.Registry) {
	for _, kind := range Kinds {
		reg.Register(kind, blockdevice.Signature(kind+" filesystem"), constructor(kind), false)
	}
}

func constructor(kind string) blockdevice.Constructor {
	return func(_ context.Context, dev blockdevice.BlockDevice) (blockdevice.Data, error) {
		return NewExt(dev, kind), nil
	}
}

// Ext is an ext2/3/4 filesystem.
type Ext struct {
	blockdevice.BaseData
}

func NewExt(dev blockdevice.BlockDevice, kind string) *Ext {
	return &Ext{BaseData: blockdevice.NewBaseData(dev, kind)}
}

func (e *Ext) sh() shell.Shell {
	return e.Device().Env().Shell
}

// Superblock returns the superblock fields printed by dumpe2fs -h.
func (e *Ext) Superblock(ctx context.Context) (map[string]string, error) {
	path, err := e.Device().Path()
	if err != nil {
		return nil, err
	}

	out, err := e.sh().CheckOutput(ctx, "dumpe2fs", "-h", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read superblock")
	}
	return ParseSuperblock(out), nil
}

// ParseSuperblock parses "Key:   value" lines; lines without a value are skipped.
func ParseSuperblock(out string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

func (e *Ext) geometry(ctx context.Context) (count, size int64, err error) {
	sb, err := e.Superblock(ctx)
	if err != nil {
		return 0, 0, err
	}

	if count, err = intField(sb, "Block count"); err != nil {
		return 0, 0, err
	}
	if size, err = intField(sb, "Block size"); err != nil {
		return 0, 0, err
	}
	return count, size, nil
}

func intField(sb map[string]string, key string) (int64, error) {
	v, ok := sb[key]
	if !ok {
		return 0, errors.New(errors.KindInvariant, "superblock", key, "field missing")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.E(errors.KindInvariant, "superblock", key, err)
	}
	return n, nil
}

// Size is block count times block size.
func (e *Ext) Size(ctx context.Context) (int64, error) {
	count, size, err := e.geometry(ctx)
	if err != nil {
		return 0, err
	}
	return count * size, nil
}

// Granularity is the block size.
func (e *Ext) Granularity(ctx context.Context) (int64, error) {
	_, size, err := e.geometry(ctx)
	return size, err
}

// ResizeTo runs resize2fs. Shrinking requires a freshly checked filesystem,
// so e2fsck runs first.
func (e *Ext) ResizeTo(ctx context.Context, size int64, req blockdevice.ResizeRequest) error {
	path, err := e.Device().Path()
	if err != nil {
		return err
	}

	argv := []string{"resize2fs"}
	if req.Interactive {
		argv = append(argv, "-p")
	}

	shrink := req.Minimum
	switch {
	case req.Minimum:
		argv = append(argv, "-M", path)
	case req.Maximum:
		argv = append(argv, path)
	default:
		if size%1024 != 0 {
			return errors.New(errors.KindWrongSize, "resize2fs", path, "%d is not a multiple of 1KiB", size)
		}
		current, err := e.Size(ctx)
		if err != nil {
			return err
		}
		shrink = size < current
		argv = append(argv, path, fmt.Sprintf("%dK", size/1024))
	}

	if shrink {
		if err := e.Check(ctx); err != nil {
			return err
		}
	}

	slog.Info("filesystem_resize", "kind", e.Kind(), "device", path, "request", req.String(), "size", size)
	if err := e.sh().CheckCall(ctx, argv...); err != nil {
		slog.Error("filesystem_resize_failed", "device", path, "error", err)
		return errors.Wrap(err, "failed to resize filesystem")
	}
	return nil
}

// Check runs a forced, non-interactive e2fsck.
func (e *Ext) Check(ctx context.Context) error {
	path, err := e.Device().Path()
	if err != nil {
		return err
	}

	if err := e.sh().CheckCall(ctx, "e2fsck", "-f", "-p", path); err != nil {
		slog.Error("filesystem_check_failed", "device", path, "error", err)
		return errors.Wrap(err, "filesystem check failed")
	}
	return nil
}
