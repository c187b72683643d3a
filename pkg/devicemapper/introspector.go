package devicemapper

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Introspector reads the live device tree through lsblk and dmsetup. Nothing is
// cached: the kernel can change between calls.
type Introspector struct {
	sh shell.Shell
	// resolve turns a device path into its canonical form
	resolve func(string) (string, error)
}

// NewIntrospector returns a Topology backed by sh.
func NewIntrospector(sh shell.Shell) *Introspector {
	return &Introspector{sh: sh, resolve: filepath.EvalSymlinks}
}

// Tree returns the current device tree.
func (i *Introspector) Tree(ctx context.Context) (*Node, error) {
	return Lsblk(ctx, i.sh)
}

// Info returns the device-mapper attributes of path.
func (i *Introspector) Info(ctx context.Context, path string) (Info, error) {
	return DMInfo(ctx, i.sh, path)
}

// Node returns the tree node for path. Mapped devices are looked up by their
// device-mapper name, anything else by the base name of the resolved path.
func (i *Introspector) Node(ctx context.Context, path string) (*Node, error) {
	resolved, err := i.resolve(path)
	if err != nil {
		return nil, errors.E(errors.KindInvalidArgument, "resolve", path, err)
	}

	name := filepath.Base(resolved)
	if info, err := DMInfo(ctx, i.sh, resolved); err == nil {
		name = info.Name()
	} else {
		slog.Debug("dminfo_unavailable", "path", resolved, "error", err)
	}

	root, err := Lsblk(ctx, i.sh)
	if err != nil {
		return nil, err
	}
	return root.Find(name)
}

func (i *Introspector) Child(ctx context.Context, path string) (string, error) {
	node, err := i.Node(ctx, path)
	if err != nil {
		return "", err
	}

	switch len(node.Children) {
	case 0:
		return "", nil
	case 1:
		child := node.Children[0].Path()
		slog.Debug("topology_child", "path", path, "child", child)
		return child, nil
	default:
		return "", errors.New(errors.KindInvariant, "topology_child", path, "%d devices stacked on top, expected at most one", len(node.Children))
	}
}
