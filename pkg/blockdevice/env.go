// Package blockdevice models stacked block devices: raw devices, the content
// recognized on them, and outer/inner layer pairs such as an encrypted volume
// and its decrypted mapping.
package blockdevice

import (
	"os"

	"github.com/fly-io/layerstack/pkg/devicemapper"
	"github.com/fly-io/layerstack/pkg/shell"
)

// DefaultMaxOverhead bounds the size an outer layer may add on top of its inner
// layer (exclusive).
const DefaultMaxOverhead int64 = 16 << 20

// Env holds the collaborators every device shares.
type Env struct {
	Shell    shell.Shell
	Registry *Registry
	// Topology detects layers opened outside this process. Nil disables detection.
	Topology devicemapper.Topology
	// PathExists validates device paths; defaults to os.Stat.
	PathExists  func(path string) bool
	MaxOverhead int64
}

// DefaultEnv returns an Env talking to the host with the process-wide registry.
func DefaultEnv() *Env {
	sh := shell.NewSystem()
	return &Env{
		Shell:       sh,
		Registry:    Default,
		Topology:    devicemapper.NewIntrospector(sh),
		PathExists:  pathExists,
		MaxOverhead: DefaultMaxOverhead,
	}
}

func (e *Env) registry() *Registry {
	if e.Registry == nil {
		return Default
	}
	return e.Registry
}

// Exists reports whether a device node exists at path.
func (e *Env) Exists(path string) bool {
	if e.PathExists == nil {
		return pathExists(path)
	}
	return e.PathExists(path)
}

func (e *Env) maxOverhead() int64 {
	if e.MaxOverhead <= 0 {
		return DefaultMaxOverhead
	}
	return e.MaxOverhead
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
