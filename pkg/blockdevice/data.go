package blockdevice

import "fmt"

// Data is the content of a block device: a filesystem, an encrypted volume, a
// physical volume. A Data never outlives the device it was built for.
type Data interface {
	Resizable
	Device() BlockDevice
	// Kind is the registered content type name.
	Kind() string
}

// OuterLayer is content that, once opened, exposes another block device.
type OuterLayer interface {
	Data
	// Inner returns the paired inner layer, owned by this outer layer.
	Inner() *InnerLayer
}

// BaseData carries the fields every Data implementation shares.
type BaseData struct {
	dev  BlockDevice
	kind string
}

func NewBaseData(dev BlockDevice, kind string) BaseData {
	return BaseData{dev: dev, kind: kind}
}

func (b BaseData) Device() BlockDevice {
	return b.dev
}

func (b BaseData) Kind() string {
	return b.kind
}

func (b BaseData) String() string {
	path, err := b.dev.Path()
	if err != nil {
		return b.kind + "<unset>"
	}
	return fmt.Sprintf("%s<%s>", b.kind, path)
}
