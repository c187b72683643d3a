package blockdevice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constructKind(kind string) Constructor {
	return func(_ context.Context, dev BlockDevice) (Data, error) {
		return &simpleData{BaseData: NewBaseData(dev, kind)}, nil
	}
}

// TestRegistryOrder verifies priority registrations are matched first
func TestRegistryOrder(t *testing.T) {
	w := newWorld(t)
	w.add(&fakeDevice{path: "/dev/sda", content: "Linux rev 1.0 ext4 filesystem data"})
	dev, err := NewDevice(w.env, "/dev/sda")
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register("generic", Signature("data"), constructKind("generic"), false)
	reg.Register("ext4", Signature("ext4 filesystem"), constructKind("ext4"), true)
	assert.Equal(t, []string{"ext4", "generic"}, reg.Names())

	name, construct, err := reg.Classify(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "ext4", name)
	require.NotNil(t, construct)

	// the signature is read once however many recognizers run
	assert.Len(t, w.sh.Commands(), 1)
}

// TestRegistryIdempotent verifies registering a name twice keeps the first registration
func TestRegistryIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ext4", Signature("ext4"), constructKind("ext4"), false)
	reg.Register("luks", Signature("LUKS"), constructKind("luks"), false)
	reg.Register("ext4", Signature("other"), constructKind("ext4"), true)

	assert.Equal(t, []string{"ext4", "luks"}, reg.Names())
}

// TestRegistryUnrecognized verifies unknown content is not an error
func TestRegistryUnrecognized(t *testing.T) {
	w := newWorld(t)
	w.add(&fakeDevice{path: "/dev/sdb", content: "data"})
	dev, err := NewDevice(w.env, "/dev/sdb")
	require.NoError(t, err)

	name, construct, err := w.env.Registry.Classify(context.Background(), dev)
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Nil(t, construct)

	data, err := dev.Data(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

// TestRegistryPredicate verifies arbitrary recognizers are supported
func TestRegistryPredicate(t *testing.T) {
	w := newWorld(t)
	w.add(&fakeDevice{path: "/dev/loop0", content: "data"})
	dev, err := NewDevice(w.env, "/dev/loop0")
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register("loop", func(_ context.Context, p *Probe) (bool, error) {
		path, err := p.Device.Path()
		return path == "/dev/loop0", err
	}, constructKind("loop"), false)

	name, _, err := reg.Classify(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, "loop", name)
	assert.Empty(t, w.sh.Commands())
}
