package encryption

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/filesystem"
	"github.com/fly-io/layerstack/pkg/shell"
)

const (
	mib        = int64(1 << 20)
	diskSize   = 100 * mib
	headerSize = 16 * mib
)

// host fakes a machine with one LUKS2 disk at /dev/sdb.
type host struct {
	sh      *shell.Fake
	env     *blockdevice.Env
	sizes   map[string]int64
	content map[string]string
	// mappingSize is the size luksOpen gives the decrypted device
	mappingSize int64
}

func newHost(t *testing.T) *host {
	h := &host{
		sh:          shell.NewFake(),
		sizes:       map[string]int64{"/dev/sdb": diskSize},
		content:     map[string]string{"/dev/sdb": "LUKS encrypted file, ver 2 [, , sha256] UUID: 0f6e2a4c"},
		mappingSize: diskSize - headerSize,
	}

	h.sh.AddBinary("blockdev", func(argv []string) (string, error) {
		size, ok := h.sizes[argv[len(argv)-1]]
		if !ok {
			return "", fmt.Errorf("no such device")
		}
		return strconv.FormatInt(size, 10), nil
	})
	h.sh.AddBinary("file", func(argv []string) (string, error) {
		path := argv[len(argv)-1]
		if c, ok := h.content[path]; ok {
			return path + ": " + c, nil
		}
		return path + ": data", nil
	})
	h.sh.AddCommand([]string{"cryptsetup", "luksDump", "/dev/sdb"}, luks2Dump)
	h.sh.AddBinary("/sbin/cryptsetup", func(argv []string) (string, error) {
		switch argv[1] {
		case "luksOpen":
			h.sizes["/dev/mapper/"+argv[len(argv)-1]] = h.mappingSize
		case "luksClose":
			delete(h.sizes, "/dev/mapper/"+argv[2])
		case "resize":
			path := "/dev/mapper/" + argv[len(argv)-1]
			if argv[2] == "--size" {
				sectors, _ := strconv.ParseInt(argv[3], 10, 64)
				h.sizes[path] = sectors * SectorSize
			} else {
				h.sizes[path] = h.sizes["/dev/sdb"] - headerSize
			}
		}
		return "", nil
	})

	reg := blockdevice.NewRegistry()
	Register(reg)
	h.env = &blockdevice.Env{
		Shell:      h.sh,
		Registry:   reg,
		PathExists: func(p string) bool { _, ok := h.sizes[p]; return ok },
	}
	return h
}

func (h *host) encrypted(t *testing.T) *Encrypted {
	t.Helper()
	dev, err := blockdevice.NewDevice(h.env, "/dev/sdb")
	require.NoError(t, err)

	data, err := dev.Data(context.Background())
	require.NoError(t, err)
	require.IsType(t, &Encrypted{}, data)
	return data.(*Encrypted)
}

func keyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdb.key")
	require.NoError(t, os.WriteFile(path, []byte("correct horse battery staple"), 0o600))
	return path
}

// TestOpenClose verifies the decrypted mapping is opened with the key file and closed by name
func TestOpenClose(t *testing.T) {
	ctx := context.Background()
	h := newHost(t)
	e := h.encrypted(t)
	key := keyFile(t)

	size, err := e.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, diskSize, size)

	path, err := e.Inner().Open(ctx, blockdevice.Params{ParamKeyFile: key, ParamName: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/mapper/secret", path)
	assert.True(t, h.sh.Ran("cryptsetup", "luksOpen", "--key-file", key, "/dev/sdb", "secret"))

	ov, err := blockdevice.Overhead(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, headerSize, ov)

	size, err = e.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, diskSize, size)

	require.NoError(t, e.Inner().Close(ctx))
	assert.True(t, h.sh.Ran("cryptsetup", "luksClose", "secret"))
	_, err = e.Inner().Path()
	assert.ErrorIs(t, err, errors.ErrNotReady)
}

// TestOpenDefaultName verifies the mapping is named after the encrypted device
func TestOpenDefaultName(t *testing.T) {
	ctx := context.Background()
	h := newHost(t)
	e := h.encrypted(t)

	path, err := e.Inner().Open(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/mapper/sdb", path)
	assert.True(t, h.sh.Ran("cryptsetup", "luksOpen", "/dev/sdb", "sdb"))
	require.NoError(t, e.Inner().Close(ctx))
}

// TestOpenRefusesExistingTarget verifies an existing mapping path is never reused
func TestOpenRefusesExistingTarget(t *testing.T) {
	h := newHost(t)
	h.sizes["/dev/mapper/sdb"] = 1
	e := h.encrypted(t)

	_, err := e.Inner().Open(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrAlreadyOpen)
	assert.False(t, h.sh.Ran("cryptsetup", "luksOpen", "/dev/sdb", "sdb"))
}

// TestOpenRejectsBadKeyFile verifies key files are validated before cryptsetup runs
func TestOpenRejectsBadKeyFile(t *testing.T) {
	h := newHost(t)
	e := h.encrypted(t)

	_, err := e.Inner().Open(context.Background(), blockdevice.Params{ParamKeyFile: "relative.key"})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.False(t, e.Inner().IsOpen())
}

// TestOpenSizeMismatch verifies a mapping that does not start after the header is closed again
func TestOpenSizeMismatch(t *testing.T) {
	h := newHost(t)
	h.mappingSize = diskSize - headerSize - mib
	e := h.encrypted(t)

	_, err := e.Inner().Open(context.Background(), nil)
	assert.True(t, errors.IsFatal(err))
	assert.False(t, e.Inner().IsOpen())
	assert.True(t, h.sh.Ran("cryptsetup", "luksClose", "sdb"))
}

// TestResize verifies the header is subtracted before the mapping is resized
func TestResize(t *testing.T) {
	ctx := context.Background()
	h := newHost(t)
	e := h.encrypted(t)

	_, err := e.Inner().Open(ctx, nil)
	require.NoError(t, err)
	defer e.Inner().Close(ctx)

	require.NoError(t, blockdevice.Resize(ctx, e, blockdevice.To(60*mib)))
	assert.True(t, h.sh.Ran("cryptsetup", "resize", "--size", "90112", "sdb"))
	assert.Equal(t, 44*mib, h.sizes["/dev/mapper/sdb"])

	size, err := e.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60*mib, size)

	require.NoError(t, blockdevice.Resize(ctx, e, blockdevice.ToMaximum()))
	assert.True(t, h.sh.Ran("cryptsetup", "resize", "sdb"))
	assert.Equal(t, diskSize-headerSize, h.sizes["/dev/mapper/sdb"])

	assert.ErrorIs(t, blockdevice.Resize(ctx, e, blockdevice.ToMinimum()), errors.ErrUnsupported)
}

// TestResizeMaximumWithContent verifies a filesystem inside the mapping does not block growing it
func TestResizeMaximumWithContent(t *testing.T) {
	ctx := context.Background()
	h := newHost(t)
	filesystem.Register(h.env.Registry)
	h.content["/dev/mapper/sdb"] = "Linux rev 1.0 ext4 filesystem data, UUID=5b2f"
	e := h.encrypted(t)

	_, err := e.Inner().Open(ctx, nil)
	require.NoError(t, err)
	defer e.Inner().Close(ctx)

	h.sizes["/dev/sdb"] = diskSize + 20*mib
	require.NoError(t, blockdevice.Resize(ctx, e, blockdevice.ToMaximum()))
	assert.True(t, h.sh.Ran("cryptsetup", "resize", "sdb"))
	assert.Equal(t, diskSize+20*mib-headerSize, h.sizes["/dev/mapper/sdb"])

	err = blockdevice.Resize(ctx, e, blockdevice.ToMinimum())
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

// TestFormat verifies the luksFormat command line
func TestFormat(t *testing.T) {
	ctx := context.Background()
	key := keyFile(t)
	sh := shell.NewFake()
	sh.AddBinary("cryptsetup", shell.Output(""))

	require.NoError(t, Format(ctx, sh, "/dev/sdc", key, false))
	require.NoError(t, Format(ctx, sh, "/dev/sdd", "", true))

	assert.Equal(t, [][]string{
		{"cryptsetup", "luksFormat", "--key-file", key, "--batch-mode", "/dev/sdc"},
		{"cryptsetup", "luksFormat", "/dev/sdd"},
	}, sh.Commands())
}

// TestCloseMapping verifies mappings are closed by name and bad names never reach cryptsetup
func TestCloseMapping(t *testing.T) {
	ctx := context.Background()
	sh := shell.NewFake()
	sh.AddBinary("cryptsetup", shell.Output(""))

	require.NoError(t, CloseMapping(ctx, sh, "sdb"))
	err := CloseMapping(ctx, sh, "../sdb")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	assert.Equal(t, [][]string{{"cryptsetup", "luksClose", "sdb"}}, sh.Commands())
}
