package lvm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fly-io/layerstack/pkg/errors"
)

const vgdisplayOutput = `  --- Volume group ---
  VG Name               vg0
  System ID             
  Format                lvm2
  Metadata Areas        1
  Metadata Sequence No  4
  VG Access             read/write
  VG Status             resizable
  MAX LV                0
  Cur LV                1
  Open LV               0
  Max PV                0
  Cur PV                1
  Act PV                1
  VG Size               <20.00 GiB
  PE Size               4.00 MiB
  Total PE              5119
  Alloc PE / Size       256 / 1.00 GiB
  Free  PE / Size       4863 / <19.00 GiB
  VG UUID               3Yx1cE-aQ0k-Hj2C-8sRk-Uo7P-nX4m-kW2bVd

`

const pvdisplayOutput = `  "/dev/sdc" is a new physical volume of "10.00 GiB"
  --- NEW Physical volume ---
  PV Name               /dev/sdc
  VG Name               
  PV Size               10.00 GiB
  Allocatable           NO
  PE Size               0
  Total PE              0
  Free PE               0
  Allocated PE          0
  PV UUID               b7TqLw-2Ekd-Vn0R-pP3s-Xj8c-Zq1u-M4yHfA

`

const lvdisplayOutput = `  --- Logical volume ---
  LV Path                /dev/vg0/data
  LV Name                data
  VG Name                vg0
  LV UUID                Kp9dQe-1Wnb-Lr4T-cF7y-Ua2s-Gh6j-O3vXmE
  LV Write Access        read/write
  LV Creation host, time worker-1, 2026-10-01 09:12:44 +0000
  LV Status              available
  # open                 0
  LV Size                1.00 GiB
  Current LE             256
  Segments               1
  Allocation             inherit
  Read ahead sectors     auto
  - currently set to     256
  Block device           253:3

`

func TestParseVGDisplay(t *testing.T) {
	records, err := ParseVGDisplay(vgdisplayOutput)
	require.NoError(t, err)
	require.Contains(t, records, "vg0")

	vg := records["vg0"]
	assert.Equal(t, "", vg["System ID"])
	assert.Equal(t, "256 / 1.00 GiB", vg["Alloc PE / Size"])

	pe, err := vg.Bytes("PE Size")
	require.NoError(t, err)
	assert.Equal(t, int64(4<<20), pe)

	size, err := vg.Bytes("VG Size")
	require.NoError(t, err)
	assert.Equal(t, int64(20<<30), size)

	_, err = vg.Bytes("Alloc PE / Size")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestParsePVDisplaySkipsPreamble(t *testing.T) {
	records, err := ParsePVDisplay(pvdisplayOutput)
	require.NoError(t, err)
	require.Len(t, records, 1)

	pv := records["/dev/sdc"]
	assert.Equal(t, "", pv["VG Name"])
	pe, err := pv.Bytes("PE Size")
	require.NoError(t, err)
	assert.Zero(t, pe)
}

func TestParseLVDisplay(t *testing.T) {
	records, err := ParseLVDisplay(lvdisplayOutput)
	require.NoError(t, err)

	lv := records["/dev/vg0/data"]
	assert.Equal(t, "worker-1, 2026-10-01 09:12:44 +0000", lv["LV Creation host, time"])
	assert.Equal(t, "256", lv["- currently set to"])

	size, err := lv.Bytes("LV Size")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), size)
}

func TestParseDisplayMultipleRecords(t *testing.T) {
	second := strings.ReplaceAll(vgdisplayOutput, "vg0", "vg1")
	records, err := ParseVGDisplay(vgdisplayOutput + second)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Contains(t, records, "vg1")
}

func TestParseDisplayRejectsDrift(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"missing key", strings.Replace(vgdisplayOutput, "  Format                lvm2\n", "", 1)},
		{"shifted column", strings.Replace(vgdisplayOutput, "  Format                lvm2", "  Format               lvm2", 1)},
		{"empty value", strings.Replace(vgdisplayOutput, "  Format                lvm2", "  Format                ", 1)},
		{"short line", strings.Replace(vgdisplayOutput, "  Format                lvm2", "  Format", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVGDisplay(tt.out)
			assert.True(t, errors.IsFatal(err), "got %v", err)
		})
	}
}
