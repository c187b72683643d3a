package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fly-io/layerstack/pkg/errors"
)

const luks1Dump = `LUKS header information for /dev/sdb

Version:       	1
Cipher name:   	aes
Cipher mode:   	xts-plain64
Hash spec:     	sha256
Payload offset:	4096
MK bits:       	512
UUID:          	8a7f3c2e-1d4b-4e6f-9a0b-2c3d4e5f6a7b
`

const luks2Dump = `LUKS header information
Version:       	2
Epoch:         	3
Metadata area: 	16384 [bytes]
Keyslots area: 	16744448 [bytes]
UUID:          	0f6e2a4c-8b1d-4c3e-a5f7-9d2b4c6e8a0f
Label:         	(no label)
Subsystem:     	(no subsystem)
Flags:       	(no flags)

Data segments:
  0: crypt
	offset: 16777216 [bytes]
	length: (whole device)
	cipher: aes-xts-plain64
	sector: 512 [bytes]

Keyslots:
  0: luks2
	Key:        512 bits
	Area offset:32768 [bytes]
`

// TestParseHeader verifies both header versions yield the payload offset in bytes
func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(luks1Dump)
	require.NoError(t, err)
	assert.Equal(t, Header{Version: 1, Offset: 4096 * 512}, h)
	assert.Equal(t, int64(4<<20), h.MaxOffset())

	h, err = ParseHeader(luks2Dump)
	require.NoError(t, err)
	assert.Equal(t, Header{Version: 2, Offset: 16 << 20}, h)
	assert.Equal(t, int64(16<<20), h.MaxOffset())
}

// TestParseHeaderRejectsNonsense verifies unexpected dumps are invariant violations
func TestParseHeaderRejectsNonsense(t *testing.T) {
	tests := map[string]string{
		"no version":     "LUKS header information\nPayload offset:\t4096\n",
		"version 3":      "Version:\t3\n",
		"tiny offset":    "Version:\t1\nPayload offset:\t1\n",
		"huge offset":    "Version:\t1\nPayload offset:\t65536\n",
		"bad number":     "Version:\t1\nPayload offset:\tlots\n",
		"missing offset": "Version:\t2\nData segments:\n  0: crypt\n",
	}

	for name, dump := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHeader(dump)
			assert.True(t, errors.IsFatal(err), "got %v", err)
		})
	}
}
