package encryption

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Header describes the LUKS header of an encrypted device.
type Header struct {
	Version int
	// Offset is where the encrypted payload starts, in bytes.
	Offset int64
}

// MaxOffset is the largest payload offset a header of this version can have.
func (h Header) MaxOffset() int64 {
	if h.Version == 1 {
		return luks1MaxOffset
	}
	return luks2MaxOffset
}

// ReadHeader runs cryptsetup luksDump on device.
func ReadHeader(ctx context.Context, sh shell.Shell, device string) (Header, error) {
	out, err := sh.CheckOutput(ctx, "cryptsetup", "luksDump", device)
	if err != nil {
		return Header{}, errors.Wrap(err, "failed to read LUKS header")
	}

	h, err := ParseHeader(out)
	if err != nil {
		return Header{}, errors.Wrap(err, device)
	}
	return h, nil
}

// ParseHeader extracts the version and payload offset from luksDump output.
// LUKS1 reports the offset in sectors, LUKS2 in bytes per data segment; the
// first segment is used.
func ParseHeader(dump string) (Header, error) {
	var h Header
	inSegments := false

	sc := bufio.NewScanner(strings.NewReader(dump))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, ":")
		value = strings.TrimSpace(value)

		switch {
		case line == "Data segments:":
			inSegments = true
		case !ok:
			continue
		case key == "Version":
			v, err := strconv.Atoi(value)
			if err != nil {
				return Header{}, errors.E(errors.KindInvariant, "luks_header", line, err)
			}
			h.Version = v
		case key == "Payload offset" && h.Version == 1:
			sectors, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Header{}, errors.E(errors.KindInvariant, "luks_header", line, err)
			}
			h.Offset = sectors * SectorSize
		case key == "offset" && inSegments && h.Version == 2 && h.Offset == 0:
			bytes, _, _ := strings.Cut(value, " ")
			n, err := strconv.ParseInt(bytes, 10, 64)
			if err != nil {
				return Header{}, errors.E(errors.KindInvariant, "luks_header", line, err)
			}
			h.Offset = n
		}
	}

	if h.Version != 1 && h.Version != 2 {
		return Header{}, errors.New(errors.KindInvariant, "luks_header", "", "unsupported LUKS version %d", h.Version)
	}
	// the smallest LUKS1 header is 592 bytes
	if h.Offset < 592 || h.Offset > h.MaxOffset() {
		return Header{}, errors.New(errors.KindInvariant, "luks_header", "", "payload offset %d out of range for LUKS%d", h.Offset, h.Version)
	}
	return h, nil
}
