// Package lvm manages LVM physical volumes, volume groups and logical volumes
// through the LVM command line tools.
package lvm

import (
	"context"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// Record is one section of pvdisplay, vgdisplay or lvdisplay output.
type Record map[string]string

// Bytes converts a size field such as "4.00 MiB" or "<1.50 GiB" into bytes.
// Compound values ("256 / 1.00 GiB") are rejected.
func (r Record) Bytes(key string) (int64, error) {
	v, ok := r[key]
	if !ok {
		return 0, errors.New(errors.KindInvariant, "lvm_display", key, "field missing")
	}

	v = strings.TrimPrefix(strings.TrimSpace(v), "<")
	if len(strings.Fields(v)) > 2 {
		return 0, errors.New(errors.KindInvalidArgument, "lvm_display", key, "%q is not a single size", v)
	}

	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, errors.E(errors.KindInvariant, "lvm_display", key, err)
	}
	return int64(n), nil
}

type display struct {
	command   string
	separator string
	nameKey   string
	// column is where the value starts
	column   int
	expected []string
	// mayBeEmpty keys are printed without a value when unset
	mayBeEmpty []string
}

var pvDisplay = display{
	command:    "pvdisplay",
	separator:  "Physical volume ---",
	nameKey:    "PV Name",
	column:     24,
	expected:   []string{"PV Name", "VG Name", "PV Size", "Allocatable", "PE Size", "Total PE", "Free PE", "Allocated PE", "PV UUID"},
	mayBeEmpty: []string{"VG Name"},
}

var vgDisplay = display{
	command:   "vgdisplay",
	separator: "--- Volume group ---",
	nameKey:   "VG Name",
	column:    24,
	expected: []string{"VG Name", "System ID", "Format", "Metadata Areas", "Metadata Sequence No",
		"VG Access", "VG Status", "MAX LV", "Cur LV", "Open LV", "Max PV", "Cur PV", "Act PV",
		"VG Size", "PE Size", "Total PE", "Alloc PE / Size", "Free  PE / Size", "VG UUID"},
	mayBeEmpty: []string{"System ID"},
}

var lvDisplay = display{
	command:   "lvdisplay",
	separator: "--- Logical volume ---",
	nameKey:   "LV Path",
	column:    25,
	expected: []string{"LV Path", "LV Name", "VG Name", "LV UUID", "LV Write Access",
		"LV Creation host, time", "LV Status", "# open", "LV Size", "Current LE", "Segments",
		"Allocation", "Read ahead sectors", "Block device"},
}

// parse splits display output into records keyed by the display's name field.
func (d display) parse(out string) (map[string]Record, error) {
	records := map[string]Record{}
	var cur Record

	finish := func() error {
		if cur == nil {
			return nil
		}
		for _, k := range d.expected {
			if _, ok := cur[k]; !ok {
				return errors.New(errors.KindInvariant, d.command, k, "expected key missing")
			}
		}
		records[cur[d.nameKey]] = cur
		return nil
	}

	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.Contains(line, d.separator) {
			if err := finish(); err != nil {
				return nil, err
			}
			cur = Record{}
			continue
		}
		if cur == nil {
			// preamble such as `"/dev/sdc" is a new physical volume`
			continue
		}

		key, value, err := d.parseLine(line)
		if err != nil {
			return nil, err
		}
		cur[key] = value
	}

	if err := finish(); err != nil {
		return nil, err
	}
	return records, nil
}

func (d display) parseLine(line string) (string, string, error) {
	if len(line) <= d.column {
		key := strings.TrimSpace(line)
		if slices.Contains(d.mayBeEmpty, key) {
			return key, "", nil
		}
		return "", "", errors.New(errors.KindInvariant, d.command, line, "line too short")
	}

	if !strings.HasPrefix(line, "  ") || line[2] == ' ' || line[d.column-1] != ' ' {
		return "", "", errors.New(errors.KindInvariant, d.command, line, "unexpected layout")
	}

	key := strings.TrimSpace(line[:d.column])
	value := strings.TrimSpace(line[d.column:])
	if value == "" && !slices.Contains(d.mayBeEmpty, key) {
		return "", "", errors.New(errors.KindInvariant, d.command, line, "missing value")
	}
	return key, value, nil
}

func (d display) run(ctx context.Context, sh shell.Shell, args ...string) (map[string]Record, error) {
	out, err := sh.CheckOutput(ctx, append([]string{d.command}, args...)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run "+d.command)
	}
	return d.parse(out)
}

// ParsePVDisplay parses pvdisplay output, keyed by PV name.
func ParsePVDisplay(out string) (map[string]Record, error) {
	return pvDisplay.parse(out)
}

// ParseVGDisplay parses vgdisplay output, keyed by VG name.
func ParseVGDisplay(out string) (map[string]Record, error) {
	return vgDisplay.parse(out)
}

// ParseLVDisplay parses lvdisplay output, keyed by LV path.
func ParseLVDisplay(out string) (map[string]Record, error) {
	return lvDisplay.parse(out)
}

// VGDisplay runs vgdisplay.
func VGDisplay(ctx context.Context, sh shell.Shell) (map[string]Record, error) {
	return vgDisplay.run(ctx, sh)
}

// PVDisplay runs pvdisplay.
func PVDisplay(ctx context.Context, sh shell.Shell) (map[string]Record, error) {
	return pvDisplay.run(ctx, sh)
}

// LVDisplay runs lvdisplay.
func LVDisplay(ctx context.Context, sh shell.Shell) (map[string]Record, error) {
	return lvDisplay.run(ctx, sh)
}
