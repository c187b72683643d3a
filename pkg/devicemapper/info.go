package devicemapper

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

var infoLine = regexp.MustCompile(`(?m)^(.*?): +(.*)$`)

// Info is a parsed dmsetup info block. Numeric values are stored as int,
// everything else as string.
type Info map[string]any

// ParseInfo parses the key: value block printed by dmsetup info.
func ParseInfo(output string) (Info, error) {
	info := Info{}
	for _, m := range infoLine.FindAllStringSubmatch(output, -1) {
		key, value := m[1], m[2]
		if n, err := strconv.Atoi(value); err == nil {
			info[key] = n
			continue
		}
		info[key] = value
	}

	for _, k := range infoKeys {
		if _, ok := info[k]; !ok {
			return nil, errors.New(errors.KindInvariant, "parse_dminfo", "", "missing key %q", k)
		}
	}
	return info, nil
}

// Get returns the value of key formatted as a string.
func (i Info) Get(key string) string {
	switch v := i[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// Name is the device-mapper name of the device.
func (i Info) Name() string {
	return i.Get("Name")
}

// OpenCount is the number of holders of the mapping.
func (i Info) OpenCount() int {
	n, _ := i["Open count"].(int)
	return n
}

// DMInfo runs dmsetup info on path.
func DMInfo(ctx context.Context, sh shell.Shell, path string) (Info, error) {
	out, err := sh.CheckOutput(ctx, "dmsetup", "info", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query device-mapper")
	}

	info, err := ParseInfo(out)
	if err != nil {
		slog.Error("dminfo_parse_failed", "path", path, "error", err)
		return nil, err
	}
	return info, nil
}
