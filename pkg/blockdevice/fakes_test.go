package blockdevice

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/fly-io/layerstack/pkg/shell"
)

// fakeDevice is a device node known to the fake kernel.
type fakeDevice struct {
	path        string
	content     string // what file(1) prints
	size        int64
	granularity int64
	// child is the device an outer layer on this device opens to
	child string
}

// world is a fake kernel: device nodes answered through a fake shell, and
// the topology children it reports as already open.
type world struct {
	t        *testing.T
	sh       *shell.Fake
	env      *Env
	devices  map[string]*fakeDevice
	external map[string]string

	opened   []string
	closed   []string
	events   []string
	failOpen map[string]error
	// shortfall is how much slack data falls short of every resize
	shortfall int64
}

func newWorld(t *testing.T) *world {
	w := &world{
		t:        t,
		sh:       shell.NewFake(),
		devices:  map[string]*fakeDevice{},
		external: map[string]string{},
		failOpen: map[string]error{},
	}

	w.sh.AddBinary("blockdev", func(argv []string) (string, error) {
		d, err := w.device(argv[len(argv)-1])
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(d.size, 10) + "\n", nil
	})
	w.sh.AddBinary("file", func(argv []string) (string, error) {
		d, err := w.device(argv[len(argv)-1])
		if err != nil {
			return "", err
		}
		return d.path + ": " + d.content + "\n", nil
	})

	reg := NewRegistry()
	reg.Register("simple-outer", Signature("outer layer"), w.newSimpleOuter, false)
	reg.Register("simple-data", Signature("simple data"), w.newSimpleData, false)
	reg.Register("slack-data", Signature("slack data"), w.newSlackData, false)

	w.env = &Env{
		Shell:      w.sh,
		Registry:   reg,
		Topology:   fakeTopology{w},
		PathExists: func(p string) bool { _, ok := w.devices[p]; return ok },
	}
	return w
}

func (w *world) device(path string) (*fakeDevice, error) {
	d, ok := w.devices[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such device", path)
	}
	return d, nil
}

func (w *world) mustDevice(path string) *fakeDevice {
	d, err := w.device(path)
	if err != nil {
		w.t.Fatal(err)
	}
	return d
}

func (w *world) add(d *fakeDevice) *fakeDevice {
	if d.granularity == 0 {
		d.granularity = 1
	}
	w.devices[d.path] = d
	return d
}

// chain creates a stack /dev/l0 ... /dev/lN: every device but the last holds
// an outer layer opening to the next one, the last holds simple data.
func (w *world) chain(sizes, granularities []int64) *Device {
	for i, size := range sizes {
		d := &fakeDevice{path: fmt.Sprintf("/dev/l%d", i), size: size, content: "simple data"}
		if granularities != nil {
			d.granularity = granularities[i]
		}
		if i < len(sizes)-1 {
			d.content = "outer layer"
			d.child = fmt.Sprintf("/dev/l%d", i+1)
		}
		w.add(d)
	}

	dev, err := NewDevice(w.env, "/dev/l0", WithDriver(simpleDriver{w}))
	if err != nil {
		w.t.Fatal(err)
	}
	return dev
}

type fakeTopology struct {
	w *world
}

func (f fakeTopology) Child(_ context.Context, path string) (string, error) {
	return f.w.external[path], nil
}

// simpleDriver resizes fake device nodes.
type simpleDriver struct {
	w *world
}

func (s simpleDriver) Granularity(_ context.Context, path string) (int64, error) {
	d, err := s.w.device(path)
	if err != nil {
		return 0, err
	}
	return d.granularity, nil
}

func (s simpleDriver) Resize(_ context.Context, path string, size int64, _ ResizeRequest) error {
	d, err := s.w.device(path)
	if err != nil {
		return err
	}
	d.size = size
	s.w.events = append(s.w.events, "device "+path)
	return nil
}

// simpleInnerDriver opens an outer device to its configured child.
type simpleInnerDriver struct {
	simpleDriver
	outer string
}

func (s simpleInnerDriver) Open(_ context.Context, _ Params) (string, error) {
	d := s.w.mustDevice(s.outer)
	if err := s.w.failOpen[d.child]; err != nil {
		return "", err
	}
	s.w.opened = append(s.w.opened, d.child)
	return d.child, nil
}

func (s simpleInnerDriver) Close(_ context.Context, path string) error {
	s.w.closed = append(s.w.closed, path)
	return nil
}

// simpleOuter records its own size, starting from its device size.
type simpleOuter struct {
	BaseData
	w     *world
	size  int64
	inner *InnerLayer
}

func (w *world) newSimpleOuter(_ context.Context, dev BlockDevice) (Data, error) {
	path, err := dev.Path()
	if err != nil {
		return nil, err
	}

	o := &simpleOuter{BaseData: NewBaseData(dev, "simple-outer"), w: w, size: w.mustDevice(path).size}
	o.inner = NewInnerLayer(o, simpleInnerDriver{simpleDriver: simpleDriver{w}, outer: path}, nil)
	return o, nil
}

func (o *simpleOuter) Size(context.Context) (int64, error) {
	return o.size, nil
}

func (o *simpleOuter) Granularity(ctx context.Context) (int64, error) {
	return o.Device().Granularity(ctx)
}

func (o *simpleOuter) ResizeTo(ctx context.Context, size int64, req ResizeRequest) error {
	if err := ResizeOuter(ctx, o, size, req); err != nil {
		return err
	}
	o.size = size
	return nil
}

func (o *simpleOuter) Inner() *InnerLayer {
	return o.inner
}

// simpleData is terminal content that records its own size.
type simpleData struct {
	BaseData
	w    *world
	size int64
}

func (w *world) newSimpleData(_ context.Context, dev BlockDevice) (Data, error) {
	path, err := dev.Path()
	if err != nil {
		return nil, err
	}
	return &simpleData{BaseData: NewBaseData(dev, "simple-data"), w: w, size: w.mustDevice(path).size}, nil
}

func (d *simpleData) Size(context.Context) (int64, error) {
	return d.size, nil
}

func (d *simpleData) Granularity(ctx context.Context) (int64, error) {
	return d.Device().Granularity(ctx)
}

func (d *simpleData) ResizeTo(_ context.Context, size int64, _ ResizeRequest) error {
	path, _ := d.Device().Path()
	d.w.events = append(d.w.events, "data "+path)
	d.size = size
	return nil
}

// slackData reports less than it is given, within slackBytes.
type slackData struct {
	*simpleData
}

const slackBytes = 8

func (w *world) newSlackData(ctx context.Context, dev BlockDevice) (Data, error) {
	d, err := w.newSimpleData(ctx, dev)
	if err != nil {
		return nil, err
	}
	sd := d.(*simpleData)
	sd.BaseData = NewBaseData(dev, "slack-data")
	return &slackData{simpleData: sd}, nil
}

func (d *slackData) ResizeTo(ctx context.Context, size int64, req ResizeRequest) error {
	return d.simpleData.ResizeTo(ctx, size-d.w.shortfall, req)
}

func (d *slackData) Slack(context.Context) (int64, error) {
	return slackBytes, nil
}
