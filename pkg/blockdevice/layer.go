package blockdevice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fly-io/layerstack/pkg/errors"
)

// InnerDriver implements the content-specific side of an inner layer, such as
// mapping and unmapping a decrypted device.
type InnerDriver interface {
	// Open creates the inner device and returns its path.
	Open(ctx context.Context, params Params) (string, error)
	Close(ctx context.Context, path string) error
	Granularity(ctx context.Context, path string) (int64, error)
	Resize(ctx context.Context, path string, size int64, req ResizeRequest) error
}

// Verifier is implemented by inner drivers with extra checks to run after open.
type Verifier interface {
	Verify(ctx context.Context, inner *InnerLayer) error
}

// OverheadLimiter is implemented by outer layers with their own overhead bound
// (exclusive).
type OverheadLimiter interface {
	OverheadLimit() int64
}

// InnerLayer is the block device exposed by an open OuterLayer. It has no path
// while closed.
type InnerLayer struct {
	*Device
	// outer owns this layer; the reference must not outlive it.
	outer  OuterLayer
	driver InnerDriver
	params ParamSet
	life   *Lifecycle
}

// NewInnerLayer pairs a closed inner layer with outer. Outer layers call it
// from their constructor. Accepted parameters come from the driver when it
// implements Parametrizable.
func NewInnerLayer(outer OuterLayer, driver InnerDriver, params Params, opts ...LifecycleOption) *InnerLayer {
	l := &InnerLayer{
		outer:  outer,
		driver: driver,
		Device: newUnsetDevice(outer.Device().Env(), innerResizer{driver}),
	}

	var accepted []string
	if p, ok := driver.(interface{ AcceptedParams() []string }); ok {
		accepted = p.AcceptedParams()
	}
	l.params = NewParamSet(accepted, params)

	base := []LifecycleOption{Named(l.subject()), OnOpen(l.onOpen), OnClose(l.onClose)}
	l.life = NewLifecycle(innerOpener{l}, append(base, opts...)...)
	return l
}

func (l *InnerLayer) subject() string {
	if path, err := l.outer.Device().Path(); err == nil {
		return fmt.Sprintf("%s inner of %s", l.outer.Kind(), path)
	}
	return l.outer.Kind() + " inner"
}

// Outer returns the layer this one was opened from.
func (l *InnerLayer) Outer() OuterLayer {
	return l.outer
}

func (l *InnerLayer) AcceptedParams() []string {
	return l.params.AcceptedParams()
}

func (l *InnerLayer) Params() Params {
	return l.params.Params()
}

// Open opens the inner device, or adopts it if something else already did.
// Call-time params override the construction ones.
func (l *InnerLayer) Open(ctx context.Context, params Params) (string, error) {
	return l.life.Open(ctx, params)
}

func (l *InnerLayer) Close(ctx context.Context) error {
	return l.life.Close(ctx)
}

func (l *InnerLayer) IsOpen() bool {
	return l.life.IsOpen()
}

func (l *InnerLayer) State() State {
	return l.life.State()
}

func (l *InnerLayer) IsExternallyOpen(ctx context.Context) (bool, error) {
	return l.life.IsExternallyOpen(ctx)
}

func (l *InnerLayer) onOpen(ctx context.Context, path string, ours bool) error {
	if err := l.Device.setPath(path); err != nil {
		return err
	}

	ov, err := Overhead(ctx, l.outer)
	if err != nil {
		return err
	}

	if v, ok := l.driver.(Verifier); ok {
		if err := v.Verify(ctx, l); err != nil {
			return err
		}
	}

	slog.Info("inner_layer_open", "kind", l.outer.Kind(), "path", path, "overhead", ov, "ours", ours)
	return nil
}

func (l *InnerLayer) onClose() {
	l.Device.setPath("")
}

func (l *InnerLayer) String() string {
	return fmt.Sprintf("InnerLayer<%s, %s>", l.outer.Kind(), l.life.State())
}

type innerOpener struct {
	l *InnerLayer
}

func (o innerOpener) OpenPrimitive(ctx context.Context, params Params) (string, error) {
	return o.l.driver.Open(ctx, o.l.params.Merge(params))
}

func (o innerOpener) ClosePrimitive(ctx context.Context) error {
	return o.l.driver.Close(ctx, o.l.life.st.path)
}

// ExternalPath asks the kernel whether something is already stacked on the
// outer device.
func (o innerOpener) ExternalPath(ctx context.Context) (string, error) {
	topo := o.l.env.Topology
	if topo == nil {
		return "", nil
	}

	outerPath, err := o.l.outer.Device().Path()
	if err != nil {
		return "", err
	}
	return topo.Child(ctx, outerPath)
}

type innerResizer struct {
	d InnerDriver
}

func (r innerResizer) Granularity(ctx context.Context, path string) (int64, error) {
	return r.d.Granularity(ctx, path)
}

func (r innerResizer) Resize(ctx context.Context, path string, size int64, req ResizeRequest) error {
	return r.d.Resize(ctx, path, size, req)
}

// Overhead is the number of bytes l adds on top of its open inner layer. It
// must be non-negative and below the layer's limit; anything else means the
// on-disk format was misread.
func Overhead(ctx context.Context, l OuterLayer) (int64, error) {
	outer, err := l.Size(ctx)
	if err != nil {
		return 0, err
	}
	inner, err := l.Inner().Size(ctx)
	if err != nil {
		return 0, err
	}

	limit := l.Device().Env().maxOverhead()
	if ol, ok := l.(OverheadLimiter); ok {
		limit = ol.OverheadLimit()
	}

	ov := outer - inner
	if ov < 0 || ov >= limit {
		slog.Error("overhead_out_of_bounds", "kind", l.Kind(), "outer", outer, "inner", inner, "limit", limit)
		return 0, errors.New(errors.KindInvariant, "overhead", describe(l), "overhead %d outside [0, %d)", ov, limit)
	}
	return ov, nil
}

// ResizeOuter resizes an outer layer by resizing its inner layer to size minus
// the current overhead. A maximum request grows the inner device whatever it
// holds; a minimum request is refused while the inner device holds content.
func ResizeOuter(ctx context.Context, l OuterLayer, size int64, req ResizeRequest) error {
	inner := l.Inner()
	switch {
	case req.Maximum:
		return inner.ResizeTo(ctx, 0, req.WithoutData())
	case req.Minimum:
		return inner.ResizeTo(ctx, 0, req)
	}

	ov, err := Overhead(ctx, l)
	if err != nil {
		return err
	}
	return ResizeLayer(ctx, inner, size-ov)
}

// ResizeLayer resizes dev and its content to size, in the order that never
// leaves content larger than its device: device first when growing, content
// first when shrinking. Both resizes are exact.
func ResizeLayer(ctx context.Context, dev BlockDevice, size int64) error {
	current, err := dev.Size(ctx)
	if err != nil {
		return err
	}

	data, err := dev.Data(ctx)
	if err != nil {
		return err
	}

	resizeDevice := func() error {
		if current == size {
			return nil
		}
		return Resize(ctx, dev, To(size).Exact().WithoutData())
	}
	resizeData := func() error {
		if data == nil {
			return nil
		}
		return Resize(ctx, data, To(size).Exact())
	}

	steps := []func() error{resizeData, resizeDevice}
	if size > current {
		steps = []func() error{resizeDevice, resizeData}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return errors.Wrap(err, fmt.Sprintf("resize %s", describe(dev)))
		}
	}
	return nil
}
