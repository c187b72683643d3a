package blockdevice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/fly-io/layerstack/pkg/errors"
)

// Stack is the chain of layers from an outermost device down to its innermost
// content, such as LV -> LUKS -> decrypted mapping -> ext4. Layers are
// discovered on Open.
type Stack struct {
	outermost BlockDevice
	inners    []*InnerLayer
	open      bool
}

// NewStack returns a closed stack rooted at outermost.
func NewStack(outermost BlockDevice) *Stack {
	return &Stack{outermost: outermost}
}

// Outermost is known even while the stack is closed.
func (s *Stack) Outermost() BlockDevice {
	return s.outermost
}

func (s *Stack) IsOpen() bool {
	return s.open
}

// Open opens every inner layer from the outside in. If one fails the layers
// already opened are closed again and the original error is returned.
func (s *Stack) Open(ctx context.Context, params Params) error {
	if s.IsOpen() {
		return errors.New(errors.KindAlreadyOpen, "stack_open", describe(s.outermost), "stack is already open")
	}

	var dev BlockDevice = s.outermost
	var opened []*InnerLayer
	for {
		outer, err := outerLayerOf(ctx, dev)
		if err != nil {
			s.rollback(ctx, opened)
			return err
		}
		if outer == nil {
			break
		}

		inner := outer.Inner()
		if _, err := inner.Open(ctx, params); err != nil {
			slog.Error("stack_open_failed", "layer", len(opened)+1, "kind", outer.Kind(), "error", err)
			s.rollback(ctx, opened)
			return err
		}
		opened = append(opened, inner)
		dev = inner
	}

	s.inners = opened
	s.open = true
	slog.Info("stack_open", "device", describe(s.outermost), "layers", len(opened)+1)
	return nil
}

func outerLayerOf(ctx context.Context, dev BlockDevice) (OuterLayer, error) {
	data, err := dev.Data(ctx)
	if err != nil {
		return nil, err
	}
	outer, _ := data.(OuterLayer)
	return outer, nil
}

func (s *Stack) rollback(ctx context.Context, opened []*InnerLayer) {
	for _, inner := range slices.Backward(opened) {
		if err := inner.Close(ctx); err != nil {
			slog.Error("stack_rollback_failed", "layer", inner.String(), "error", err)
		}
	}
}

// Close closes every inner layer from the inside out. Layers that fail to
// close stay open, and so does the stack.
func (s *Stack) Close(ctx context.Context) error {
	if !s.IsOpen() {
		return errors.New(errors.KindAlreadyClosed, "stack_close", describe(s.outermost), "stack is not open")
	}

	var result *multierror.Error
	var stillOpen []*InnerLayer
	for _, inner := range slices.Backward(s.inners) {
		if err := inner.Close(ctx); err != nil {
			result = multierror.Append(result, err)
			stillOpen = append(stillOpen, inner)
		}
	}
	slices.Reverse(stillOpen)
	s.inners = stillOpen
	s.open = len(stillOpen) > 0

	if err := result.ErrorOrNil(); err != nil {
		slog.Error("stack_close_failed", "device", describe(s.outermost), "error", err)
		return err
	}
	slog.Info("stack_closed", "device", describe(s.outermost))
	return nil
}

// WithOpen opens the stack, runs fn and always closes the stack again.
func (s *Stack) WithOpen(ctx context.Context, params Params, fn func(*Stack) error) (err error) {
	if err := s.Open(ctx, params); err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()
	return fn(s)
}

// Layers returns every block device of the open stack, outermost first.
func (s *Stack) Layers() ([]BlockDevice, error) {
	if !s.IsOpen() {
		return nil, errors.New(errors.KindNotReady, "layers", describe(s.outermost), "stack is not open")
	}

	layers := []BlockDevice{s.outermost}
	for _, inner := range s.inners {
		layers = append(layers, inner)
	}
	return layers, nil
}

// Innermost returns the deepest block device of the open stack.
func (s *Stack) Innermost() (BlockDevice, error) {
	if !s.IsOpen() {
		return nil, errors.New(errors.KindNotReady, "innermost", describe(s.outermost), "stack is not open")
	}
	if len(s.inners) == 0 {
		return s.outermost, nil
	}
	return s.inners[len(s.inners)-1], nil
}

// Size is the size of the outermost device.
func (s *Stack) Size(ctx context.Context) (int64, error) {
	return s.outermost.Size(ctx)
}

// TotalOverhead sums the overhead of every layer pair.
func (s *Stack) TotalOverhead(ctx context.Context) (int64, error) {
	if !s.IsOpen() {
		return 0, errors.New(errors.KindNotReady, "total_overhead", describe(s.outermost), "stack is not open")
	}

	var total int64
	for _, inner := range s.inners {
		ov, err := Overhead(ctx, inner.Outer())
		if err != nil {
			return 0, err
		}
		total += ov
	}
	return total, nil
}

// Granularity is the least common multiple of the granularity of every layer
// and of its content, so any stack size is valid for all of them.
func (s *Stack) Granularity(ctx context.Context) (int64, error) {
	layers, err := s.Layers()
	if err != nil {
		return 0, err
	}

	g := int64(1)
	for _, layer := range layers {
		lg, err := layer.Granularity(ctx)
		if err != nil {
			return 0, err
		}
		g = lcm(g, lg)

		data, err := layer.Data(ctx)
		if err != nil {
			return 0, err
		}
		if data == nil {
			continue
		}
		dg, err := data.Granularity(ctx)
		if err != nil {
			return 0, err
		}
		g = lcm(g, dg)
	}
	return g, nil
}

// ResizeTo resizes the outermost layer; every outer layer forwards the size
// minus its overhead inwards. The stack is verified afterwards.
func (s *Stack) ResizeTo(ctx context.Context, size int64, req ResizeRequest) error {
	if req.Minimum || req.Maximum {
		return errors.New(errors.KindUnsupported, "stack_resize", describe(s.outermost), "%s resize of a whole stack", req.String())
	}

	slog.Info("stack_resize", "device", describe(s.outermost), "size", size)
	if err := ResizeLayer(ctx, s.outermost, size); err != nil {
		return err
	}
	return s.Verify(ctx)
}

// Resize runs the resize protocol on the whole stack.
func (s *Stack) Resize(ctx context.Context, req ResizeRequest) error {
	return Resize(ctx, s, req)
}

// Verify checks that every layer has the same size as its content, allowing
// content that implements Slacker to fall short by less than its slack.
func (s *Stack) Verify(ctx context.Context) error {
	layers, err := s.Layers()
	if err != nil {
		return err
	}

	for _, layer := range layers {
		size, err := layer.Size(ctx)
		if err != nil {
			return err
		}
		data, err := layer.Data(ctx)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		dsize, err := data.Size(ctx)
		if err != nil {
			return err
		}
		ok, err := sizeMatches(ctx, data, size, dsize)
		if err != nil {
			return err
		}
		if !ok {
			slog.Error("stack_inconsistent", "layer", describe(layer), "size", size, "data_size", dsize)
			return errors.New(errors.KindInvariant, "stack_verify", describe(layer), "layer size %d differs from %s size %d", size, data.Kind(), dsize)
		}
	}
	return nil
}

// LayerSizes is the size of a layer and of its content (-1 when unrecognized).
type LayerSizes struct {
	Layer int64
	Data  int64
}

// LayerAndDataSizes returns the sizes of every layer of the open stack and of
// its content, outermost first.
func (s *Stack) LayerAndDataSizes(ctx context.Context) ([]LayerSizes, error) {
	layers, err := s.Layers()
	if err != nil {
		return nil, err
	}

	sizes := make([]LayerSizes, 0, len(layers))
	for _, layer := range layers {
		ls := LayerSizes{Data: -1}
		if ls.Layer, err = layer.Size(ctx); err != nil {
			return nil, err
		}
		data, err := layer.Data(ctx)
		if err != nil {
			return nil, err
		}
		if data != nil {
			if ls.Data, err = data.Size(ctx); err != nil {
				return nil, err
			}
		}
		sizes = append(sizes, ls)
	}
	return sizes, nil
}

func (s *Stack) String() string {
	return fmt.Sprintf("Stack<%s>", describe(s.outermost))
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return max(a, b)
	}
	return a / gcd(a, b) * b
}
