package blockdevice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fly-io/layerstack/pkg/errors"
)

// Resizable is anything with a byte size that can be changed in steps of its
// granularity.
type Resizable interface {
	Size(ctx context.Context) (int64, error)
	// Granularity is the unit, in bytes, sizes must be a multiple of.
	Granularity(ctx context.Context) (int64, error)
	// ResizeTo applies an already validated size. For minimum and maximum
	// requests size is zero.
	ResizeTo(ctx context.Context, size int64, req ResizeRequest) error
}

// ResizeRequest describes a resize. Exactly one of Size, Minimum and Maximum
// must be set. Build one with To, By, ToMinimum or ToMaximum.
type ResizeRequest struct {
	Size     int64
	Relative bool
	Minimum  bool
	Maximum  bool

	Interactive bool
	// Approximate allows rounding sizes that are not a multiple of the granularity.
	Approximate bool
	RoundUp     bool
	// NoData allows resizing a device whose content is recognized, leaving the
	// content untouched.
	NoData bool
}

// To requests an absolute size, rounded up to the granularity.
func To(size int64) ResizeRequest {
	return ResizeRequest{Size: size, Interactive: true, Approximate: true, RoundUp: true}
}

// By requests the current size plus delta.
func By(delta int64) ResizeRequest {
	r := To(delta)
	r.Relative = true
	return r
}

// ToMinimum requests the smallest size the object supports.
func ToMinimum() ResizeRequest {
	return ResizeRequest{Minimum: true, Interactive: true}
}

// ToMaximum requests the largest size the object supports.
func ToMaximum() ResizeRequest {
	return ResizeRequest{Maximum: true, Interactive: true}
}

// Exact fails instead of rounding.
func (r ResizeRequest) Exact() ResizeRequest {
	r.Approximate = false
	return r
}

func (r ResizeRequest) RoundDown() ResizeRequest {
	r.RoundUp = false
	return r
}

func (r ResizeRequest) NonInteractive() ResizeRequest {
	r.Interactive = false
	return r
}

func (r ResizeRequest) WithoutData() ResizeRequest {
	r.NoData = true
	return r
}

func (r ResizeRequest) String() string {
	switch {
	case r.Minimum:
		return "minimum"
	case r.Maximum:
		return "maximum"
	case r.Relative:
		return fmt.Sprintf("%+d", r.Size)
	default:
		return fmt.Sprintf("%d", r.Size)
	}
}

// Validate checks that the request names exactly one target. A relative
// request always names a size, even a zero delta.
func (r ResizeRequest) Validate() error {
	n := 0
	for _, set := range []bool{r.Relative || r.Size != 0, r.Minimum, r.Maximum} {
		if set {
			n++
		}
	}
	if n != 1 {
		return errors.New(errors.KindInvalidArgument, "resize", r.String(), "exactly one of size, minimum or maximum must be given")
	}
	if r.Relative && (r.Minimum || r.Maximum) {
		return errors.New(errors.KindInvalidArgument, "resize", r.String(), "relative resize needs a size")
	}
	if !r.Relative && r.Size < 0 {
		return errors.New(errors.KindInvalidArgument, "resize", r.String(), "negative size")
	}
	return nil
}

// TargetSize computes the size a request resolves to. Relative deltas are
// added to current before rounding.
func TargetSize(current, granularity int64, r ResizeRequest) (int64, error) {
	if granularity <= 0 {
		return 0, errors.New(errors.KindInvariant, "resize", r.String(), "granularity %d is not positive", granularity)
	}

	target := r.Size
	if r.Relative {
		target += current
	}

	if rem := target % granularity; rem != 0 {
		if !r.Approximate {
			return 0, errors.New(errors.KindWrongSize, "resize", r.String(), "%d is not a multiple of the resize granularity (%d)", target, granularity)
		}
		target -= rem
		if r.RoundUp {
			target += granularity
		}
	}

	if target <= 0 {
		return 0, errors.New(errors.KindInvalidArgument, "resize", r.String(), "resulting size %d is not positive", target)
	}
	return target, nil
}

// Resize runs the resize protocol on r: validate, round, apply, then check the
// object really reports the new size.
func Resize(ctx context.Context, r Resizable, req ResizeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if req.Minimum || req.Maximum {
		slog.Debug("resize", "object", describe(r), "request", req.String())
		return r.ResizeTo(ctx, 0, req)
	}

	var current int64
	if req.Relative {
		var err error
		if current, err = r.Size(ctx); err != nil {
			return err
		}
	}

	g, err := r.Granularity(ctx)
	if err != nil {
		return err
	}

	target, err := TargetSize(current, g, req)
	if err != nil {
		return err
	}

	slog.Debug("resize", "object", describe(r), "request", req.String(), "target", target, "granularity", g)
	if err := r.ResizeTo(ctx, target, req); err != nil {
		return err
	}

	got, err := r.Size(ctx)
	if err != nil {
		return err
	}
	ok, err := sizeMatches(ctx, r, target, got)
	if err != nil {
		return err
	}
	if !ok {
		slog.Error("resize_size_mismatch", "object", describe(r), "want", target, "got", got)
		return errors.New(errors.KindInvariant, "resize", describe(r), "resized to %d but size is %d", target, got)
	}
	return nil
}

// Slacker is implemented by objects whose reported size may fall short of the
// size they were given, such as an LVM physical volume, which reports only its
// whole extents. Slack bounds the shortfall (exclusive).
type Slacker interface {
	Slack(ctx context.Context) (int64, error)
}

// sizeMatches reports whether got is an acceptable size for an object given
// want bytes: exactly want, or within its slack below want.
func sizeMatches(ctx context.Context, v any, want, got int64) (bool, error) {
	if got == want {
		return true, nil
	}
	sl, ok := v.(Slacker)
	if !ok || got > want {
		return false, nil
	}
	slack, err := sl.Slack(ctx)
	if err != nil {
		return false, err
	}
	return want-got < slack, nil
}

func describe(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", v)
}
