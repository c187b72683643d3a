package blockdevice

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/hashicorp/go-multierror"

	"github.com/fly-io/layerstack/pkg/errors"
)

// State is the lifecycle state of an Openable.
type State int

const (
	Closed State = iota
	// OpenedByUs: this process opened the kernel resource and must close it.
	OpenedByUs
	// OpenedExternally: the resource was already there; closing only forgets it.
	OpenedExternally
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case OpenedByUs:
		return "open"
	case OpenedExternally:
		return "open (external)"
	default:
		return "unknown"
	}
}

// Openable is an object with an open/close lifecycle.
type Openable interface {
	Open(ctx context.Context, params Params) (string, error)
	Close(ctx context.Context) error
	IsOpen() bool
	IsExternallyOpen(ctx context.Context) (bool, error)
}

// Opener provides the primitives a Lifecycle drives.
type Opener interface {
	// OpenPrimitive opens the resource and returns its path.
	OpenPrimitive(ctx context.Context, params Params) (string, error)
	ClosePrimitive(ctx context.Context) error
	// ExternalPath returns the path of the resource if it is open according to
	// the kernel, or "".
	ExternalPath(ctx context.Context) (string, error)
}

// OpenHook runs after every open. ours is false for an externally open
// resource. A hook error undoes the open.
type OpenHook func(ctx context.Context, path string, ours bool) error

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// Exclusive refuses to adopt a resource that is already open.
func Exclusive() LifecycleOption {
	return func(l *Lifecycle) { l.exclusive = true }
}

// Reentrant is reserved: a reentrant lifecycle rejects nested opens as unsupported.
func Reentrant() LifecycleOption {
	return func(l *Lifecycle) { l.reentrant = true }
}

// OnOpen installs the open hook.
func OnOpen(h OpenHook) LifecycleOption {
	return func(l *Lifecycle) { l.onOpen = h }
}

// OnClose installs a function run after every close, including undone opens.
func OnClose(f func()) LifecycleOption {
	return func(l *Lifecycle) { l.onClose = f }
}

// Named sets the subject used in logs and errors.
func Named(name string) LifecycleOption {
	return func(l *Lifecycle) { l.st.subject = name }
}

type lifecycleState struct {
	state   State
	path    string
	subject string
}

// Lifecycle implements Openable on top of an Opener. It never opens a resource
// twice and never closes one it did not open.
type Lifecycle struct {
	opener    Opener
	exclusive bool
	reentrant bool
	onOpen    OpenHook
	onClose   func()
	st        *lifecycleState
}

// NewLifecycle returns a closed lifecycle. A lifecycle collected while open is
// reported as leaked.
func NewLifecycle(opener Opener, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{opener: opener, st: &lifecycleState{}}
	for _, opt := range opts {
		opt(l)
	}

	runtime.AddCleanup(l, func(st *lifecycleState) {
		if st.state != Closed {
			slog.Warn("openable_leaked", "subject", st.subject, "path", st.path, "state", st.state.String())
		}
	}, l.st)
	return l
}

func (l *Lifecycle) State() State {
	return l.st.state
}

func (l *Lifecycle) IsOpen() bool {
	return l.st.state != Closed
}

// Path returns the path recorded by the last open.
func (l *Lifecycle) Path() (string, error) {
	if l.st.state == Closed {
		return "", errors.New(errors.KindNotReady, "path", l.st.subject, "not open")
	}
	return l.st.path, nil
}

func (l *Lifecycle) IsExternallyOpen(ctx context.Context) (bool, error) {
	switch l.st.state {
	case OpenedExternally:
		return true, nil
	case OpenedByUs:
		return false, nil
	}

	path, err := l.opener.ExternalPath(ctx)
	if err != nil {
		return false, err
	}
	return path != "", nil
}

// Open opens the resource, or adopts it when the kernel already has it open.
func (l *Lifecycle) Open(ctx context.Context, params Params) (string, error) {
	if l.st.state != Closed {
		if l.reentrant {
			return "", errors.New(errors.KindUnsupported, "open", l.st.subject, "reentrant open is not supported")
		}
		return "", errors.New(errors.KindAlreadyOpen, "open", l.st.subject, "already opened by this process")
	}

	path, err := l.opener.ExternalPath(ctx)
	if err != nil {
		return "", err
	}

	ours := path == ""
	if !ours {
		if l.exclusive {
			return "", errors.New(errors.KindAlreadyOpen, "open", l.st.subject, "already opened externally at %s", path)
		}
		slog.Info("openable_adopted", "subject", l.st.subject, "path", path)
		l.st.state = OpenedExternally
	} else {
		if path, err = l.opener.OpenPrimitive(ctx, params); err != nil {
			slog.Error("openable_open_failed", "subject", l.st.subject, "error", err)
			return "", err
		}
		l.st.state = OpenedByUs
	}
	l.st.path = path

	if l.onOpen != nil {
		if err := l.onOpen(ctx, path, ours); err != nil {
			slog.Error("openable_open_hook_failed", "subject", l.st.subject, "path", path, "error", err)
			return "", l.undo(ctx, ours, err)
		}
	}

	slog.Debug("openable_open", "subject", l.st.subject, "path", path, "ours", ours)
	return path, nil
}

func (l *Lifecycle) undo(ctx context.Context, ours bool, cause error) error {
	result := multierror.Append(nil, cause)
	if ours {
		if err := l.opener.ClosePrimitive(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	l.reset()
	return result.ErrorOrNil()
}

// Close releases the resource. Closing a closed lifecycle fails with
// ErrAlreadyClosed, which also matches ErrAlreadyOpen.
func (l *Lifecycle) Close(ctx context.Context) error {
	switch l.st.state {
	case Closed:
		return errors.New(errors.KindAlreadyClosed, "close", l.st.subject, "not open")
	case OpenedByUs:
		if err := l.opener.ClosePrimitive(ctx); err != nil {
			slog.Error("openable_close_failed", "subject", l.st.subject, "error", err)
			return err
		}
	case OpenedExternally:
		slog.Info("openable_released", "subject", l.st.subject, "path", l.st.path)
	}

	l.reset()
	slog.Debug("openable_closed", "subject", l.st.subject)
	return nil
}

func (l *Lifecycle) reset() {
	l.st.state = Closed
	l.st.path = ""
	if l.onClose != nil {
		l.onClose()
	}
}

// WithOpen opens o, runs fn and always closes o again.
func WithOpen(ctx context.Context, o Openable, params Params, fn func() error) (err error) {
	if _, err := o.Open(ctx, params); err != nil {
		return err
	}
	defer func() {
		if cerr := o.Close(ctx); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()
	return fn()
}
