package blockdevice

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/fly-io/layerstack/pkg/errors"
)

// Probe is what recognizers inspect. The content signature is read at most
// once per classification.
type Probe struct {
	Device BlockDevice

	signature string
	err       error
	read      bool
}

// Signature returns the content description of the device.
func (p *Probe) Signature(ctx context.Context) (string, error) {
	if !p.read {
		p.signature, p.err = p.Device.Signature(ctx)
		p.read = true
	}
	return p.signature, p.err
}

// Recognizer reports whether a registered content type is present on a device.
type Recognizer func(ctx context.Context, p *Probe) (bool, error)

// Constructor builds the Data for a recognized device.
type Constructor func(ctx context.Context, dev BlockDevice) (Data, error)

// Signature recognizes devices whose content description contains substr.
func Signature(substr string) Recognizer {
	return func(ctx context.Context, p *Probe) (bool, error) {
		sig, err := p.Signature(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(sig, substr), nil
	}
}

type registration struct {
	name      string
	recognize Recognizer
	construct Constructor
}

// Registry is an ordered list of content types. The first recognizer that
// matches wins, so specific signatures must be registered with priority over
// generic ones.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// Default is the process-wide registry used by DefaultEnv.
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a content type. Priority types are tried before every type
// registered so far. Registering a name twice is a no-op.
func (r *Registry) Register(name string, recognize Recognizer, construct Constructor, priority bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.ContainsFunc(r.entries, func(e registration) bool { return e.name == name }) {
		return
	}

	e := registration{name: name, recognize: recognize, construct: construct}
	if priority {
		r.entries = slices.Insert(r.entries, 0, e)
	} else {
		r.entries = append(r.entries, e)
	}
	slog.Debug("content_type_registered", "name", name, "priority", priority)
}

// Names returns the registered content types in match order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Classify returns the name and constructor of the first content type present
// on dev. Unrecognized content yields an empty name and a nil constructor.
func (r *Registry) Classify(ctx context.Context, dev BlockDevice) (string, Constructor, error) {
	r.mu.RLock()
	entries := slices.Clone(r.entries)
	r.mu.RUnlock()

	probe := &Probe{Device: dev}
	for _, e := range entries {
		ok, err := e.recognize(ctx, probe)
		if err != nil {
			return "", nil, errors.Wrap(err, "classify "+e.name)
		}
		if ok {
			return e.name, e.construct, nil
		}
	}
	return "", nil, nil
}
