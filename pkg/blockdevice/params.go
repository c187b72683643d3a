package blockdevice

import (
	"log/slog"
	"maps"
	"slices"
)

// Params are string options passed to layer constructors and open calls, such
// as a key file for an encrypted volume.
type Params map[string]string

// Parametrizable is implemented by objects that take Params.
type Parametrizable interface {
	AcceptedParams() []string
	Params() Params
}

// ParamSet keeps only the parameters an object accepts.
type ParamSet struct {
	accepted []string
	values   Params
}

// NewParamSet filters given down to accepted. Dropped keys are logged.
func NewParamSet(accepted []string, given Params) ParamSet {
	p := ParamSet{accepted: slices.Clone(accepted), values: Params{}}
	for k, v := range given {
		if !slices.Contains(accepted, k) {
			slog.Warn("param_ignored", "key", k, "accepted", accepted)
			continue
		}
		p.values[k] = v
	}
	return p
}

func (p ParamSet) AcceptedParams() []string {
	return slices.Clone(p.accepted)
}

// Params returns a copy of the kept parameters.
func (p ParamSet) Params() Params {
	return maps.Clone(p.values)
}

// Get returns the value of key, or "" when unset.
func (p ParamSet) Get(key string) string {
	return p.values[key]
}

// Merge returns the kept parameters overridden by the accepted keys of call.
func (p ParamSet) Merge(call Params) Params {
	merged := p.Params()
	if merged == nil {
		merged = Params{}
	}
	for k, v := range call {
		if !slices.Contains(p.accepted, k) {
			slog.Debug("param_ignored", "key", k)
			continue
		}
		merged[k] = v
	}
	return merged
}
