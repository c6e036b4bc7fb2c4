package audit

import (
	"github.com/rs/zerolog"
)

// optionalDict builds a nested dictionary that is only written to its parent
// when at least one field was set. Empty values are skipped.
type optionalDict struct {
	ev  *zerolog.Event
	set bool
}

func (d *optionalDict) dict() *zerolog.Event {
	if d.ev == nil {
		d.ev = zerolog.Dict()
	}
	d.set = true
	return d.ev
}

func (d *optionalDict) Str(key, val string) *optionalDict {
	if val != "" {
		d.dict().Str(key, val)
	}
	return d
}

func (d *optionalDict) Strs(key string, vals []string) *optionalDict {
	if len(vals) > 0 {
		d.dict().Strs(key, vals)
	}
	return d
}

func (d *optionalDict) Secrets(key string, uses []SecretUse) *optionalDict {
	if len(uses) == 0 {
		return d
	}

	arr := zerolog.Arr()
	for _, u := range uses {
		arr.Object(u)
	}
	d.dict().Array(key, arr)
	return d
}

// WriteTo adds the dictionary to parent under key, reporting whether it was
// written.
func (d *optionalDict) WriteTo(parent *zerolog.Event, key string) bool {
	if !d.set {
		return false
	}
	parent.Dict(key, d.ev)
	return true
}
