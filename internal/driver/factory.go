package driver

import (
	"context"
	"sync"
	"time"

	infraerrors "github.com/nestwatch/sentryd/infrastructure/errors"
	"github.com/nestwatch/sentryd/internal/model"
)

// builtins maps a descriptor's driver tag to the constructor that builds
// it. Family packages register themselves from their init functions, the
// same way database/sql drivers do, so this package never has to import
// its own subpackages; importing internal/driver/all pulls in every
// built-in family. The one tag wired here is "disabled", which belongs
// to no family.
var (
	builtinsMu sync.RWMutex
	builtins   = map[string]Constructor{
		"disabled": func(cfg Config) (Driver, error) {
			return newDisabled(cfg)
		},
	}
)

// Register adds a constructor under tag, replacing any existing one.
// Family packages call this from init; test suites use it to install
// controllable drivers behind ordinary descriptors.
func Register(tag string, ctor Constructor) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	builtins[tag] = ctor
}

// New builds the Driver a descriptor names, or a "disabled" stand-in
// driver if cfg.Descriptor.Disabled is set (unresolved secret
// references register the device as permanently offline rather than
// dropping it).
func New(cfg Config) (Driver, error) {
	if cfg.Descriptor.Disabled {
		return newDisabled(cfg)
	}
	builtinsMu.RLock()
	ctor, ok := builtins[cfg.Descriptor.Driver]
	builtinsMu.RUnlock()
	if !ok {
		return nil, infraerrors.UnknownDriver(cfg.Descriptor.Driver)
	}
	return ctor(cfg)
}

// KnownTags lists every driver tag the factory can construct, for config
// validation.
func KnownTags() []string {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	tags := make([]string, 0, len(builtins))
	for tag := range builtins {
		tags = append(tags, tag)
	}
	return tags
}

type disabledDriver struct {
	desc   model.Descriptor
	reason string
}

func newDisabled(cfg Config) (*disabledDriver, error) {
	reason := cfg.Descriptor.DisabledReason
	if reason == "" {
		reason = "device disabled"
	}
	return &disabledDriver{desc: cfg.Descriptor, reason: reason}, nil
}

func (d *disabledDriver) Probe(ctx context.Context) model.Reading {
	return model.Failed(d.desc.ID, model.CauseUnavailable, d.reason, time.Now().UTC())
}

func (d *disabledDriver) Act(ctx context.Context, action string, params map[string]any) ActResult {
	return Fail(model.CauseUnavailable, d.reason)
}

func (d *disabledDriver) Describe() Capabilities { return Capabilities{} }

func (d *disabledDriver) Close() error { return nil }
