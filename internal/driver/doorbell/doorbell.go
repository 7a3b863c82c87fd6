// Package doorbell implements the doorbell driver: a camera-style
// online/firmware view plus a button-press counter. It is kept distinct
// from the camera family because its tool-call surface is queried by a
// dedicated dispatcher tool.
package doorbell

import (
	"context"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

const DriverTag = "doorbell_generic"

func init() { driver.Register(DriverTag, New) }

type Driver struct {
	desc model.Descriptor

	mu      sync.Mutex
	tick    int64
	presses int
}

func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{desc: cfg.Descriptor}, nil
}

func (d *Driver) mock() bool { return d.desc.Mock || d.desc.Host == "" }

func (d *Driver) Probe(ctx context.Context) model.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	now := time.Now().UTC()

	if !d.mock() {
		return model.Failed(d.desc.ID, model.CauseTransport, "live doorbell polling not configured for this host", now)
	}

	rng := driver.MockSource(d.desc.ID, d.tick)
	if rng.Intn(20) == 0 {
		d.presses++
	}
	payload := model.DoorbellPayload{
		Online:        true,
		LastFrameAt:   now.Unix(),
		ButtonPresses: d.presses,
	}
	return model.Success(d.desc.ID, payload, now)
}

func (d *Driver) Act(ctx context.Context, action string, params map[string]any) driver.ActResult {
	if d.desc.ReadOnly {
		return driver.Fail(model.CauseUnavailable, "device is configured read-only")
	}

	switch action {
	case "snapshot":
		return driver.Ok(map[string]any{"media_type": "image/jpeg", "bytes": 0})
	default:
		return driver.Fail(model.CauseProtocol, "unknown action: "+action)
	}
}

func (d *Driver) Describe() driver.Capabilities {
	return driver.Capabilities{Actions: []driver.ActionSpec{{Name: "snapshot"}}}
}

func (d *Driver) Close() error { return nil }
