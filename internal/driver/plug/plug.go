// Package plug implements the smart-plug driver: on/off state
// plus instantaneous and cumulative power telemetry.
package plug

import (
	"context"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

const DriverTag = "plug_generic"

func init() { driver.Register(DriverTag, New) }

type Driver struct {
	desc       model.Descriptor
	credential string

	mu              sync.Mutex
	tick            int64
	on              bool
	cumulativeWh    float64
}

func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{desc: cfg.Descriptor, credential: cfg.Credential, on: true}, nil
}

func (d *Driver) mock() bool { return d.desc.Mock || d.desc.Host == "" }

func (d *Driver) Probe(ctx context.Context) model.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	now := time.Now().UTC()

	if !d.mock() {
		// Live polling would issue a vendor-specific request here; no real
		// plug backends are wired for this exercise, so every non-mock
		// descriptor reports transport failure, reachable host or not.
		return model.Failed(d.desc.ID, model.CauseTransport, "live plug polling not configured for this host", now)
	}

	rng := driver.MockSource(d.desc.ID, d.tick)
	power := 0.0
	if d.on {
		power = 20 + rng.Float64()*180 // watts, plausible small-appliance range
		d.cumulativeWh += power / 3600
	}
	payload := model.PlugPayload{
		On:              d.on,
		PowerWatts:      power,
		EnergyWattHours: d.cumulativeWh,
		VoltageVolts:    118 + rng.Float64()*4,
		CurrentAmps:     power / 120,
	}
	return model.Success(d.desc.ID, payload, now)
}

func (d *Driver) Act(ctx context.Context, action string, params map[string]any) driver.ActResult {
	switch action {
	case "power_set":
		if d.desc.ReadOnly {
			return driver.Fail(model.CauseUnavailable, "device is configured read-only")
		}
		on, ok := params["on"].(bool)
		if !ok {
			return driver.Fail(model.CauseProtocol, "on (bool) is required")
		}
		d.mu.Lock()
		d.on = on
		d.mu.Unlock()
		return driver.Ok(map[string]any{"on": on})
	default:
		return driver.Fail(model.CauseProtocol, "unknown action: "+action)
	}
}

func (d *Driver) Describe() driver.Capabilities {
	caps := driver.Capabilities{
		Controllable: d.desc.Controllable && !d.desc.ReadOnly,
		Gauges:       []string{"power_watts"},
	}
	if !d.desc.ReadOnly {
		caps.Actions = []driver.ActionSpec{
			{Name: "power_set", Params: []driver.ActionParam{{Name: "on", Kind: "bool", Required: true}}},
		}
	}
	return caps
}

func (d *Driver) Close() error { return nil }
