// Package smoke implements the smoke/CO detector driver family.
package smoke

import (
	"context"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

const DriverTag = "smoke_generic"

func init() { driver.Register(DriverTag, New) }

type Driver struct {
	desc model.Descriptor

	mu            sync.Mutex
	tick          int64
	alertState    model.SmokeAlertState
	lastSelfTest  int64
}

func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{desc: cfg.Descriptor, alertState: model.SmokeClear}, nil
}

func (d *Driver) mock() bool { return d.desc.Mock || d.desc.Host == "" }

func (d *Driver) Probe(ctx context.Context) model.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	now := time.Now().UTC()

	if !d.mock() {
		return model.Failed(d.desc.ID, model.CauseTransport, "live smoke detector polling not configured for this host", now)
	}

	rng := driver.MockSource(d.desc.ID, d.tick)
	payload := model.SmokePayload{
		BatteryPct:     80 + rng.Intn(20),
		Online:         true,
		LastSelfTestAt: d.lastSelfTest,
		AlertState:     d.alertState,
	}
	return model.Success(d.desc.ID, payload, now)
}

func (d *Driver) Act(ctx context.Context, action string, params map[string]any) driver.ActResult {
	if d.desc.ReadOnly {
		return driver.Fail(model.CauseUnavailable, "device is configured read-only")
	}

	switch action {
	case "self_test":
		ranAt := time.Now().UTC().Unix()
		d.mu.Lock()
		d.lastSelfTest = ranAt
		d.mu.Unlock()
		return driver.Ok(map[string]any{"ran_at": ranAt})
	default:
		return driver.Fail(model.CauseProtocol, "unknown action: "+action)
	}
}

func (d *Driver) Describe() driver.Capabilities {
	return driver.Capabilities{
		Actions: []driver.ActionSpec{{Name: "self_test"}},
	}
}

func (d *Driver) Close() error { return nil }
