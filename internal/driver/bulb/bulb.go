// Package bulb implements the bulb/lighting driver family.
package bulb

import (
	"context"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

const DriverTag = "bulb_generic"

func init() { driver.Register(DriverTag, New) }

type Driver struct {
	desc       model.Descriptor
	credential string

	mu         sync.Mutex
	tick       int64
	on         bool
	brightness int
	colorRGB   string
}

func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{desc: cfg.Descriptor, credential: cfg.Credential, on: true, brightness: 100, colorRGB: "ffffff"}, nil
}

func (d *Driver) mock() bool { return d.desc.Mock || d.desc.Host == "" }

func (d *Driver) Probe(ctx context.Context) model.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	now := time.Now().UTC()

	if !d.mock() {
		return model.Failed(d.desc.ID, model.CauseTransport, "live bulb polling not configured for this host", now)
	}

	payload := model.BulbPayload{
		Reachable:     true,
		On:            d.on,
		BrightnessPct: d.brightness,
		ColorRGB:      d.colorRGB,
	}
	return model.Success(d.desc.ID, payload, now)
}

func (d *Driver) Act(ctx context.Context, action string, params map[string]any) driver.ActResult {
	if d.desc.ReadOnly {
		return driver.Fail(model.CauseUnavailable, "device is configured read-only")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch action {
	case "light_set":
		if on, ok := params["on"].(bool); ok {
			d.on = on
		}
		if b, ok := params["brightness"]; ok {
			bf := toFloat(b)
			if bf < 0 {
				bf = 0
			} else if bf > 100 {
				bf = 100
			}
			d.brightness = int(bf)
		}
		if c, ok := params["color"].(string); ok && c != "" {
			d.colorRGB = c
		}
		return driver.Ok(map[string]any{"on": d.on, "brightness": d.brightness, "color": d.colorRGB})

	case "scene_recall":
		name, _ := params["name"].(string)
		if name == "" {
			return driver.Fail(model.CauseProtocol, "name is required")
		}
		return driver.Ok(map[string]any{"scene": name})

	case "group_set":
		groupID, _ := params["group_id"].(string)
		if groupID == "" {
			return driver.Fail(model.CauseProtocol, "group_id is required")
		}
		return driver.Ok(map[string]any{"group_id": groupID})

	default:
		return driver.Fail(model.CauseProtocol, "unknown action: "+action)
	}
}

func (d *Driver) Describe() driver.Capabilities {
	return driver.Capabilities{
		Controllable: d.desc.Controllable && !d.desc.ReadOnly,
		Actions: []driver.ActionSpec{
			{Name: "light_set", Params: []driver.ActionParam{
				{Name: "on", Kind: "bool"},
				{Name: "brightness", Kind: "number", Min: 0, Max: 100},
				{Name: "color", Kind: "string"},
			}},
			{Name: "scene_recall", Params: []driver.ActionParam{{Name: "name", Kind: "string", Required: true}}},
			{Name: "group_set", Params: []driver.ActionParam{{Name: "group_id", Kind: "string", Required: true}}},
		},
	}
}

func (d *Driver) Close() error { return nil }

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return -1
	}
}
