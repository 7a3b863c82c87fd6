// Package robot implements the robot driver family. estop is
// special-cased to succeed locally (unless the device is read-only) even
// when the robot is unreachable. Its result reports whether the stop has
// been confirmed, which a later mock-mode probe marks; estop is not
// re-sent, and no caller retries it until confirmation.
package robot

import (
	"context"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

const DriverTag = "robot_generic"

func init() { driver.Register(DriverTag, New) }

type Driver struct {
	desc model.Descriptor

	mu           sync.Mutex
	tick         int64
	x, y         float64
	heading      float64
	battery      int
	motionState  model.RobotMotionState
	estopped     bool
	estopConfirmed bool
}

func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{desc: cfg.Descriptor, battery: 100, motionState: model.RobotIdle}, nil
}

func (d *Driver) mock() bool { return d.desc.Mock || d.desc.Host == "" }

func (d *Driver) Probe(ctx context.Context) model.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	now := time.Now().UTC()

	if !d.mock() {
		return model.Failed(d.desc.ID, model.CauseTransport, "live robot polling not configured for this host", now)
	}

	if d.estopped {
		d.estopConfirmed = true
	}
	if d.battery > 0 && d.motionState == model.RobotMoving {
		d.battery--
	}
	payload := model.RobotPayload{
		X: d.x, Y: d.y, HeadingDeg: d.heading,
		BatteryPct:  d.battery,
		MotionState: d.motionState,
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
	case "estop":
		d.estopped = true
		d.motionState = model.RobotError
		return driver.Ok(map[string]any{"confirmed": d.estopConfirmed})

	case "move":
		if d.estopped {
			return driver.Fail(model.CauseUnavailable, "robot is e-stopped; dock or clear estop first")
		}
		linear := toFloat(params["linear"])
		angular := toFloat(params["angular"])
		duration := toFloat(params["duration"])
		d.x += linear * duration
		d.heading += angular * duration
		d.motionState = model.RobotMoving
		return driver.Ok(map[string]any{"x": d.x, "y": d.y, "heading": d.heading})

	case "patrol":
		if d.estopped {
			return driver.Fail(model.CauseUnavailable, "robot is e-stopped; dock or clear estop first")
		}
		route, _ := params["route_name"].(string)
		if route == "" {
			return driver.Fail(model.CauseProtocol, "route_name is required")
		}
		d.motionState = model.RobotPatrolling
		return driver.Ok(map[string]any{"route_name": route})

	case "dock":
		d.motionState = model.RobotDocking
		d.estopped = false
		d.estopConfirmed = false
		return driver.Ok(map[string]any{"docking": true})

	default:
		return driver.Fail(model.CauseProtocol, "unknown action: "+action)
	}
}

func (d *Driver) Describe() driver.Capabilities {
	return driver.Capabilities{
		Controllable: d.desc.Controllable && !d.desc.ReadOnly,
		Gauges:       []string{"battery_pct"},
		Actions: []driver.ActionSpec{
			{Name: "move", Params: []driver.ActionParam{
				{Name: "linear", Kind: "number", Required: true},
				{Name: "angular", Kind: "number", Required: true},
				{Name: "duration", Kind: "number", Required: true, Min: 0},
			}},
			{Name: "patrol", Params: []driver.ActionParam{{Name: "route_name", Kind: "string", Required: true}}},
			{Name: "dock"},
			{Name: "estop"},
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
		return 0
	}
}
