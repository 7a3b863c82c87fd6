// Package sensorenv implements the environmental sensor (weather station)
// driver family: read-only, no actions.
package sensorenv

import (
	"context"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

const DriverTag = "sensorenv_generic"

func init() { driver.Register(DriverTag, New) }

type Driver struct {
	desc model.Descriptor

	mu   sync.Mutex
	tick int64
}

func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{desc: cfg.Descriptor}, nil
}

func (d *Driver) mock() bool { return d.desc.Mock || d.desc.Host == "" }

// modules returns which measurement modules the descriptor's params claim
// to have (e.g. params.modules: ["indoor", "outdoor"]); default ["indoor"].
func (d *Driver) modules() []string {
	if raw, ok := d.desc.Params["modules"].([]any); ok && len(raw) > 0 {
		out := make([]string, 0, len(raw))
		for _, m := range raw {
			if s, ok := m.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{"indoor"}
}

func (d *Driver) Probe(ctx context.Context) model.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	now := time.Now().UTC()

	if !d.mock() {
		return model.Failed(d.desc.ID, model.CauseTransport, "live sensor polling not configured for this host", now)
	}

	rng := driver.MockSource(d.desc.ID, d.tick)
	modules := map[string]model.EnvMeasurement{}
	for _, m := range d.modules() {
		modules[m] = model.EnvMeasurement{
			TemperatureCelsius: 18 + rng.Float64()*10,
			HasTemperature:     true,
			HumidityPercent:    30 + rng.Float64()*40,
			HasHumidity:        true,
			CO2PPM:             420 + rng.Float64()*300,
			HasCO2:             true,
			PressureHPa:        1000 + rng.Float64()*30,
			HasPressure:        true,
		}
	}
	return model.Success(d.desc.ID, model.EnvSensorPayload{Modules: modules}, now)
}

func (d *Driver) Act(ctx context.Context, action string, params map[string]any) driver.ActResult {
	return driver.Fail(model.CauseUnavailable, "environmental sensor supports no actions")
}

func (d *Driver) Describe() driver.Capabilities {
	return driver.Capabilities{
		Gauges: []string{"temperature_celsius", "humidity_percent", "co2_ppm"},
	}
}

func (d *Driver) Close() error { return nil }
