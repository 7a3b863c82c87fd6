// Package health implements the per-device alert state machine:
// a pure connection-status transition table plus a handful of
// domain-specific hysteresis overlays derived from the reading payload.
// Evaluate never touches the network or the event store directly — it
// takes a Reading and the device's previous runtime state and returns the
// updated state plus the events that transition produced, exactly the
// "small, independently testable pure unit" shape of
// infrastructure/resilience/circuit_breaker.go's state table.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/internal/model"
)

// DefaultFailureThreshold is K: the consecutive-failure
// count at which a device goes from degraded to offline.
const DefaultFailureThreshold = 3

// co2HighPPM / co2LowPPM and the plug ceiling margin below implement the
// "two consecutive samples, rearm below a lower watermark" hysteresis
// every domain overlay follows.
const (
	co2HighPPM       = 1000.0
	co2LowPPM        = 900.0
	plugRearmRatio   = 0.9
	overlayStreakMin = 2
)

// Evaluator runs the connection state machine and domain overlays for
// every device, keyed by device ID. One Evaluator is shared by the whole
// process; overlay state is internally locked because the scheduler task
// per device calls Evaluate from its own goroutine but devices never
// share state with each other.
type Evaluator struct {
	failureThreshold int

	mu       sync.Mutex
	overlays map[string]*overlayState
}

// New builds an Evaluator. threshold <= 0 falls back to
// DefaultFailureThreshold.
func New(threshold int) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Evaluator{failureThreshold: threshold, overlays: make(map[string]*overlayState)}
}

// overlayState is the minimal two-sample history each domain overlay
// needs, kept per device (and, for multi-module env sensors, per module
// within the device).
type overlayState struct {
	co2Armed     map[string]bool // module -> armed (can still fire)
	co2Streak    map[string]int
	smokePrev    model.SmokeAlertState
	smokeKnown   bool
	plugArmed    bool
	plugStreak   int
}

func newOverlayState() *overlayState {
	return &overlayState{
		co2Armed:  make(map[string]bool),
		co2Streak: make(map[string]int),
		plugArmed: true,
	}
}

func (e *Evaluator) overlayFor(deviceID string) *overlayState {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.overlays[deviceID]
	if !ok {
		o = newOverlayState()
		e.overlays[deviceID] = o
	}
	return o
}

// Forget drops an overlay's history, called when a device is removed from
// the registry so memory does not grow across reloads.
func (e *Evaluator) Forget(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.overlays, deviceID)
}

// Evaluate applies one Reading to a device's previous runtime state and
// returns the updated state plus every event the transition produced, in
// the order they should be appended.
func (e *Evaluator) Evaluate(desc model.Descriptor, prev model.RuntimeState, reading model.Reading, now time.Time) (model.RuntimeState, []model.Event) {
	next := prev
	next.LastProbe = now
	next.LastReading = &reading

	var events []model.Event

	if reading.IsSuccess() {
		events = append(events, e.onSuccess(desc, &next, reading, now)...)
		next.LastError = ""
		events = append(events, e.overlayEvents(desc, reading, now)...)
	} else {
		next.LastError = reading.Failure.Message
		events = append(events, e.onFailure(desc, &next, reading, now)...)
	}

	return next, events
}

func (e *Evaluator) onSuccess(desc model.Descriptor, next *model.RuntimeState, reading model.Reading, now time.Time) []model.Event {
	prevPhase := next.Phase
	downtime := time.Duration(0)
	if !next.LastSuccess.IsZero() {
		downtime = now.Sub(next.LastSuccess)
	}
	next.ConsecutiveFailures = 0
	next.LastSuccess = now
	next.Phase = model.PhaseOK

	switch prevPhase {
	case "", model.PhaseOK:
		return nil // ok -> ok: silent
	case model.PhaseDegraded, model.PhaseOffline:
		detail := map[string]any{}
		if prevPhase == model.PhaseOffline {
			detail["downtime_duration"] = downtime.String()
		}
		return []model.Event{
			deviceEvent(desc, model.SeverityInfo, fmt.Sprintf("device %s recovered", desc.ID), detail, now),
		}
	}
	return nil
}

func (e *Evaluator) onFailure(desc model.Descriptor, next *model.RuntimeState, reading model.Reading, now time.Time) []model.Event {
	prevPhase := next.Phase
	if prevPhase == "" {
		prevPhase = model.PhaseOK
	}
	next.ConsecutiveFailures++

	switch prevPhase {
	case model.PhaseOK:
		next.Phase = model.PhaseDegraded
		return []model.Event{
			deviceEvent(desc, model.SeverityWarning, fmt.Sprintf("device %s stopped responding", desc.ID), nil, now),
		}
	case model.PhaseDegraded:
		if next.ConsecutiveFailures < e.failureThreshold {
			return nil // suppressed to avoid flap spam
		}
		next.Phase = model.PhaseOffline
		durationSinceSuccess := time.Duration(0)
		if !next.LastSuccess.IsZero() {
			durationSinceSuccess = now.Sub(next.LastSuccess)
		}
		detail := map[string]any{
			"consecutive_failures":        next.ConsecutiveFailures,
			"duration_since_last_success": durationSinceSuccess.String(),
			"cause":                       string(reading.Failure.Cause),
		}
		return []model.Event{
			deviceEvent(desc, model.SeverityAlarm, fmt.Sprintf("device %s is offline", desc.ID), detail, now),
		}
	case model.PhaseOffline:
		return nil // suppressed after the first alarm
	}
	return nil
}

func deviceEvent(desc model.Descriptor, sev model.Severity, message string, detail map[string]any, now time.Time) model.Event {
	return model.Event{
		Timestamp: now,
		Severity:  sev,
		Category:  model.CategoryDeviceConnection,
		Source:    desc.ID,
		Message:   message,
		Detail:    detail,
	}
}

// overlayEvents inspects a successful reading's payload for the
// domain-specific thresholds. Every overlay here only
// runs on success; a failed probe carries no payload to threshold.
func (e *Evaluator) overlayEvents(desc model.Descriptor, reading model.Reading, now time.Time) []model.Event {
	o := e.overlayFor(desc.ID)

	switch payload := reading.Payload.(type) {
	case model.EnvSensorPayload:
		return e.envOverlay(desc, o, payload, now)
	case model.SmokePayload:
		return e.smokeOverlay(desc, o, payload, now)
	case model.PlugPayload:
		return e.plugOverlay(desc, o, payload, now)
	}
	return nil
}

func (e *Evaluator) envOverlay(desc model.Descriptor, o *overlayState, payload model.EnvSensorPayload, now time.Time) []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []model.Event
	for module, m := range payload.Modules {
		if !m.HasCO2 {
			continue
		}
		if _, ok := o.co2Armed[module]; !ok {
			o.co2Armed[module] = true
		}

		switch {
		case m.CO2PPM >= co2HighPPM:
			o.co2Streak[module]++
			if o.co2Streak[module] >= overlayStreakMin && o.co2Armed[module] {
				o.co2Armed[module] = false
				events = append(events, model.Event{
					Timestamp: now,
					Severity:  model.SeverityWarning,
					Category:  model.CategoryEnvThreshold,
					Source:    desc.ID,
					Message:   fmt.Sprintf("CO2 elevated on %s/%s", desc.ID, module),
					Detail:    map[string]any{"module": module, "co2_ppm": m.CO2PPM},
				})
			}
		case m.CO2PPM < co2LowPPM:
			o.co2Armed[module] = true
			o.co2Streak[module] = 0
		default:
			o.co2Streak[module] = 0
		}
	}
	return events
}

func (e *Evaluator) smokeOverlay(desc model.Descriptor, o *overlayState, payload model.SmokePayload, now time.Time) []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.smokeKnown && o.smokePrev == payload.AlertState {
		return nil
	}
	prev := o.smokePrev
	wasKnown := o.smokeKnown
	o.smokePrev = payload.AlertState
	o.smokeKnown = true

	if !wasKnown && payload.AlertState == model.SmokeClear {
		return nil // starting state, nothing to report
	}

	var ev model.Event
	switch payload.AlertState {
	case model.SmokeWarning:
		ev = model.Event{Timestamp: now, Severity: model.SeverityWarning, Category: model.CategorySmokeAlert,
			Source: desc.ID, Message: fmt.Sprintf("smoke alert warning on %s", desc.ID)}
	case model.SmokeEmergency:
		ev = model.Event{Timestamp: now, Severity: model.SeverityAlarm, Category: model.CategorySmokeAlert,
			Source: desc.ID, Message: fmt.Sprintf("smoke emergency on %s", desc.ID)}
	case model.SmokeClear:
		if prev == model.SmokeClear {
			return nil
		}
		ev = model.Event{Timestamp: now, Severity: model.SeverityInfo, Category: model.CategorySmokeAlert,
			Source: desc.ID, Message: fmt.Sprintf("smoke alert cleared on %s", desc.ID)}
	default:
		return nil
	}
	return []model.Event{ev}
}

func (e *Evaluator) plugOverlay(desc model.Descriptor, o *overlayState, payload model.PlugPayload, now time.Time) []model.Event {
	ceiling, ok := powerCeiling(desc)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	low := ceiling * plugRearmRatio
	switch {
	case payload.PowerWatts >= ceiling:
		o.plugStreak++
		if o.plugStreak >= overlayStreakMin && o.plugArmed {
			o.plugArmed = false
			return []model.Event{{
				Timestamp: now, Severity: model.SeverityWarning, Category: model.CategoryEnergyAlert,
				Source: desc.ID, Message: fmt.Sprintf("power draw on %s at or above ceiling", desc.ID),
				Detail: map[string]any{"power_watts": payload.PowerWatts, "ceiling_watts": ceiling},
			}}
		}
	case payload.PowerWatts < low:
		o.plugArmed = true
		o.plugStreak = 0
	default:
		o.plugStreak = 0
	}
	return nil
}

func powerCeiling(desc model.Descriptor) (float64, bool) {
	raw, ok := desc.Params["power_ceiling_watts"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, v > 0
	case int:
		return float64(v), v > 0
	default:
		return 0, false
	}
}
