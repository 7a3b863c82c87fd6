package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

// familyTool is the portmanteau tool for one device family: a couple of
// read actions served straight from the registry, and everything else
// routed to the device driver's Act through the scheduler so control
// calls serialize against in-flight probes.
type familyTool struct {
	d        *Dispatcher
	category model.Category
	name     string
}

func (t *familyTool) Name() string { return t.name }

func (t *familyTool) Actions() []driver.ActionSpec {
	specs := []driver.ActionSpec{
		{Name: "list"},
		{Name: "status", Params: []driver.ActionParam{{Name: "device", Kind: "string", Required: true}}},
	}
	// Union of the actions every live device in the family currently
	// advertises, so describe reflects what Act would actually accept.
	seen := map[string]bool{}
	for _, view := range t.d.reg.List() {
		if view.Descriptor.Category != t.category {
			continue
		}
		drv, err := t.d.reg.DriverByID(view.Descriptor.ID)
		if err != nil {
			continue
		}
		for _, spec := range drv.Describe().Actions {
			if seen[spec.Name] {
				continue
			}
			seen[spec.Name] = true
			withDevice := spec
			withDevice.Params = append([]driver.ActionParam{{Name: "device", Kind: "string", Required: true}}, spec.Params...)
			specs = append(specs, withDevice)
		}
	}
	return specs
}

func (t *familyTool) Handle(ctx context.Context, action string, params map[string]any) Result {
	switch action {
	case "list":
		return ok(action, map[string]any{"devices": t.list()})
	case "status":
		return t.status(action, params)
	default:
		return t.act(ctx, action, params)
	}
}

func (t *familyTool) list() []model.DeviceView {
	var views []model.DeviceView
	for _, view := range t.d.reg.List() {
		if view.Descriptor.Category == t.category {
			views = append(views, view)
		}
	}
	return views
}

func (t *familyTool) lookup(action string, params map[string]any) (model.DeviceView, Result, bool) {
	id, okID := params["device"].(string)
	if !okID || id == "" {
		return model.DeviceView{}, fail(action, model.CauseProtocol, "device (string) is required"), false
	}
	_, view, err := t.d.reg.Lookup(id)
	if err != nil {
		return model.DeviceView{}, fail(action, model.CauseUnavailable, fmt.Sprintf("device %q not found", id)), false
	}
	if view.Descriptor.Category != t.category {
		return model.DeviceView{}, fail(action, model.CauseProtocol,
			fmt.Sprintf("device %q is a %s, not a %s", id, view.Descriptor.Category, t.category)), false
	}
	return view, Result{}, true
}

func (t *familyTool) status(action string, params map[string]any) Result {
	view, errRes, found := t.lookup(action, params)
	if !found {
		return errRes
	}
	data := map[string]any{
		"device":               view.Descriptor.ID,
		"label":                view.Descriptor.Label,
		"phase":                view.Runtime.Phase,
		"consecutive_failures": view.Runtime.ConsecutiveFailures,
		"last_error":           view.Runtime.LastError,
	}
	if view.Runtime.LastReading != nil {
		data["last_reading"] = view.Runtime.LastReading
	}
	return ok(action, data)
}

func (t *familyTool) act(ctx context.Context, action string, params map[string]any) Result {
	view, errRes, found := t.lookup(action, params)
	if !found {
		return errRes
	}

	handle, _, err := t.d.reg.Lookup(view.Descriptor.ID)
	if err != nil {
		return fail(action, model.CauseUnavailable, err.Error())
	}
	drv, err := t.d.reg.Driver(handle)
	if err != nil {
		return fail(action, model.CauseUnavailable, err.Error())
	}

	spec, known := findAction(drv.Describe().Actions, action)
	if !known {
		return fail(action, model.CauseUnavailable,
			fmt.Sprintf("device %q does not support action %q", view.Descriptor.ID, action))
	}
	sanitized, clamps, errInfo := validateParams(spec, params)
	if errInfo != nil {
		return Result{Success: false, Action: action, Error: errInfo}
	}
	for _, note := range clamps {
		t.d.store.Append(model.Event{
			Severity: model.SeverityWarning,
			Category: "param_clamped",
			Source:   view.Descriptor.ID,
			Message:  fmt.Sprintf("action %q parameter out of range: %s", action, note),
			Detail:   map[string]any{"action": action},
		})
	}

	delete(sanitized, "device")
	res := t.d.sched.Act(handle, action, sanitized)
	if !res.Success {
		return fail(action, res.Failure.Cause, res.Failure.Message)
	}
	return ok(action, res.Data)
}

func findAction(specs []driver.ActionSpec, name string) (driver.ActionSpec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return driver.ActionSpec{}, false
}

// validateParams checks params against one action's declared schema:
// required fields present, kinds match, enum membership. Numeric values
// outside a declared range are not rejected but clamped into it, with
// one note per clamp so the caller can surface a warning event (out-of-range
// boundary behaviors). The returned map is a sanitized copy.
func validateParams(spec driver.ActionSpec, params map[string]any) (map[string]any, []string, *ErrorInfo) {
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = v
	}
	var clamps []string

	for _, p := range spec.Params {
		raw, present := params[p.Name]
		if !present {
			if p.Required {
				return nil, nil, &ErrorInfo{Cause: string(model.CauseProtocol), Message: fmt.Sprintf("missing required parameter %q", p.Name)}
			}
			continue
		}
		switch p.Kind {
		case "string":
			s, isStr := raw.(string)
			if !isStr {
				return nil, nil, &ErrorInfo{Cause: string(model.CauseProtocol), Message: fmt.Sprintf("parameter %q must be a string", p.Name)}
			}
			if len(p.Enum) > 0 && !contains(p.Enum, s) {
				return nil, nil, &ErrorInfo{Cause: string(model.CauseProtocol),
					Message: fmt.Sprintf("parameter %q must be one of [%s]", p.Name, strings.Join(p.Enum, ", "))}
			}
		case "number":
			n, isNum := asNumber(raw)
			if !isNum {
				return nil, nil, &ErrorInfo{Cause: string(model.CauseProtocol), Message: fmt.Sprintf("parameter %q must be a number", p.Name)}
			}
			if p.Max > p.Min {
				clamped := n
				if clamped < p.Min {
					clamped = p.Min
				}
				if clamped > p.Max {
					clamped = p.Max
				}
				if clamped != n {
					clamps = append(clamps, fmt.Sprintf("%s clamped from %g to %g", p.Name, n, clamped))
					sanitized[p.Name] = clamped
				}
			}
		case "bool":
			if _, isBool := raw.(bool); !isBool {
				return nil, nil, &ErrorInfo{Cause: string(model.CauseProtocol), Message: fmt.Sprintf("parameter %q must be a boolean", p.Name)}
			}
		case "object":
			if _, isMap := raw.(map[string]any); !isMap {
				return nil, nil, &ErrorInfo{Cause: string(model.CauseProtocol), Message: fmt.Sprintf("parameter %q must be an object", p.Name)}
			}
		}
	}
	return sanitized, clamps, nil
}

func asNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// devicesTool is the cross-cutting inventory tool: list every device,
// or describe one device's descriptor, runtime state, and capabilities.
type devicesTool struct {
	d *Dispatcher
}

func (t *devicesTool) Name() string { return "devices" }

func (t *devicesTool) Actions() []driver.ActionSpec {
	return []driver.ActionSpec{
		{Name: "list"},
		{Name: "describe", Params: []driver.ActionParam{{Name: "device", Kind: "string", Required: true}}},
	}
}

func (t *devicesTool) Handle(ctx context.Context, action string, params map[string]any) Result {
	switch action {
	case "list":
		return ok(action, map[string]any{"devices": t.d.reg.List()})
	case "describe":
		id, okID := params["device"].(string)
		if !okID || id == "" {
			return fail(action, model.CauseProtocol, "device (string) is required")
		}
		handle, view, err := t.d.reg.Lookup(id)
		if err != nil {
			return fail(action, model.CauseUnavailable, fmt.Sprintf("device %q not found", id))
		}
		drv, err := t.d.reg.Driver(handle)
		if err != nil {
			return fail(action, model.CauseUnavailable, err.Error())
		}
		return ok(action, map[string]any{
			"descriptor":   view.Descriptor,
			"runtime":      view.Runtime,
			"capabilities": drv.Describe(),
		})
	default:
		return fail(action, model.CauseProtocol, fmt.Sprintf("unknown action %q", action))
	}
}

// eventsTool queries and acknowledges the event store.
type eventsTool struct {
	d *Dispatcher
}

func (t *eventsTool) Name() string { return "events" }

func (t *eventsTool) Actions() []driver.ActionSpec {
	return []driver.ActionSpec{
		{Name: "query", Params: []driver.ActionParam{
			{Name: "since", Kind: "number"},
			{Name: "severity", Kind: "string", Enum: []string{"info", "warning", "alarm"}},
			{Name: "category", Kind: "string"},
			{Name: "limit", Kind: "number", Min: 1, Max: 1000},
		}},
		{Name: "acknowledge", Params: []driver.ActionParam{{Name: "seq", Kind: "number", Required: true}}},
	}
}

func (t *eventsTool) Handle(ctx context.Context, action string, params map[string]any) Result {
	switch action {
	case "query":
		spec, _ := findAction(t.Actions(), action)
		sanitized, _, errInfo := validateParams(spec, params)
		if errInfo != nil {
			return Result{Success: false, Action: action, Error: errInfo}
		}
		since := uint64(0)
		if n, isNum := asNumber(sanitized["since"]); isNum {
			since = uint64(n)
		}
		severity, _ := sanitized["severity"].(string)
		category, _ := sanitized["category"].(string)
		limit := 100
		if n, isNum := asNumber(sanitized["limit"]); isNum {
			limit = int(n)
		}
		events := t.d.store.Query(since, model.Severity(severity), category, limit)
		return ok(action, map[string]any{"events": events, "count": len(events)})
	case "acknowledge":
		n, isNum := asNumber(params["seq"])
		if !isNum {
			return fail(action, model.CauseProtocol, "seq (number) is required")
		}
		if err := t.d.store.Acknowledge(uint64(n)); err != nil {
			return fail(action, model.CauseUnavailable, err.Error())
		}
		return ok(action, map[string]any{"seq": uint64(n), "acknowledged": true})
	default:
		return fail(action, model.CauseProtocol, fmt.Sprintf("unknown action %q", action))
	}
}

// systemTool reports supervisor-level health: scheduler liveness, event
// store occupancy, registered device count.
type systemTool struct {
	d *Dispatcher
}

func (t *systemTool) Name() string { return "system" }

func (t *systemTool) Actions() []driver.ActionSpec {
	return []driver.ActionSpec{{Name: "health"}}
}

func (t *systemTool) Handle(ctx context.Context, action string, params map[string]any) Result {
	switch action {
	case "health":
		unacked := t.d.store.UnacknowledgedBySeverity()
		return ok(action, map[string]any{
			"scheduler_running":    t.d.sched.Running(),
			"device_count":         t.d.reg.Len(),
			"event_store_size":     t.d.store.Size(),
			"unacknowledged_warn":  unacked[model.SeverityWarning],
			"unacknowledged_alarm": unacked[model.SeverityAlarm],
		})
	default:
		return fail(action, model.CauseProtocol, fmt.Sprintf("unknown action %q", action))
	}
}

// describeTool is the meta-tool: it enumerates every registered tool and
// the per-action parameter schemas, so an AI client can discover the
// surface in one call.
type describeTool struct {
	d *Dispatcher
}

func (t *describeTool) Name() string { return "describe" }

func (t *describeTool) Actions() []driver.ActionSpec {
	return []driver.ActionSpec{{Name: "tools"}}
}

func (t *describeTool) Handle(ctx context.Context, action string, params map[string]any) Result {
	switch action {
	case "tools", "":
		t.d.mu.Lock()
		names := append([]string(nil), t.d.names...)
		handlers := make([]Handler, 0, len(names))
		for _, name := range names {
			handlers = append(handlers, t.d.handlers[name])
		}
		t.d.mu.Unlock()

		tools := make([]map[string]any, 0, len(handlers))
		for _, h := range handlers {
			tools = append(tools, map[string]any{
				"name":    h.Name(),
				"actions": h.Actions(),
			})
		}
		return ok("tools", map[string]any{"tools": tools})
	default:
		return fail(action, model.CauseProtocol, fmt.Sprintf("unknown action %q", action))
	}
}
