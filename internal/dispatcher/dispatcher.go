// Package dispatcher exposes the supervisor to AI-assistant clients as a
// small set of coarse-grained "portmanteau" tools: one tool
// per device family plus cross-cutting devices/events/system tools and a
// describe meta-tool. The dispatcher itself is stateless; it routes to
// the Registry, Event Store, and driver Act calls, and appends one
// auditable event per invocation so manual actions and automatic probes
// land in the same stream.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/infrastructure/ratelimit"
	"github.com/nestwatch/sentryd/infrastructure/redaction"
	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/eventstore"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/registry"
	"github.com/nestwatch/sentryd/internal/scheduler"
)

// Result is the structured outcome of one tool invocation.
type Result struct {
	Success bool           `json:"success"`
	Action  string         `json:"action"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *ErrorInfo     `json:"error,omitempty"`
}

// ErrorInfo carries the classified cause and message of a failed call.
type ErrorInfo struct {
	Cause   string `json:"cause"`
	Message string `json:"message"`
}

func ok(action string, data map[string]any) Result {
	return Result{Success: true, Action: action, Data: data}
}

func fail(action string, cause model.FailureCause, message string) Result {
	return Result{Success: false, Action: action, Error: &ErrorInfo{Cause: string(cause), Message: message}}
}

// Handler is one registered tool: a name, the action schemas it
// advertises through the describe meta-tool, and the dispatch itself.
type Handler interface {
	Name() string
	Actions() []driver.ActionSpec
	Handle(ctx context.Context, action string, params map[string]any) Result
}

// Dispatcher routes tool invocations to registered handlers, rate-limits
// per tool name, and appends the action_invoked audit event.
type Dispatcher struct {
	reg   *registry.Registry
	sched *scheduler.Scheduler
	store *eventstore.Store
	red   *redaction.Redactor

	mu       sync.Mutex
	handlers map[string]Handler
	names    []string
	limiters map[string]*ratelimit.RateLimiter
}

// New builds a Dispatcher with the full built-in tool inventory
// registered: one tool per device family, devices/events/system, and the
// describe meta-tool.
func New(reg *registry.Registry, sched *scheduler.Scheduler, store *eventstore.Store, red *redaction.Redactor) *Dispatcher {
	if red == nil {
		red = redaction.New(nil)
	}
	d := &Dispatcher{
		reg:      reg,
		sched:    sched,
		store:    store,
		red:      red,
		handlers: make(map[string]Handler),
		limiters: make(map[string]*ratelimit.RateLimiter),
	}

	for _, cat := range model.ValidCategories() {
		d.RegisterHandler(&familyTool{d: d, category: cat, name: toolNameFor(cat)})
	}
	d.RegisterHandler(&devicesTool{d: d})
	d.RegisterHandler(&eventsTool{d: d})
	d.RegisterHandler(&systemTool{d: d})
	d.RegisterHandler(&describeTool{d: d})
	return d
}

// RegisterHandler installs (or replaces) a tool by name.
func (d *Dispatcher) RegisterHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[h.Name()]; !exists {
		d.names = append(d.names, h.Name())
		sort.Strings(d.names)
	}
	d.handlers[h.Name()] = h
}

// Tools lists the registered tool names in stable order.
func (d *Dispatcher) Tools() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

func (d *Dispatcher) limiterFor(tool string) *ratelimit.RateLimiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, okL := d.limiters[tool]
	if !okL {
		l = ratelimit.New(ratelimit.DefaultConfig())
		d.limiters[tool] = l
	}
	return l
}

// Invoke runs one tool call: resolve the handler, apply the per-tool rate
// limit, dispatch, then append the audit event. Every invocation —
// success or failure, query or control — produces exactly one
// action_invoked event sourced from the tool name, with parameters
// passed through the redactor first.
func (d *Dispatcher) Invoke(ctx context.Context, tool, action string, params map[string]any) Result {
	d.mu.Lock()
	h, known := d.handlers[tool]
	d.mu.Unlock()

	var res Result
	switch {
	case !known:
		res = fail(action, model.CauseUnavailable, fmt.Sprintf("unknown tool %q", tool))
	case !d.limiterFor(tool).Allow():
		res = fail(action, model.CauseUnavailable, fmt.Sprintf("tool %q rate limit exceeded", tool))
	default:
		res = h.Handle(ctx, action, params)
	}

	sev := model.SeverityInfo
	if !res.Success {
		sev = model.SeverityWarning
	}
	detail := map[string]any{
		"action":  action,
		"success": res.Success,
		"params":  d.red.RedactMap(params),
	}
	if res.Error != nil {
		detail["cause"] = res.Error.Cause
	}
	d.store.Append(model.Event{
		Timestamp: time.Now().UTC(),
		Severity:  sev,
		Category:  model.CategoryActionInvoked,
		Source:    tool,
		Message:   fmt.Sprintf("tool %s action %q invoked", tool, action),
		Detail:    detail,
	})
	return res
}

func toolNameFor(cat model.Category) string {
	// The smoke category tag is "sensor_smoke" but the tool reads better
	// as "smoke"; every other family tool uses its category tag.
	if cat == model.CategorySmoke {
		return "smoke"
	}
	return string(cat)
}
