// Package driver defines the capability interface every vendor adapter
// satisfies and the factory that builds one from a device
// descriptor. Concrete families live in subpackages (camera, plug, bulb,
// sensorenv, smoke, robot, doorbell); this package only knows their shape.
package driver

import (
	"context"
	"time"

	"github.com/nestwatch/sentryd/internal/model"
)

// DefaultProbeDeadline is the caller-supplied deadline used when none is
// set explicitly.
const DefaultProbeDeadline = 10 * time.Second

// DefaultActDeadline bounds a single Act call.
const DefaultActDeadline = 30 * time.Second

// ActionParam documents one parameter a driver action accepts, used by the
// Tool Dispatcher to validate calls before invoking Act.
type ActionParam struct {
	Name     string
	Required bool
	Kind     string // "string", "number", "bool", "object"
	Enum     []string
	Min, Max float64 // only meaningful when Kind == "number"
}

// ActionSpec documents one action a driver's Act accepts.
type ActionSpec struct {
	Name   string
	Params []ActionParam
}

// Capabilities is what Describe returns: the capability set a driver
// actually supports, which may be narrower than the descriptor
// declares.
type Capabilities struct {
	Controllable   bool
	SupportsPTZ    bool
	SupportsStream bool
	Actions        []ActionSpec
	// Gauges lists the domain-specific metric field names (the
	// DriverPayload.MetricFields keys, without any ":module" suffix) this
	// driver may report. It is descriptive only: the Metrics Exporter
	// registers every domain gauge up front, and the HTTP surface fills
	// them from MetricFields.
	Gauges []string
}

// ActResult is the outcome of one Act invocation.
type ActResult struct {
	Success bool
	Data    map[string]any
	Failure *model.ReadingFailure
}

// Ok builds a successful ActResult.
func Ok(data map[string]any) ActResult { return ActResult{Success: true, Data: data} }

// Fail builds a failed ActResult with a classified cause.
func Fail(cause model.FailureCause, message string) ActResult {
	return ActResult{Success: false, Failure: &model.ReadingFailure{Cause: cause, Message: message}}
}

// Driver is the polymorphic capability set every vendor adapter
// implements. Probe and Act must be safe to call
// concurrently; a driver unable to do so must serialize internally.
// Close is idempotent.
type Driver interface {
	Probe(ctx context.Context) model.Reading
	Act(ctx context.Context, action string, params map[string]any) ActResult
	Describe() Capabilities
	Close() error
}

// Config is everything a family constructor needs: the descriptor plus
// the already-resolved credential value (empty string if the descriptor
// has no CredentialRef or mock mode is forced).
type Config struct {
	Descriptor model.Descriptor
	Credential string
}

// Constructor builds one Driver instance for a descriptor.
type Constructor func(cfg Config) (Driver, error)
