// Package model holds the data shapes shared across the registry, drivers,
// scheduler, health state machine, event store, and HTTP/tool surfaces:
// device descriptors, readings, events, and their supporting enums. It has
// no behavior of its own beyond small derived helpers.
package model

import "time"

// Category is the closed set of device families a descriptor may declare.
type Category string

const (
	CategoryCamera    Category = "camera"
	CategoryPlug      Category = "plug"
	CategoryBulb      Category = "bulb"
	CategorySensorEnv Category = "sensor_env"
	CategorySmoke     Category = "sensor_smoke"
	CategoryRobot     Category = "robot"
	CategoryDoorbell  Category = "doorbell"
)

// ValidCategories lists every Category accepted by the config loader.
func ValidCategories() []Category {
	return []Category{
		CategoryCamera, CategoryPlug, CategoryBulb, CategorySensorEnv,
		CategorySmoke, CategoryRobot, CategoryDoorbell,
	}
}

// Descriptor is the declarative, immutable-after-load record for one
// device. A config reload replaces the whole
// set atomically; nothing mutates a Descriptor in place.
type Descriptor struct {
	ID       string   `json:"id" yaml:"id"`
	Label    string   `json:"label" yaml:"label"`
	Category Category `json:"category" yaml:"category"`
	Driver   string   `json:"driver" yaml:"driver"`

	Host          string `json:"host,omitempty" yaml:"host,omitempty"`
	Port          int    `json:"port,omitempty" yaml:"port,omitempty"`
	TLS           bool   `json:"tls,omitempty" yaml:"tls,omitempty"`
	CredentialRef string `json:"-" yaml:"credential_ref,omitempty"`

	Controllable   bool `json:"controllable" yaml:"controllable"`
	SupportsPTZ    bool `json:"supports_ptz,omitempty" yaml:"supports_ptz,omitempty"`
	SupportsStream bool `json:"supports_stream,omitempty" yaml:"supports_stream,omitempty"`
	ReadOnly       bool `json:"read_only" yaml:"read_only"`

	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// IntervalOverride replaces scheduler.default_interval_seconds for this
	// device only, when non-zero.
	IntervalOverride time.Duration `json:"interval_override,omitempty" yaml:"-"`

	// Params carries driver-specific connection/config parameters, e.g. a
	// camera's ONVIF profile name or a plug's power ceiling in watts.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Mock forces the driver into deterministic mock mode regardless of
	// whether live connection parameters are present.
	Mock bool `json:"mock,omitempty" yaml:"mock,omitempty"`

	// Disabled marks a descriptor that failed secret resolution or driver
	// construction at load time; it is registered anyway so operators see
	// it rather than have it silently vanish.
	Disabled       bool   `json:"disabled,omitempty" yaml:"-"`
	DisabledReason string `json:"disabled_reason,omitempty" yaml:"-"`
}

// HealthPhase is the three-state health ladder.
type HealthPhase string

const (
	PhaseOK       HealthPhase = "ok"
	PhaseDegraded HealthPhase = "degraded"
	PhaseOffline  HealthPhase = "offline"
)

// RuntimeState is the per-device mutable state owned exclusively by that
// device's scheduler task. Every other
// reader observes a copy, never the live value.
type RuntimeState struct {
	Phase               HealthPhase
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastProbe           time.Time
	LastError           string
	LastReading         *Reading
	PendingActions      int
}

// Snapshot returns a value copy safe to hand to a reader outside the
// owning scheduler task.
func (s RuntimeState) Snapshot() RuntimeState {
	if s.LastReading != nil {
		r := *s.LastReading
		s.LastReading = &r
	}
	return s
}

// DeviceView is the read-only projection the Registry, HTTP API, and tool
// dispatcher hand out: a Descriptor paired with its current RuntimeState.
type DeviceView struct {
	Descriptor Descriptor   `json:"descriptor"`
	Runtime    RuntimeState `json:"runtime"`
}
