// Package config loads the declarative device list and global settings
// document, resolves credential references through a secrets.Sink, and
// emits the model.Descriptor set the Registry consumes.
package config

// Document is the top-level shape of the YAML/JSON configuration file.
type Document struct {
	Devices    []DeviceEntry      `yaml:"devices" json:"devices" validate:"dive"`
	Scheduler  SchedulerSettings  `yaml:"scheduler" json:"scheduler"`
	EventStore EventStoreSettings `yaml:"event_store" json:"event_store"`
	Logging    LoggingSettings    `yaml:"logging" json:"logging"`
	Secrets    SecretsSettings    `yaml:"secrets" json:"secrets"`
}

// DeviceEntry is one entry under the `devices` key.
type DeviceEntry struct {
	ID              string         `yaml:"id" json:"id" validate:"required"`
	Driver          string         `yaml:"driver" json:"driver" validate:"required"`
	Category        string         `yaml:"category" json:"category" validate:"required,oneof=camera plug bulb sensor_env sensor_smoke robot doorbell"`
	Label           string         `yaml:"label" json:"label"`
	Location        string         `yaml:"location" json:"location"`
	ReadOnly        bool           `yaml:"read_only" json:"read_only"`
	IntervalSeconds int            `yaml:"interval_seconds" json:"interval_seconds" validate:"omitempty,gte=1"`
	CredentialRef   string         `yaml:"credential_ref" json:"credential_ref"`
	Host            string         `yaml:"host" json:"host"`
	Port            int            `yaml:"port" json:"port" validate:"omitempty,gte=1,lte=65535"`
	TLS             bool           `yaml:"tls" json:"tls"`
	Controllable    bool           `yaml:"controllable" json:"controllable"`
	SupportsPTZ     bool           `yaml:"supports_ptz" json:"supports_ptz"`
	SupportsStream  bool           `yaml:"supports_stream" json:"supports_stream"`
	Mock            bool           `yaml:"mock" json:"mock"`
	Params          map[string]any `yaml:"params" json:"params"`
}

// SchedulerSettings holds the scheduler.* keys. Intervals below
// the 5-second floor are clamped with a startup warning, not rejected.
type SchedulerSettings struct {
	DefaultIntervalSeconds int `yaml:"default_interval_seconds" json:"default_interval_seconds" validate:"omitempty,gte=1"`
	FailureThreshold       int `yaml:"failure_threshold" json:"failure_threshold" validate:"omitempty,gte=1"`
}

// EventStoreSettings holds the event_store.* keys. Capacity is a
// pointer so an explicit `capacity: 0` is distinguishable from an absent
// key: absent means the default, zero is a configuration error.
type EventStoreSettings struct {
	Capacity           *int `yaml:"capacity" json:"capacity"`
	SubscriptionBuffer int  `yaml:"subscription_buffer" json:"subscription_buffer" validate:"omitempty,gte=1"`
}

// LoggingSettings holds the logging.* keys.
type LoggingSettings struct {
	RedactionTerms []string `yaml:"redaction_terms" json:"redaction_terms"`
}

// SecretsSettings holds the secrets.* keys.
type SecretsSettings struct {
	Backends []string `yaml:"backends" json:"backends"`
}

// ApplyDefaults fills in every zero-valued setting with the built-in
// defaults. Per-device interval overrides are resolved later, in Build.
func (d *Document) ApplyDefaults() {
	if d.Scheduler.DefaultIntervalSeconds == 0 {
		d.Scheduler.DefaultIntervalSeconds = 30
	}
	if d.Scheduler.FailureThreshold == 0 {
		d.Scheduler.FailureThreshold = 3
	}
	if d.EventStore.Capacity == nil {
		capacity := 10000
		d.EventStore.Capacity = &capacity
	}
	if d.EventStore.SubscriptionBuffer == 0 {
		d.EventStore.SubscriptionBuffer = 256
	}
	if len(d.Logging.RedactionTerms) == 0 {
		d.Logging.RedactionTerms = []string{"password", "token", "secret", "key", "credential"}
	}
	if len(d.Secrets.Backends) == 0 {
		d.Secrets.Backends = []string{"env"}
	}
}
