package model

import "time"

// FailureCause is the five-member classified-failure taxonomy shared by
// every driver.
type FailureCause string

const (
	CauseTimeout     FailureCause = "timeout"
	CauseAuth        FailureCause = "auth"
	CauseTransport   FailureCause = "transport"
	CauseProtocol    FailureCause = "protocol"
	CauseUnavailable FailureCause = "unavailable"
)

// DriverPayload is implemented by each driver family's probe result. It
// never carries raw credentials; MetricFields exposes the subset of the
// payload the Metrics Exporter should publish as domain-specific
// gauges, keyed by the gauge's field name (e.g. "power_watts").
type DriverPayload interface {
	MetricFields() map[string]float64
}

// ReadingFailure is the classified-failure half of the Reading tagged
// union; Message is already safe to log (no raw secrets).
type ReadingFailure struct {
	Cause   FailureCause `json:"cause"`
	Message string       `json:"message"`
}

// Reading is the normalized output of one probe cycle: either a
// success carrying a DriverPayload, or a classified Failure. Exactly one
// of Payload / Failure is set; IsSuccess reports which.
type Reading struct {
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	Payload   DriverPayload   `json:"payload,omitempty"`
	Failure   *ReadingFailure `json:"failure,omitempty"`
}

// IsSuccess reports whether the reading carries a payload rather than a
// classified failure.
func (r Reading) IsSuccess() bool { return r.Failure == nil }

// Success builds a successful Reading.
func Success(deviceID string, payload DriverPayload, at time.Time) Reading {
	return Reading{Timestamp: at, DeviceID: deviceID, Payload: payload}
}

// Failed builds a classified-failure Reading.
func Failed(deviceID string, cause FailureCause, message string, at time.Time) Reading {
	return Reading{Timestamp: at, DeviceID: deviceID, Failure: &ReadingFailure{Cause: cause, Message: message}}
}
