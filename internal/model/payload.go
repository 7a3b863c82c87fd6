package model

// CameraPayload is the camera driver family's probe result.
type CameraPayload struct {
	Online          bool   `json:"online"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	LastFrameAt     int64  `json:"last_frame_unix,omitempty"`
	PrivacyMode     bool   `json:"privacy_mode"`
}

func (CameraPayload) MetricFields() map[string]float64 { return nil }

// PlugPayload is the smart-plug driver's probe result.
type PlugPayload struct {
	On                bool    `json:"on"`
	PowerWatts        float64 `json:"power_watts"`
	EnergyWattHours   float64 `json:"energy_watt_hours"`
	VoltageVolts      float64 `json:"voltage_volts"`
	CurrentAmps       float64 `json:"current_amps"`
}

func (p PlugPayload) MetricFields() map[string]float64 {
	return map[string]float64{"power_watts": p.PowerWatts}
}

// BulbPayload is the bulb/lighting driver's probe result.
type BulbPayload struct {
	Reachable        bool   `json:"reachable"`
	On               bool   `json:"on"`
	BrightnessPct    int    `json:"brightness_pct"`
	ColorRGB         string `json:"color_rgb,omitempty"`
	ColorTempKelvin  int    `json:"color_temp_kelvin,omitempty"`
}

func (BulbPayload) MetricFields() map[string]float64 { return nil }

// EnvSensorPayload is the weather-station family's probe result: a
// module name ("indoor", "outdoor", ...) mapped to its measurement set.
type EnvSensorPayload struct {
	Modules map[string]EnvMeasurement `json:"modules"`
}

// EnvMeasurement holds the subset of readings a module actually reports;
// zero-value fields (0) are ambiguous with "measured zero", so Has* flags
// accompany every optional field.
type EnvMeasurement struct {
	TemperatureCelsius float64 `json:"temperature_celsius"`
	HasTemperature     bool    `json:"-"`
	HumidityPercent    float64 `json:"humidity_percent"`
	HasHumidity        bool    `json:"-"`
	CO2PPM             float64 `json:"co2_ppm"`
	HasCO2             bool    `json:"-"`
	PressureHPa        float64 `json:"pressure_hpa"`
	HasPressure        bool    `json:"-"`
	NoiseDB            float64 `json:"noise_db"`
	HasNoise           bool    `json:"-"`
}

func (p EnvSensorPayload) MetricFields() map[string]float64 {
	fields := make(map[string]float64, len(p.Modules)*3)
	for module, m := range p.Modules {
		if m.HasTemperature {
			fields["temperature_celsius:"+module] = m.TemperatureCelsius
		}
		if m.HasCO2 {
			fields["co2_ppm:"+module] = m.CO2PPM
		}
		if m.HasHumidity {
			fields["humidity_percent:"+module] = m.HumidityPercent
		}
	}
	return fields
}

// SmokeAlertState is the smoke/CO detector's alert ladder.
type SmokeAlertState string

const (
	SmokeClear     SmokeAlertState = "clear"
	SmokeWarning   SmokeAlertState = "warning"
	SmokeEmergency SmokeAlertState = "emergency"
)

// SmokePayload is the smoke/CO detector driver's probe result.
type SmokePayload struct {
	BatteryPct      int             `json:"battery_pct"`
	Online          bool            `json:"online"`
	LastSelfTestAt  int64           `json:"last_self_test_unix,omitempty"`
	AlertState      SmokeAlertState `json:"alert_state"`
}

func (SmokePayload) MetricFields() map[string]float64 { return nil }

// RobotMotionState is the robot driver's motion ladder.
type RobotMotionState string

const (
	RobotIdle       RobotMotionState = "idle"
	RobotMoving     RobotMotionState = "moving"
	RobotDocking    RobotMotionState = "docking"
	RobotPatrolling RobotMotionState = "patrolling"
	RobotCharging   RobotMotionState = "charging"
	RobotError      RobotMotionState = "error"
)

// RobotPayload is the robot driver's probe result.
type RobotPayload struct {
	X            float64          `json:"x"`
	Y            float64          `json:"y"`
	HeadingDeg   float64          `json:"heading_deg"`
	BatteryPct   int              `json:"battery_pct"`
	MotionState  RobotMotionState `json:"motion_state"`
}

func (p RobotPayload) MetricFields() map[string]float64 {
	return map[string]float64{"battery_pct": float64(p.BatteryPct)}
}

// DoorbellPayload is the doorbell driver's probe result: a camera-style
// online/last-frame view plus a button-press counter since the last probe.
type DoorbellPayload struct {
	Online          bool  `json:"online"`
	LastFrameAt     int64 `json:"last_frame_unix,omitempty"`
	ButtonPresses   int   `json:"button_presses"`
}

func (DoorbellPayload) MetricFields() map[string]float64 { return nil }
