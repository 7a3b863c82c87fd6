package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadingIsSuccess(t *testing.T) {
	ok := Success("plug-1", PlugPayload{PowerWatts: 12.5}, time.Now())
	assert.True(t, ok.IsSuccess())

	bad := Failed("plug-1", CauseTimeout, "deadline exceeded", time.Now())
	assert.False(t, bad.IsSuccess())
	assert.Equal(t, CauseTimeout, bad.Failure.Cause)
}

func TestEnvSensorPayloadMetricFieldsOmitsUnmeasured(t *testing.T) {
	p := EnvSensorPayload{Modules: map[string]EnvMeasurement{
		"outdoor": {CO2PPM: 812, HasCO2: true},
	}}
	fields := p.MetricFields()
	assert.Equal(t, 812.0, fields["co2_ppm:outdoor"])
	_, hasTemp := fields["temperature_celsius:outdoor"]
	assert.False(t, hasTemp)
}
