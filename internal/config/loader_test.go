package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/nestwatch/sentryd/internal/driver/all"
	"github.com/nestwatch/sentryd/internal/secrets"
)

type stubBackend map[string]string

func (s stubBackend) Name() string { return "stub" }

func (s stubBackend) Resolve(_ context.Context, ref string) (string, bool, error) {
	v, ok := s[ref]
	return v, ok, nil
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
devices:
  - id: plug-1
    driver: plug_generic
    category: plug
    label: Office plug
    mock: true
  - id: cam-1
    driver: camera_tapo
    category: camera
    label: Porch camera
    credential_ref: cam-1-password
scheduler:
  default_interval_seconds: 20
  failure_threshold: 2
event_store:
  capacity: 500
secrets:
  backends: [env]
`

func TestLoadParsesYAMLAndAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "devices.yaml", validYAML)
	sink := secrets.New(stubBackend{"cam-1-password": "hunter2"})

	result, err := Load(path, sink)
	require.NoError(t, err)
	require.Len(t, result.Descriptors, 2)

	assert.Equal(t, 2, result.Settings.FailureThreshold)
	assert.Equal(t, 500, result.Settings.EventStoreCapacity)
	assert.Equal(t, 256, result.Settings.SubscriptionBuffer) // default, not set in YAML

	byID := map[string]bool{}
	for _, d := range result.Descriptors {
		byID[d.ID] = true
		if d.ID == "cam-1" {
			assert.False(t, d.Disabled)
		}
	}
	assert.True(t, byID["plug-1"])
	assert.True(t, byID["cam-1"])
}

func TestLoadDisablesDeviceWithUnresolvedSecret(t *testing.T) {
	path := writeConfig(t, "devices.yaml", validYAML)
	sink := secrets.New(stubBackend{}) // resolves nothing

	result, err := Load(path, sink)
	require.NoError(t, err)

	for _, d := range result.Descriptors {
		if d.ID == "cam-1" {
			assert.True(t, d.Disabled)
			assert.Equal(t, "disabled", d.Driver)
			assert.Contains(t, d.DisabledReason, "cam-1-password")
		}
	}
}

func TestLoadRejectsDuplicateDeviceIDs(t *testing.T) {
	path := writeConfig(t, "devices.yaml", `
devices:
  - id: plug-1
    driver: plug_generic
    category: plug
    mock: true
  - id: plug-1
    driver: plug_generic
    category: plug
    mock: true
`)
	_, err := Load(path, secrets.New())
	require.Error(t, err)
}

func TestLoadDisablesDeviceWithUnknownDriver(t *testing.T) {
	path := writeConfig(t, "devices.yaml", `
devices:
  - id: thing-1
    driver: not_a_real_driver
    category: plug
`)
	result, err := Load(path, secrets.New())
	require.NoError(t, err)
	require.Len(t, result.Descriptors, 1)

	d := result.Descriptors[0]
	assert.True(t, d.Disabled)
	assert.Equal(t, "disabled", d.Driver)
	assert.Contains(t, d.DisabledReason, "not_a_real_driver")
	assert.NotEmpty(t, result.Warnings)
}

func TestLoadClampsIntervalsBelowMinimum(t *testing.T) {
	path := writeConfig(t, "devices.yaml", `
devices:
  - id: plug-1
    driver: plug_generic
    category: plug
    mock: true
    interval_seconds: 2
scheduler:
  default_interval_seconds: 3
`)
	result, err := Load(path, secrets.New())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, result.Settings.DefaultInterval)
	assert.Equal(t, 5*time.Second, result.Descriptors[0].IntervalOverride)
	assert.Len(t, result.Warnings, 2)
}

func TestLoadRejectsZeroCapacity(t *testing.T) {
	path := writeConfig(t, "devices.yaml", `
devices: []
event_store:
  capacity: 0
`)
	_, err := Load(path, secrets.New())
	require.Error(t, err)
}

func TestLoadRejectsUnrecognizedExtension(t *testing.T) {
	path := writeConfig(t, "devices.toml", "devices = []")
	_, err := Load(path, secrets.New())
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), secrets.New())
	require.Error(t, err)
}
