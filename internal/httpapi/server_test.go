package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestwatch/sentryd/infrastructure/logging"
	"github.com/nestwatch/sentryd/infrastructure/metrics"
	"github.com/nestwatch/sentryd/infrastructure/redaction"
	"github.com/nestwatch/sentryd/internal/dispatcher"
	_ "github.com/nestwatch/sentryd/internal/driver/all"
	"github.com/nestwatch/sentryd/internal/eventstore"
	"github.com/nestwatch/sentryd/internal/health"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/registry"
	"github.com/nestwatch/sentryd/internal/scheduler"
	"github.com/nestwatch/sentryd/internal/secrets"
)

type env struct {
	server *httptest.Server
	store  *eventstore.Store
	reg    *registry.Registry
	sched  *scheduler.Scheduler
}

func newEnv(t *testing.T, descriptors ...model.Descriptor) *env {
	t.Helper()

	logger := logging.New("httpapi-test", "error", "json", redaction.New(nil))
	logger.SetOutput(io.Discard)

	reg := registry.New(secrets.New())
	store := eventstore.New(1000, 32, nil)
	mets := metrics.New()
	sched := scheduler.New(reg, health.New(3), store, mets, 0)

	ctx := context.Background()
	for _, desc := range descriptors {
		h, err := reg.Register(ctx, desc)
		require.NoError(t, err)
		sched.StartDevice(ctx, h)
	}
	t.Cleanup(sched.Stop)

	disp := dispatcher.New(reg, sched, store, redaction.New(nil))
	s := New(reg, store, sched, disp, mets, logger, nil)

	server := httptest.NewServer(s.Router())
	t.Cleanup(server.Close)

	return &env{server: server, store: store, reg: reg, sched: sched}
}

func (e *env) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var body map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func (e *env) post(t *testing.T, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func mockPlug(id string) model.Descriptor {
	return model.Descriptor{ID: id, Driver: "plug_generic", Category: model.CategoryPlug, Controllable: true, Mock: true}
}

func TestDevicesListsRegisteredDevices(t *testing.T) {
	e := newEnv(t, mockPlug("plug-1"), mockPlug("plug-2"))

	resp, body := e.get(t, "/api/devices")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	devices := body["devices"].([]any)
	assert.Len(t, devices, 2)
}

func TestEventsQueryHonorsFilters(t *testing.T) {
	e := newEnv(t)
	e.store.Append(model.Event{Severity: model.SeverityInfo, Category: "a", Source: "x", Message: "one"})
	e.store.Append(model.Event{Severity: model.SeverityAlarm, Category: "b", Source: "x", Message: "two"})

	resp, body := e.get(t, "/api/events?severity=alarm")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, _ = e.get(t, "/api/events?severity=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAcknowledgeLifecycle(t *testing.T) {
	e := newEnv(t)
	seq := e.store.Append(model.Event{Severity: model.SeverityWarning, Category: "t", Source: "x", Message: "warn"})
	path := "/api/events/" + strconv.FormatUint(seq, 10) + "/acknowledge"

	resp, _ := e.post(t, path, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.post(t, path, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.post(t, "/api/events/999999/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthzReflectsScheduler(t *testing.T) {
	e := newEnv(t, mockPlug("plug-1"))

	resp, _ := e.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	e.sched.Stop()
	resp, _ = e.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsExposesStoreSize(t *testing.T) {
	e := newEnv(t)
	e.store.Append(model.Event{Severity: model.SeverityInfo, Category: "t", Source: "x", Message: "m"})

	resp, err := http.Get(e.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), "event_store_size 1")
}

func TestToolCallRoundTrip(t *testing.T) {
	e := newEnv(t, mockPlug("plug-1"))

	resp, body := e.post(t, "/api/tools/plug", toolRequest{
		Action: "power_set",
		Params: map[string]any{"device": "plug-1", "on": false},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	audits := e.store.Query(0, "", model.CategoryActionInvoked, 0)
	assert.Len(t, audits, 1)
}

func TestToolCallRejectsMissingAction(t *testing.T) {
	e := newEnv(t)

	resp, body := e.post(t, "/api/tools/plug", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "protocol", body["cause"])
}

func TestToolListEnumerates(t *testing.T) {
	e := newEnv(t)

	resp, body := e.get(t, "/api/tools")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
}
