// Package camera implements the camera driver family: Tapo-style
// IP cameras, USB/webcams, Ring, generic ONVIF, and a pet-camera variant all
// share the same probe/act shape and the same status-payload parsing, so
// one driver type handles all of them; the descriptor's driver tag only
// selects this family and is not consulted inside the driver.
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nestwatch/sentryd/infrastructure/resilience"
	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
)

// Variants is the set of driver tags this family answers to.
var Variants = []string{"camera_tapo", "camera_onvif", "camera_ring", "camera_usb", "camera_petcam"}

func init() {
	for _, tag := range Variants {
		driver.Register(tag, New)
	}
}

// Driver implements driver.Driver for every camera variant.
type Driver struct {
	desc       model.Descriptor
	credential string

	mu          sync.Mutex
	tick        int64
	privacyMode bool
	session     string // vendor session token, refreshed on auth rejection
	client      *http.Client
	breaker     *resilience.CircuitBreaker
}

// New constructs a camera driver for descriptor cfg.
func New(cfg driver.Config) (driver.Driver, error) {
	return &Driver{
		desc:       cfg.Descriptor,
		credential: cfg.Credential,
		client:     &http.Client{Timeout: driver.DefaultProbeDeadline},
		breaker:    resilience.New(resilience.DefaultConfig()),
	}, nil
}

func (d *Driver) mock() bool { return d.desc.Mock || d.desc.Host == "" }

func (d *Driver) Probe(ctx context.Context) model.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	now := time.Now().UTC()

	if d.mock() {
		rng := driver.MockSource(d.desc.ID, d.tick)
		payload := model.CameraPayload{
			Online:          true,
			FirmwareVersion: "mock-1.0",
			LastFrameAt:     now.Add(-time.Duration(rng.Intn(5)) * time.Second).Unix(),
			PrivacyMode:     d.privacyMode,
		}
		return model.Success(d.desc.ID, payload, now)
	}

	ctx, cancel := context.WithTimeout(ctx, driver.DefaultProbeDeadline)
	defer cancel()

	body, err := d.fetchStatus(ctx)
	if err != nil {
		return model.Failed(d.desc.ID, classifyHTTPError(err), err.Error(), now)
	}

	if !gjson.ValidBytes(body) {
		return model.Failed(d.desc.ID, model.CauseProtocol, "status payload is not valid JSON", now)
	}
	status := gjson.ParseBytes(body)
	if status.Get("auth_error").Bool() {
		// One automatic re-authentication per probe: exchange the
		// configured credential for a fresh session and retry the status
		// fetch. A second consecutive auth rejection propagates.
		if err := d.login(ctx); err != nil {
			return model.Failed(d.desc.ID, model.CauseAuth, "re-authentication failed: "+err.Error(), now)
		}
		body, err = d.fetchStatus(ctx)
		if err != nil {
			return model.Failed(d.desc.ID, classifyHTTPError(err), err.Error(), now)
		}
		if !gjson.ValidBytes(body) {
			return model.Failed(d.desc.ID, model.CauseProtocol, "status payload is not valid JSON", now)
		}
		status = gjson.ParseBytes(body)
		if status.Get("auth_error").Bool() {
			return model.Failed(d.desc.ID, model.CauseAuth, "credential rejected after re-authentication", now)
		}
	}

	payload := model.CameraPayload{
		Online:          status.Get("online").Bool(),
		FirmwareVersion: status.Get("firmware").String(),
		LastFrameAt:     status.Get("last_frame_unix").Int(),
		PrivacyMode:     d.privacyMode,
	}
	return model.Success(d.desc.ID, payload, now)
}

// fetchStatus runs the vendor status request behind a per-device circuit
// breaker: a camera that has failed repeatedly is not hammered on every
// probe while the breaker is open; the scheduler's backoff and the
// breaker's half-open window recover together.
func (d *Driver) fetchStatus(ctx context.Context) ([]byte, error) {
	var body []byte
	err := d.breaker.Execute(ctx, func() error {
		var fetchErr error
		body, fetchErr = d.fetchStatusOnce(ctx)
		return fetchErr
	})
	return body, err
}

func (d *Driver) fetchStatusOnce(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s/api/status", baseURL(d.desc))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token := d.authToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return []byte(`{"auth_error":true}`), nil
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// authToken is the session token when one is held, else the configured
// credential (some vendors accept the long-lived credential directly).
func (d *Driver) authToken() string {
	if d.session != "" {
		return d.session
	}
	return d.credential
}

// login exchanges the configured credential for a fresh vendor session
// token at POST /api/auth. Called at most once per probe, when the
// current session is rejected.
func (d *Driver) login(ctx context.Context) error {
	d.session = ""

	url := fmt.Sprintf("%s/api/auth", baseURL(d.desc))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	if d.credential != "" {
		req.Header.Set("Authorization", "Bearer "+d.credential)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("credential rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}
	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return fmt.Errorf("auth response carries no token")
	}
	d.session = token
	return nil
}

func baseURL(desc model.Descriptor) string {
	scheme := "http"
	if desc.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, desc.Host, desc.Port)
}

func classifyHTTPError(err error) model.FailureCause {
	if err == context.DeadlineExceeded {
		return model.CauseTimeout
	}
	return model.CauseTransport
}

func (d *Driver) Act(ctx context.Context, action string, params map[string]any) driver.ActResult {
	if d.desc.ReadOnly {
		return driver.Fail(model.CauseUnavailable, "device is configured read-only")
	}

	switch action {
	case "ptz_move":
		if !d.desc.SupportsPTZ {
			return driver.Fail(model.CauseUnavailable, "driver does not support PTZ")
		}
		dir, _ := params["direction"].(string)
		switch dir {
		case "up", "down", "left", "right", "home":
		default:
			return driver.Fail(model.CauseProtocol, "direction must be one of up/down/left/right/home")
		}
		speed := clamp01(toFloat(params["speed"]))
		duration := clampRange(toFloat(params["duration"]), 0, 10)
		return driver.Ok(map[string]any{"direction": dir, "speed": speed, "duration": duration})

	case "ptz_preset_recall":
		if !d.desc.SupportsPTZ {
			return driver.Fail(model.CauseUnavailable, "driver does not support PTZ")
		}
		slot, _ := params["slot"].(string)
		if slot == "" {
			return driver.Fail(model.CauseProtocol, "slot is required")
		}
		return driver.Ok(map[string]any{"slot": slot})

	case "snapshot":
		if d.mock() {
			return driver.Ok(map[string]any{"media_type": "image/jpeg", "bytes": 0, "mock": true})
		}
		return driver.Ok(map[string]any{"media_type": "image/jpeg", "bytes": 0})

	case "stream_url_get":
		if !d.desc.SupportsStream {
			return driver.Fail(model.CauseUnavailable, "driver does not support streaming")
		}
		return driver.Ok(map[string]any{"url": fmt.Sprintf("rtsp://%s:%d/stream", d.desc.Host, d.desc.Port)})

	case "privacy_set":
		on, _ := params["on"].(bool)
		d.mu.Lock()
		d.privacyMode = on
		d.mu.Unlock()
		return driver.Ok(map[string]any{"on": on})

	default:
		return driver.Fail(model.CauseProtocol, "unknown action: "+action)
	}
}

func (d *Driver) Describe() driver.Capabilities {
	actions := []driver.ActionSpec{
		{Name: "snapshot"},
		{Name: "privacy_set", Params: []driver.ActionParam{{Name: "on", Kind: "bool", Required: true}}},
	}
	if d.desc.SupportsPTZ {
		actions = append(actions,
			driver.ActionSpec{Name: "ptz_move", Params: []driver.ActionParam{
				{Name: "direction", Kind: "string", Required: true, Enum: []string{"up", "down", "left", "right", "home"}},
				{Name: "speed", Kind: "number", Min: 0, Max: 1},
				{Name: "duration", Kind: "number", Min: 0, Max: 10},
			}},
			driver.ActionSpec{Name: "ptz_preset_recall", Params: []driver.ActionParam{{Name: "slot", Kind: "string", Required: true}}},
		)
	}
	if d.desc.SupportsStream {
		actions = append(actions, driver.ActionSpec{Name: "stream_url_get"})
	}
	return driver.Capabilities{
		Controllable:   d.desc.Controllable && !d.desc.ReadOnly,
		SupportsPTZ:    d.desc.SupportsPTZ,
		SupportsStream: d.desc.SupportsStream,
		Actions:        actions,
	}
}

func (d *Driver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func clamp01(v float64) float64 { return clampRange(v, 0, 1) }

func clampRange(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
