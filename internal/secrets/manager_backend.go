package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nestwatch/sentryd/infrastructure/resilience"
)

// ManagerTokenEnv names the bearer token used to authenticate against the
// manager backend, when the manager requires one.
const ManagerTokenEnv = "SECRETS_MANAGER_TOKEN"

// ManagerBackend resolves credential references against an external secret
// manager reachable over HTTP, addressed as manager:<url> in
// secrets.backends. It issues GET <url>/secrets/<ref> and expects a JSON
// body {"value": "..."}; a 404 is treated as "not found" rather than an
// error so the chain can fall through.
type ManagerBackend struct {
	baseURL string
	token   string
	client  *http.Client
	retry   resilience.RetryConfig
}

// NewManagerBackend builds a ManagerBackend for baseURL (the portion after
// "manager:" in the backend spec).
func NewManagerBackend(baseURL string) *ManagerBackend {
	return &ManagerBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   strings.TrimSpace(os.Getenv(ManagerTokenEnv)),
		client:  &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
		},
	}
}

func (m *ManagerBackend) Name() string { return "manager:" + m.baseURL }

func (m *ManagerBackend) Resolve(ctx context.Context, ref string) (string, bool, error) {
	endpoint := fmt.Sprintf("%s/secrets/%s", m.baseURL, url.PathEscape(ref))

	// Transient manager failures are retried with backoff; a definitive
	// answer (found, or a 404 fall-through) is returned immediately.
	var value string
	var found bool
	err := resilience.Retry(ctx, m.retry, func() error {
		var attemptErr error
		value, found, attemptErr = m.fetch(ctx, endpoint)
		return attemptErr
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (m *ManagerBackend) fetch(ctx context.Context, endpoint string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, err
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, fmt.Errorf("manager backend: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", false, fmt.Errorf("manager backend: decoding response: %w", err)
	}
	if payload.Value == "" {
		return "", false, nil
	}
	return payload.Value, true, nil
}
