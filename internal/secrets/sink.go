// Package secrets implements the Secret Sink: an
// ordered chain of backends that resolves a symbolic credential reference to
// a raw secret value. The chain never caches failures across reloads and
// never logs resolved values; callers are responsible for keeping them out of
// descriptors, events, and metrics.
package secrets

import (
	"context"
	"fmt"
	"strings"

	infraerrors "github.com/nestwatch/sentryd/infrastructure/errors"
)

// Backend resolves a named secret, or reports that it has no opinion about
// that name by returning ok=false with a nil error. A non-nil error means the
// backend itself is unusable (e.g. the manager endpoint is unreachable) and
// should not be interpreted as "not found".
type Backend interface {
	Name() string
	Resolve(ctx context.Context, ref string) (value string, ok bool, err error)
}

// Sink resolves credential references against an ordered list of backends,
// first hit wins, matching the `secrets.backends` config order.
type Sink struct {
	backends []Backend
}

// New builds a Sink from already-constructed backends, preserving order.
func New(backends ...Backend) *Sink {
	return &Sink{backends: backends}
}

// Resolve walks the backend chain in order and returns the first match.
// It returns infrastructure/errors.SecretUnresolved if no backend holds ref.
func (s *Sink) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", infraerrors.MissingParameter("credential reference")
	}
	for _, b := range s.backends {
		value, ok, err := b.Resolve(ctx, ref)
		if err != nil {
			return "", infraerrors.Wrap(infraerrors.ErrCodeSecretUnresolved,
				fmt.Sprintf("backend %s failed resolving %q", b.Name(), ref), 500, err)
		}
		if ok {
			return value, nil
		}
	}
	return "", infraerrors.SecretUnresolved(ref)
}

// BackendNames reports the configured chain order, used in startup logs.
func (s *Sink) BackendNames() []string {
	names := make([]string, len(s.backends))
	for i, b := range s.backends {
		names[i] = b.Name()
	}
	return names
}
