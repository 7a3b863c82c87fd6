package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvBackend resolves a credential reference against an environment
// variable of the same name. Any variable matching
// *_PASSWORD, *_TOKEN, *_SECRET, *_KEY is eligible; this backend does not
// enforce that naming convention itself, it simply reads os.Getenv.
type EnvBackend struct{}

func (EnvBackend) Name() string { return "env" }

func (EnvBackend) Resolve(_ context.Context, ref string) (string, bool, error) {
	value := strings.TrimSpace(os.Getenv(ref))
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}
