package secrets

import (
	"fmt"
	"os"
	"strings"
)

// BuildBackends parses the ordered secrets.backends list
// ("env", "file:<path>", "manager:<url>") into concrete Backend instances,
// in the order given. The file backend's master key is read from
// MasterKeyEnv only when a file: backend is actually configured.
func BuildBackends(specs []string) ([]Backend, error) {
	backends := make([]Backend, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		switch {
		case spec == "env":
			backends = append(backends, EnvBackend{})
		case strings.HasPrefix(spec, "file:"):
			path := strings.TrimPrefix(spec, "file:")
			if path == "" {
				return nil, fmt.Errorf("secrets: file backend requires a path, got %q", spec)
			}
			fb, err := NewFileBackend(path, []byte(os.Getenv(MasterKeyEnv)))
			if err != nil {
				return nil, err
			}
			backends = append(backends, fb)
		case strings.HasPrefix(spec, "manager:"):
			rawURL := strings.TrimPrefix(spec, "manager:")
			if rawURL == "" {
				return nil, fmt.Errorf("secrets: manager backend requires a URL, got %q", spec)
			}
			backends = append(backends, NewManagerBackend(rawURL))
		default:
			return nil, fmt.Errorf("secrets: unrecognized backend spec %q", spec)
		}
	}
	return backends, nil
}
