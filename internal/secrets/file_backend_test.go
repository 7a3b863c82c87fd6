package secrets

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

func writeEncryptedFile(t *testing.T, path string, key []byte, entries map[string]string) {
	t.Helper()
	encoded := map[string]string{}
	for name, plaintext := range entries {
		nonce := make([]byte, chacha20poly1305.NonceSize)
		_, err := rand.Read(nonce)
		require.NoError(t, err)
		enc, err := Encrypt(key, plaintext, nonce)
		require.NoError(t, err)
		encoded[name] = enc
	}
	data, err := json.Marshal(encoded)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestFileBackendResolvesEncryptedEntry(t *testing.T) {
	key := bytes.Repeat([]byte("k"), chacha20poly1305.KeySize)
	path := filepath.Join(t.TempDir(), "secrets.json")
	writeEncryptedFile(t, path, key, map[string]string{"camera-pw": "hunter2"})

	fb, err := NewFileBackend(path, key)
	require.NoError(t, err)

	value, ok, err := fb.Resolve(context.Background(), "camera-pw")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hunter2", value)
}

func TestFileBackendMissingFileIsNotAnError(t *testing.T) {
	key := bytes.Repeat([]byte("k"), chacha20poly1305.KeySize)
	fb, err := NewFileBackend(filepath.Join(t.TempDir(), "missing.json"), key)
	require.NoError(t, err)

	_, ok, err := fb.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewFileBackendRejectsBadKeySize(t *testing.T) {
	_, err := NewFileBackend("irrelevant.json", []byte("too-short"))
	require.Error(t, err)
}

// EncryptValue backs the -encrypt-secret authoring flag: its output must
// be a ready-to-paste entry this backend can resolve.
func TestEncryptValueRoundTripsThroughBackend(t *testing.T) {
	key := bytes.Repeat([]byte("k"), chacha20poly1305.KeySize)
	entry, err := EncryptValue(key, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secrets.json")
	data, err := json.Marshal(map[string]string{"camera-pw": entry})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	fb, err := NewFileBackend(path, key)
	require.NoError(t, err)

	value, ok, err := fb.Resolve(context.Background(), "camera-pw")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hunter2", value)
}
