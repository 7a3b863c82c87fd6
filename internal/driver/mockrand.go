package driver

import (
	"hash/fnv"
	"math/rand"
)

// MockSource returns a *rand.Rand seeded deterministically from deviceID
// and tick, so mock drivers synthesize plausible-but-stable readings:
// the same device at the same tick always produces the same values, and
// mock mode is indistinguishable in shape from live mode.
func MockSource(deviceID string, tick int64) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(deviceID))
	seed := int64(h.Sum64()) ^ tick
	return rand.New(rand.NewSource(seed))
}
