package engage

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"time"
)

// stableRNG returns a generator seeded by a stable key, so decisions and
// delays derived from an identity reproduce exactly across runs.
func stableRNG(seed string) *rand.Rand {
	sum := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
}

// jitterFor derives the pre-post delay for an identity on a given UTC day.
// Re-runs on the same day sleep the same amount; the next day re-rolls.
func jitterFor(remoteID string, day string, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	rng := stableRNG(remoteID + "|" + day)
	return time.Duration(rng.Int63n(int64(max) + 1))
}
