package manifest

import (
	"strings"
	"time"

	"autopost/internal/state"
)

// DefaultMaxAttempts caps publish attempts per item.
const DefaultMaxAttempts = 3

// Selector picks the next eligible item under the ledger's rotation cursor.
type Selector struct {
	// MaxAttempts caps attempts per item; <=0 means DefaultMaxAttempts.
	MaxAttempts int

	// Now overrides the clock in tests. Rotation uses the UTC calendar day.
	Now func() time.Time
}

func (s Selector) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Selector) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Next advances the rotation cursor once per UTC day (even when nothing is
// eligible, so rotation progress survives empty runs), then scans buckets in
// rotation order and returns the first eligible item.
//
// An item is eligible when it has a source and title, its status flag (if
// present) is "ready", it has not already been published, and it has attempts
// left.
func (s Selector) Next(buckets []Bucket, led *state.PublishState) (Item, bool) {
	if len(buckets) == 0 {
		return Item{}, false
	}

	start := rotate(&led.Rotation, dayString(s.now()), len(buckets))

	max := s.maxAttempts()
	for i := 0; i < len(buckets); i++ {
		b := buckets[(start+i)%len(buckets)]
		for _, it := range b.Items {
			if !s.eligible(it, led, max) {
				continue
			}
			return it, true
		}
	}
	return Item{}, false
}

func (s Selector) eligible(it Item, led *state.PublishState, maxAttempts int) bool {
	if it.SourceURL == "" || it.Title == "" {
		return false
	}
	if it.Status != "" && strings.ToLower(it.Status) != "ready" {
		return false
	}
	if led.Published(it.SourceURL) {
		return false
	}
	return led.AttemptCount(it.SourceURL) < maxAttempts
}

// rotate advances the cursor by one (mod n) when the stored day differs from
// today, and returns the effective start index. Re-runs on the same day keep
// the same start.
func rotate(rot *state.Rotation, today string, n int) int {
	if rot.LastDay != today {
		if rot.BucketIndex < 0 {
			rot.BucketIndex = 0
		} else {
			rot.BucketIndex = (rot.BucketIndex + 1) % n
		}
		rot.LastDay = today
	}
	if rot.BucketIndex < 0 {
		return 0
	}
	return rot.BucketIndex % n
}

func dayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
