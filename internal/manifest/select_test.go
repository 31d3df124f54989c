package manifest

import (
	"testing"
	"time"

	"autopost/internal/state"
)

func fixedDay(day string) func() time.Time {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t.Add(9 * time.Hour) }
}

func testBuckets() []Bucket {
	return []Bucket{
		{Name: "coarse", Items: []Item{
			{Bucket: "coarse", SourceURL: "https://cdn.example/a.mp4", Title: "A", Filename: "a.mp4"},
			{Bucket: "coarse", SourceURL: "https://cdn.example/b.mp4", Title: "B", Filename: "b.mp4"},
		}},
		{Name: "fine", Items: []Item{
			{Bucket: "fine", SourceURL: "https://cdn.example/c.mp4", Title: "C", Filename: "c.mp4"},
		}},
		{Name: "polish", Items: nil},
	}
}

func TestNextScansFromRotatedBucket(t *testing.T) {
	led := state.NewPublishState()
	sel := Selector{Now: fixedDay("2026-03-01")}

	it, ok := sel.Next(testBuckets(), led)
	if !ok || it.SourceURL != "https://cdn.example/a.mp4" {
		t.Fatalf("day 1: got %v ok=%v", it, ok)
	}
	if led.Rotation.BucketIndex != 0 || led.Rotation.LastDay != "2026-03-01" {
		t.Fatalf("rotation = %+v", led.Rotation)
	}

	// Same day, same start bucket.
	it, ok = sel.Next(testBuckets(), led)
	if !ok || it.Bucket != "coarse" {
		t.Fatalf("same day should keep the start bucket, got %v", it)
	}

	// Next day rotates to the second bucket.
	sel.Now = fixedDay("2026-03-02")
	it, ok = sel.Next(testBuckets(), led)
	if !ok || it.Bucket != "fine" {
		t.Fatalf("day 2: got %v ok=%v", it, ok)
	}
}

func TestNextWrapsPastEmptyBuckets(t *testing.T) {
	led := state.NewPublishState()
	led.Rotation = state.Rotation{BucketIndex: 1, LastDay: "2026-03-02"}
	sel := Selector{Now: fixedDay("2026-03-03")}

	// Day 3 starts at "polish" (empty) and must wrap to "coarse".
	it, ok := sel.Next(testBuckets(), led)
	if !ok || it.Bucket != "coarse" {
		t.Fatalf("expected wrap to coarse, got %v ok=%v", it, ok)
	}
	if led.Rotation.BucketIndex != 2 {
		t.Fatalf("cursor should stay on the rotated bucket, got %d", led.Rotation.BucketIndex)
	}
}

func TestRotationAdvancesEvenWhenNothingEligible(t *testing.T) {
	led := state.NewPublishState()
	sel := Selector{Now: fixedDay("2026-03-01")}

	if _, ok := sel.Next([]Bucket{{Name: "empty"}}, led); ok {
		t.Fatalf("nothing should be eligible")
	}
	if led.Rotation.LastDay != "2026-03-01" || led.Rotation.BucketIndex != 0 {
		t.Fatalf("rotation must advance regardless: %+v", led.Rotation)
	}
}

func TestEligibility(t *testing.T) {
	led := state.NewPublishState()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	led.RecordAttempt(state.ItemRef{SourceURL: "https://cdn.example/a.mp4"},
		state.AttemptOutcome{Result: state.ResultSuccess, RemoteID: "v1"}, now)
	led.RecordAttempt(state.ItemRef{SourceURL: "https://cdn.example/b.mp4"},
		state.AttemptOutcome{Result: state.ResultFailed, Error: "boom"}, now)

	sel := Selector{Now: fixedDay("2026-03-01")}

	// Published item is skipped; the failed one still has attempts left.
	it, ok := sel.Next(testBuckets(), led)
	if !ok || it.SourceURL != "https://cdn.example/b.mp4" {
		t.Fatalf("got %v ok=%v", it, ok)
	}

	// Exhaust the failed item's attempts.
	led.RecordAttempt(state.ItemRef{SourceURL: "https://cdn.example/b.mp4"},
		state.AttemptOutcome{Result: state.ResultFailed, Error: "boom"}, now)
	led.RecordAttempt(state.ItemRef{SourceURL: "https://cdn.example/b.mp4"},
		state.AttemptOutcome{Result: state.ResultFailed, Error: "boom"}, now)
	it, ok = sel.Next(testBuckets(), led)
	if !ok || it.SourceURL != "https://cdn.example/c.mp4" {
		t.Fatalf("exhausted item must be skipped, got %v ok=%v", it, ok)
	}
}

func TestEligibilityStatusFlag(t *testing.T) {
	led := state.NewPublishState()
	sel := Selector{Now: fixedDay("2026-03-01")}
	buckets := []Bucket{{Name: "coarse", Items: []Item{
		{Bucket: "coarse", SourceURL: "https://cdn.example/x.mp4", Title: "X", Status: "draft"},
		{Bucket: "coarse", SourceURL: "https://cdn.example/y.mp4", Title: "Y", Status: "Ready"},
		{Bucket: "coarse", SourceURL: "https://cdn.example/z.mp4", Title: ""},
	}}}

	it, ok := sel.Next(buckets, led)
	if !ok || it.SourceURL != "https://cdn.example/y.mp4" {
		t.Fatalf("only the ready item qualifies, got %v ok=%v", it, ok)
	}
}
