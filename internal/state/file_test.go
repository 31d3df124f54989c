package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"autopost/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, dir
}

func TestFileRoundTrip(t *testing.T) {
	store, dir := openTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pub := NewPublishState()
	pub.Rotation = Rotation{BucketIndex: 1, LastDay: "2026-03-01"}
	pub.RecordAttempt(ItemRef{SourceURL: "https://cdn.example/a.mp4", Bucket: "coarse", Title: "A"},
		AttemptOutcome{Result: ResultSuccess, RemoteID: "v100"}, now)

	if err := store.SavePublish("FB Reels", pub); err != nil {
		t.Fatalf("SavePublish: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fb_reels.publish.json")); err != nil {
		t.Fatalf("expected sanitized ledger filename: %v", err)
	}

	got, err := store.LoadPublish("FB Reels")
	if err != nil {
		t.Fatalf("LoadPublish: %v", err)
	}
	if got.Rotation.BucketIndex != 1 || got.Rotation.LastDay != "2026-03-01" {
		t.Fatalf("rotation lost: %+v", got.Rotation)
	}
	rec, ok := got.Items["https://cdn.example/a.mp4"]
	if !ok || rec.Result != ResultSuccess || rec.RemoteID != "v100" {
		t.Fatalf("item lost: %+v", rec)
	}
	if len(got.Runs) != 1 || got.Runs[0].RemoteID != "v100" {
		t.Fatalf("run log lost: %+v", got.Runs)
	}
}

func TestLoadMissingStartsEmpty(t *testing.T) {
	store, _ := openTestStore(t)
	pub, err := store.LoadPublish("youtube")
	if err != nil {
		t.Fatalf("LoadPublish: %v", err)
	}
	if len(pub.Items) != 0 || pub.Rotation.BucketIndex != -1 {
		t.Fatalf("expected fresh ledger, got %+v", pub)
	}
}

func TestLoadCorruptStartsFreshWithoutDeleting(t *testing.T) {
	store, dir := openTestStore(t)
	path := filepath.Join(dir, "youtube.publish.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	pub, err := store.LoadPublish("youtube")
	if err != nil {
		t.Fatalf("LoadPublish: %v", err)
	}
	if len(pub.Items) != 0 {
		t.Fatalf("expected fresh ledger, got %+v", pub)
	}

	// The corrupt original must survive for forensics.
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{not json" {
		t.Fatalf("corrupt file must be left untouched: %q %v", data, err)
	}
}

func TestCrashBeforeRenameKeepsOldLedger(t *testing.T) {
	store, dir := openTestStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pub := NewPublishState()
	pub.RecordAttempt(ItemRef{SourceURL: "https://cdn.example/a.mp4"},
		AttemptOutcome{Result: ResultSuccess, RemoteID: "v1"}, now)
	if err := store.SavePublish("fb", pub); err != nil {
		t.Fatalf("SavePublish: %v", err)
	}

	// Simulate a crash between temp write and rename: a half-written temp
	// file next to the real ledger.
	tmp := filepath.Join(dir, "fb.publish.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{"version":`), 0o600); err != nil {
		t.Fatalf("write tmp: %v", err)
	}

	got, err := store.LoadPublish("fb")
	if err != nil {
		t.Fatalf("LoadPublish: %v", err)
	}
	if !got.Published("https://cdn.example/a.mp4") {
		t.Fatalf("old ledger must still be readable: %+v", got)
	}
}

func TestEngageLegacyStatusMigration(t *testing.T) {
	store, dir := openTestStore(t)
	body := `{
		"items": {
			"v1": {"remote_id": "v1", "status": "commented"},
			"v2": {"remote_id": "v2", "status": "commented_unverified"}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "fb.engage.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	eng, err := store.LoadEngage("fb")
	if err != nil {
		t.Fatalf("LoadEngage: %v", err)
	}
	if eng.Version != CurrentVersion {
		t.Fatalf("version not stamped: %d", eng.Version)
	}
	if got := eng.Items["v1"].Status; got != CommentPosted {
		t.Fatalf("legacy commented: got %q", got)
	}
	if got := eng.Items["v2"].Status; got != CommentPostedUnverified {
		t.Fatalf("legacy commented_unverified: got %q", got)
	}
}
