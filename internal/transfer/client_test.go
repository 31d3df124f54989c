package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autopost/internal/manifest"
	"autopost/internal/platform"
	"autopost/pkg/logx"
)

// fakeTarget scripts the platform side of the protocol.
type fakeTarget struct {
	transferErrs []error // consumed one per TransferBytes call
	ack          func(offset int64, n int, total int64) int64
	statuses     []platform.Status

	meta      platform.Metadata
	chunks    [][]byte
	offsets   []int64
	finalized bool
}

func (f *fakeTarget) Name() string { return "fake" }

func (f *fakeTarget) Limits() platform.Limits {
	return platform.Limits{TitleMax: 10, DescriptionMax: 20}
}

func (f *fakeTarget) CreateSession(ctx context.Context, meta platform.Metadata) (platform.Session, error) {
	f.meta = meta
	return platform.Session{ID: "sess-1", UploadURL: "https://upload.example/sess-1", Meta: meta}, nil
}

func (f *fakeTarget) TransferBytes(ctx context.Context, sess platform.Session, chunk []byte, offset, total int64) (int64, error) {
	call := len(f.offsets)
	f.offsets = append(f.offsets, offset)
	f.chunks = append(f.chunks, append([]byte(nil), chunk...))
	if call < len(f.transferErrs) && f.transferErrs[call] != nil {
		return 0, f.transferErrs[call]
	}
	if f.ack != nil {
		return f.ack(offset, len(chunk), total), nil
	}
	return 0, nil
}

func (f *fakeTarget) GetStatus(ctx context.Context, sessionID string) (platform.Status, error) {
	if len(f.statuses) == 0 {
		return platform.Status{State: "done", Done: true}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return st, nil
}

func (f *fakeTarget) Finalize(ctx context.Context, sessionID, title, description string) (string, error) {
	f.finalized = true
	return "remote-42", nil
}

func (f *fakeTarget) CreateComment(ctx context.Context, remoteID, text string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeTarget) GetComment(ctx context.Context, commentID string) (bool, error) {
	return false, errors.New("not used")
}

// fakeStager materializes the same payload bytes on every call and counts
// how many times staging happened.
type fakeStager struct {
	dir     string
	content []byte
	stages  int
}

func (s *fakeStager) Stage(ctx context.Context, sourceURL string) (*Payload, error) {
	s.stages++
	path := filepath.Join(s.dir, "payload")
	if err := os.WriteFile(path, s.content, 0o600); err != nil {
		return nil, err
	}
	return &Payload{Path: path, Size: int64(len(s.content))}, nil
}

func newTestClient(t *testing.T, target platform.Target, stager Stager, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	c := New(target, stager, cfg, logx.Nop())
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func testItem() manifest.Item {
	return manifest.Item{
		Bucket:    "coarse",
		SourceURL: "https://cdn.example/a.mp4",
		Filename:  "a.mp4",
		Title:     "A short clip about sanding things down",
	}
}

func TestPublishChunkedAdvancesWithoutAck(t *testing.T) {
	target := &fakeTarget{}
	stager := &fakeStager{dir: t.TempDir(), content: []byte("0123456789")}
	c, _ := newTestClient(t, target, stager, Config{Mode: ModeChunked, ChunkSize: 4})

	remoteID, err := c.Publish(context.Background(), testItem())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if remoteID != "remote-42" || !target.finalized {
		t.Fatalf("remoteID=%q finalized=%v", remoteID, target.finalized)
	}

	wantOffsets := []int64{0, 4, 8}
	if len(target.offsets) != len(wantOffsets) {
		t.Fatalf("offsets = %v", target.offsets)
	}
	for i, want := range wantOffsets {
		if target.offsets[i] != want {
			t.Fatalf("offset[%d] = %d, want %d", i, target.offsets[i], want)
		}
	}
	if got := len(target.chunks[2]); got != 2 {
		t.Fatalf("final chunk should carry the remainder, got %d bytes", got)
	}
}

func TestPublishChunkedFollowsServerAck(t *testing.T) {
	target := &fakeTarget{
		// The server acknowledges further than the bytes just sent, as a
		// resumed session does after a duplicate range.
		ack: func(offset int64, n int, total int64) int64 {
			end := offset + int64(n)
			if end < total {
				end = total - 2
			}
			return end
		},
	}
	stager := &fakeStager{dir: t.TempDir(), content: []byte("0123456789")}
	c, _ := newTestClient(t, target, stager, Config{Mode: ModeChunked, ChunkSize: 4})

	if _, err := c.Publish(context.Background(), testItem()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// First chunk acked through 8, so the second starts there.
	if len(target.offsets) != 2 || target.offsets[1] != 8 {
		t.Fatalf("offsets = %v", target.offsets)
	}
}

func TestPublishRetriesTransientAndRestages(t *testing.T) {
	target := &fakeTarget{
		transferErrs: []error{
			&platform.APIError{Op: "transfer", StatusCode: 503, Body: "unavailable"},
		},
	}
	stager := &fakeStager{dir: t.TempDir(), content: []byte("payload")}
	c, slept := newTestClient(t, target, stager, Config{Mode: ModeSingle})

	if _, err := c.Publish(context.Background(), testItem()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(target.offsets) != 2 {
		t.Fatalf("expected one retry, got %d calls", len(target.offsets))
	}
	if len(*slept) < 1 || (*slept)[0] != 30*time.Second {
		t.Fatalf("first backoff must be 30s, slept %v", *slept)
	}
	if stager.stages != 2 {
		t.Fatalf("payload must be re-staged between attempts, staged %d times", stager.stages)
	}
}

func TestPublishAbortsOnTerminalError(t *testing.T) {
	target := &fakeTarget{
		transferErrs: []error{
			&platform.APIError{Op: "transfer", StatusCode: 403, Body: "permission"},
		},
	}
	stager := &fakeStager{dir: t.TempDir(), content: []byte("payload")}
	c, slept := newTestClient(t, target, stager, Config{Mode: ModeSingle})

	_, err := c.Publish(context.Background(), testItem())
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *platform.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 403 {
		t.Fatalf("expected the 403 surfaced, got %v", err)
	}
	if len(target.offsets) != 1 {
		t.Fatalf("terminal error must not be retried, got %d calls", len(target.offsets))
	}
	if len(*slept) != 0 {
		t.Fatalf("no backoff on terminal error, slept %v", *slept)
	}
}

func TestPublishSurfacesLastErrorOnExhaustion(t *testing.T) {
	target := &fakeTarget{
		transferErrs: []error{
			&platform.APIError{Op: "transfer", StatusCode: 503},
			&platform.APIError{Op: "transfer", StatusCode: 500, Body: "last"},
		},
	}
	stager := &fakeStager{dir: t.TempDir(), content: []byte("payload")}
	c, slept := newTestClient(t, target, stager, Config{
		Mode:  ModeSingle,
		Retry: RetryPolicy{MaxAttempts: 2, Delays: []time.Duration{time.Second}},
	})

	_, err := c.Publish(context.Background(), testItem())
	if err == nil || !strings.Contains(err.Error(), "last") {
		t.Fatalf("last transient error must surface, got %v", err)
	}
	if len(*slept) != 1 {
		t.Fatalf("slept %v", *slept)
	}
}

func TestPublishProcessingTimeout(t *testing.T) {
	target := &fakeTarget{
		statuses: []platform.Status{{State: "processing"}},
	}
	stager := &fakeStager{dir: t.TempDir(), content: []byte("payload")}
	c, _ := newTestClient(t, target, stager, Config{Mode: ModeSingle, PollTimeout: time.Nanosecond})

	_, err := c.Publish(context.Background(), testItem())
	if err == nil || !strings.Contains(err.Error(), "processing") {
		t.Fatalf("timeout must report the last-seen state, got %v", err)
	}
	if target.finalized {
		t.Fatalf("finalize must not run after a timeout")
	}
}

func TestPublishTruncatesMetadata(t *testing.T) {
	target := &fakeTarget{} // TitleMax 10
	stager := &fakeStager{dir: t.TempDir(), content: []byte("payload")}
	c, _ := newTestClient(t, target, stager, Config{Mode: ModeSingle})

	if _, err := c.Publish(context.Background(), testItem()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := runeCount(target.meta.Title); got > 10 {
		t.Fatalf("title not clipped to the target limit: %q (%d runes)", target.meta.Title, got)
	}
	if !strings.HasSuffix(target.meta.Title, "…") {
		t.Fatalf("clipped title must end in an ellipsis: %q", target.meta.Title)
	}
}

func runeCount(s string) int { return len([]rune(s)) }

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"a longer title here", 10, "a longer…"},
		{"héllo wörld", 7, "héllo…"},
		{"anything", 0, "anything"},
		{"ab", 1, "…"},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
