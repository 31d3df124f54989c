package engage

import (
	"context"
	"errors"
	"testing"
	"time"

	"autopost/internal/platform"
	"autopost/internal/state"
	"autopost/pkg/logx"
)

// commentTarget fakes only the comment surface of a platform target.
type commentTarget struct {
	commentID  string
	commentErr error
	exists     bool
	verifyErr  error

	created  []string // comment texts, in order
	verified []string // comment ids checked
}

func (f *commentTarget) Name() string            { return "fake" }
func (f *commentTarget) Limits() platform.Limits { return platform.Limits{} }

func (f *commentTarget) CreateSession(ctx context.Context, meta platform.Metadata) (platform.Session, error) {
	return platform.Session{}, errors.New("not used")
}

func (f *commentTarget) TransferBytes(ctx context.Context, sess platform.Session, chunk []byte, offset, total int64) (int64, error) {
	return 0, errors.New("not used")
}

func (f *commentTarget) GetStatus(ctx context.Context, sessionID string) (platform.Status, error) {
	return platform.Status{}, errors.New("not used")
}

func (f *commentTarget) Finalize(ctx context.Context, sessionID, title, description string) (string, error) {
	return "", errors.New("not used")
}

func (f *commentTarget) CreateComment(ctx context.Context, remoteID, text string) (string, error) {
	f.created = append(f.created, text)
	if f.commentErr != nil {
		return "", f.commentErr
	}
	return f.commentID, nil
}

func (f *commentTarget) GetComment(ctx context.Context, commentID string) (bool, error) {
	f.verified = append(f.verified, commentID)
	return f.exists, f.verifyErr
}

func testScheduler(t *testing.T, target *commentTarget, cfg Config, now time.Time) *Scheduler {
	t.Helper()
	s := New(target, cfg, logx.Nop())
	s.now = func() time.Time { return now }
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func publishedState(remoteID, sourceURL string, at time.Time) *state.PublishState {
	pub := state.NewPublishState()
	pub.RecordAttempt(
		state.ItemRef{SourceURL: sourceURL, Bucket: "wood", Filename: "sanding-220-grit.mp4", Title: "220 grit finish"},
		state.AttemptOutcome{Result: state.ResultSuccess, RemoteID: remoteID}, at)
	return pub
}

func countingPersist(n *int) Persist {
	return func(*state.EngageState) error { *n++; return nil }
}

func TestRunPostsProvisionalComment(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := &commentTarget{commentID: "c-9"}
	s := testScheduler(t, target, Config{Probability: 1.0, JitterMax: 0}, now)

	pub := publishedState("v1", "https://cdn.example/a.mp4", now.Add(-time.Hour))
	eng := state.NewEngageState()
	persists := 0

	acted, err := s.Run(context.Background(), pub, eng, countingPersist(&persists))
	if err != nil || !acted {
		t.Fatalf("Run: acted=%v err=%v", acted, err)
	}

	rec := eng.Items["v1"]
	if rec == nil {
		t.Fatalf("no record created")
	}
	if rec.Status != state.CommentPostedUnverified {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.CommentID != "c-9" || rec.Attempts != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if want := now.Add(30 * time.Minute); !rec.VerifyAfter.Equal(want) {
		t.Fatalf("verify_after = %v, want %v", rec.VerifyAfter, want)
	}
	if len(target.created) != 1 || target.created[0] == "" {
		t.Fatalf("created = %v", target.created)
	}
	// decision persist + pending persist + posted persist
	if persists < 3 {
		t.Fatalf("expected a checkpoint per transition, got %d", persists)
	}
}

func TestRunDecisionIsStable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := publishedState("v1", "https://cdn.example/a.mp4", now.Add(-time.Hour))

	var firstDecision string
	var firstTemplate int
	for i := 0; i < 3; i++ {
		target := &commentTarget{commentID: "c-1"}
		s := testScheduler(t, target, Config{Probability: 0.5}, now)
		eng := state.NewEngageState()
		persists := 0
		if _, err := s.Run(context.Background(), pub, eng, countingPersist(&persists)); err != nil {
			t.Fatalf("Run: %v", err)
		}
		rec := eng.Items["v1"]
		if i == 0 {
			firstDecision, firstTemplate = rec.Decision, rec.TemplateIndex
			continue
		}
		if rec.Decision != firstDecision || rec.TemplateIndex != firstTemplate {
			t.Fatalf("decision drifted: run %d got %q/%d, want %q/%d",
				i, rec.Decision, rec.TemplateIndex, firstDecision, firstTemplate)
		}
	}
}

func TestRunSkipsWhenProbabilityZero(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := &commentTarget{}
	s := testScheduler(t, target, Config{Probability: 0, Templates: DefaultTemplates}, now)

	pub := publishedState("v1", "https://cdn.example/a.mp4", now.Add(-time.Hour))
	eng := state.NewEngageState()
	persists := 0

	acted, err := s.Run(context.Background(), pub, eng, countingPersist(&persists))
	if err != nil || !acted {
		t.Fatalf("Run: acted=%v err=%v", acted, err)
	}
	rec := eng.Items["v1"]
	if rec.Status != state.CommentSkipped || rec.Decision != DecisionSkip {
		t.Fatalf("record = %+v", rec)
	}
	if rec.RetryAfter.IsZero() {
		t.Fatalf("skip must set a cooldown")
	}
	if len(target.created) != 0 {
		t.Fatalf("skip must not call the platform")
	}

	// Within the cooldown the identity is not reconsidered.
	acted, err = s.Run(context.Background(), pub, eng, countingPersist(&persists))
	if err != nil || acted {
		t.Fatalf("cooldown not honored: acted=%v err=%v", acted, err)
	}
}

func TestVerifyTiming(t *testing.T) {
	posted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := publishedState("v1", "https://cdn.example/a.mp4", posted.Add(-time.Hour))

	eng := state.NewEngageState()
	rec := eng.Record("v1")
	rec.Decision = DecisionComment
	rec.Status = state.CommentPostedUnverified
	rec.CommentID = "c-1"
	rec.Attempts = 1
	rec.PostedAt = posted
	rec.VerifyAfter = posted.Add(30 * time.Minute)

	target := &commentTarget{exists: true}
	persists := 0

	// 29 minutes in: too early, nothing to do.
	s := testScheduler(t, target, Config{}, posted.Add(29*time.Minute))
	acted, err := s.Run(context.Background(), pub, eng, countingPersist(&persists))
	if err != nil || acted {
		t.Fatalf("verify ran early: acted=%v err=%v", acted, err)
	}
	if len(target.verified) != 0 {
		t.Fatalf("no platform call expected yet")
	}

	// 31 minutes in: verification resolves the record.
	s = testScheduler(t, target, Config{}, posted.Add(31*time.Minute))
	acted, err = s.Run(context.Background(), pub, eng, countingPersist(&persists))
	if err != nil || !acted {
		t.Fatalf("verify did not run: acted=%v err=%v", acted, err)
	}
	if rec.Status != state.CommentPosted {
		t.Fatalf("status = %q", rec.Status)
	}
	if !rec.VerifyAfter.IsZero() {
		t.Fatalf("verify_after must be cleared")
	}
	if len(target.verified) != 1 || target.verified[0] != "c-1" {
		t.Fatalf("verified = %v", target.verified)
	}
}

func TestVerifyNotFoundReopensOnce(t *testing.T) {
	posted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng := state.NewEngageState()
	rec := eng.Record("v1")
	rec.Decision = DecisionComment
	rec.Status = state.CommentPostedUnverified
	rec.CommentID = "c-1"
	rec.Attempts = 2 // already at the cap
	rec.VerifyAfter = posted.Add(30 * time.Minute)

	target := &commentTarget{exists: false}
	now := posted.Add(31 * time.Minute)
	s := testScheduler(t, target, Config{MaxCommentAttempts: 2}, now)
	persists := 0

	if err := s.verifyOne(context.Background(), eng, rec, countingPersist(&persists)); err != nil {
		t.Fatalf("verifyOne: %v", err)
	}
	if rec.Status != state.CommentNotFound || rec.CommentID != "" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Attempts != 1 {
		t.Fatalf("first disappearance reopens one attempt, got attempts=%d", rec.Attempts)
	}
	if rec.VerifyAttempts != 1 {
		t.Fatalf("verify_attempts = %d", rec.VerifyAttempts)
	}

	// A second disappearance must not grant another attempt.
	rec.Status = state.CommentPostedUnverified
	rec.CommentID = "c-2"
	rec.Attempts = 2
	if err := s.verifyOne(context.Background(), eng, rec, countingPersist(&persists)); err != nil {
		t.Fatalf("verifyOne: %v", err)
	}
	if rec.Attempts != 2 {
		t.Fatalf("second disappearance must not reset attempts, got %d", rec.Attempts)
	}
}

func TestVerifyDueSweepsAllDue(t *testing.T) {
	posted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng := state.NewEngageState()
	for i, id := range []string{"v1", "v2", "v3"} {
		rec := eng.Record(id)
		rec.Status = state.CommentPostedUnverified
		rec.CommentID = "c-" + id
		rec.VerifyAfter = posted.Add(time.Duration(i) * time.Hour)
	}
	// v3 is not due yet at +90 minutes.
	target := &commentTarget{exists: true}
	s := testScheduler(t, target, Config{}, posted.Add(90*time.Minute))
	persists := 0

	checked, err := s.VerifyDue(context.Background(), eng, countingPersist(&persists))
	if err != nil {
		t.Fatalf("VerifyDue: %v", err)
	}
	if checked != 2 {
		t.Fatalf("checked = %d, want 2", checked)
	}
	if eng.Items["v3"].Status != state.CommentPostedUnverified {
		t.Fatalf("v3 must stay provisional")
	}
}

func TestPostFailureSetsCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := &commentTarget{commentErr: errors.New("api down")}
	s := testScheduler(t, target, Config{Probability: 1.0}, now)

	pub := publishedState("v1", "https://cdn.example/a.mp4", now.Add(-time.Hour))
	eng := state.NewEngageState()
	persists := 0

	_, err := s.Run(context.Background(), pub, eng, countingPersist(&persists))
	if err == nil {
		t.Fatalf("expected post error")
	}
	rec := eng.Items["v1"]
	if rec.Status != state.CommentFailed || rec.Attempts != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.RetryAfter.Equal(now.Add(time.Hour)) {
		t.Fatalf("retry_after = %v", rec.RetryAfter)
	}
}

func TestJitterDeterministicPerDay(t *testing.T) {
	max := 30 * time.Minute
	a := jitterFor("v1", "2026-03-01", max)
	b := jitterFor("v1", "2026-03-01", max)
	if a != b {
		t.Fatalf("same identity and day must jitter identically: %v vs %v", a, b)
	}
	if a < 0 || a > max {
		t.Fatalf("jitter out of range: %v", a)
	}
	if jitterFor("v1", "", 0) != 0 {
		t.Fatalf("zero max must disable jitter")
	}
}

func TestCommentTextUsesItemMetadata(t *testing.T) {
	s := New(&commentTarget{}, Config{
		Probability: 1.0,
		Templates:   []string{"Start with {grit} grit on {surface}."},
	}, logx.Nop())

	rec := &state.CommentRecord{RemoteID: "v1", Bucket: "wood.json"}
	item := &state.AttemptRecord{Filename: "sanding-220-grit.mp4", Title: "finish pass"}

	got := s.commentText(rec, item)
	if got != "Start with 220 grit on wood." {
		t.Fatalf("commentText = %q", got)
	}

	// Without metadata the placeholders degrade gracefully.
	got = s.commentText(&state.CommentRecord{RemoteID: "v2"}, nil)
	if got != "Start with this grit on surface." {
		t.Fatalf("fallback = %q", got)
	}
}
