// Package engage posts a single delayed first comment per published item
// and later re-verifies that the comment still exists.
//
// All randomness (comment/skip, template choice, jitter) is derived from
// generators seeded by the item's stable identity, so repeated runs make
// identical choices. The target platform's reads are not immediately
// consistent after a comment write, which is why posting only reaches the
// provisional posted_unverified state; a later verification pass promotes
// it to posted or reopens it.
package engage

import (
	"context"
	"fmt"
	"time"

	"autopost/internal/platform"
	"autopost/internal/state"
	"autopost/pkg/logx"
)

const (
	DecisionComment = "comment"
	DecisionSkip    = "skip"
)

// Config tunes one scheduler instance.
type Config struct {
	// Probability of commenting per published item, 0..1.
	Probability float64
	// Templates used for comment text; DefaultTemplates when empty.
	Templates []string

	JitterMax     time.Duration // 0 disables the pre-post delay
	VerifyDelay   time.Duration // default 30m
	RetryCooldown time.Duration // default 1h

	MaxCommentAttempts int // default 2
}

func (c Config) templates() []string {
	if len(c.Templates) > 0 {
		return c.Templates
	}
	return DefaultTemplates
}

func (c Config) verifyDelay() time.Duration {
	if c.VerifyDelay > 0 {
		return c.VerifyDelay
	}
	return 30 * time.Minute
}

func (c Config) retryCooldown() time.Duration {
	if c.RetryCooldown > 0 {
		return c.RetryCooldown
	}
	return time.Hour
}

func (c Config) maxCommentAttempts() int {
	if c.MaxCommentAttempts > 0 {
		return c.MaxCommentAttempts
	}
	return 2
}

// Persist writes the engagement ledger back to durable storage. The
// scheduler checkpoints after every state transition so a killed process
// never loses a decision or a posted comment id.
type Persist func(*state.EngageState) error

// Scheduler runs one engagement cycle per invocation.
type Scheduler struct {
	target platform.Target
	cfg    Config
	log    logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(target platform.Target, cfg Config, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		target: target,
		cfg:    cfg,
		log:    log.With(logx.String("platform", target.Name())),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run scans the publish ledger's successes (newest first), picks the first
// eligible identity, and advances its engagement state one step: decide,
// jitter, post, or verify when the item is waiting on verification.
// Returns (false, nil) when nothing is eligible.
func (s *Scheduler) Run(ctx context.Context, pub *state.PublishState, eng *state.EngageState, persist Persist) (bool, error) {
	run, rec := s.selectNext(pub, eng)
	if run == nil {
		s.log.Debug("no eligible published item for engagement")
		return false, nil
	}

	if rec.Status == state.CommentPostedUnverified {
		return true, s.verifyOne(ctx, eng, rec, persist)
	}
	item, _ := pub.Record(run.SourceURL)
	return true, s.postOne(ctx, eng, rec, run, item, persist)
}

// Peek reports what Run would act on next without posting or persisting
// anything. action is "post" or "verify".
func (s *Scheduler) Peek(pub *state.PublishState, eng *state.EngageState) (remoteID, action string, ok bool) {
	run, rec := s.selectNext(pub, eng)
	if run == nil {
		return "", "", false
	}
	if rec.Status == state.CommentPostedUnverified {
		return run.RemoteID, "verify", true
	}
	return run.RemoteID, "post", true
}

// selectNext returns the newest-first eligible success run and its comment
// record (created on first touch).
func (s *Scheduler) selectNext(pub *state.PublishState, eng *state.EngageState) (*state.PublishRun, *state.CommentRecord) {
	now := s.now()
	for _, run := range pub.SuccessesNewestFirst() {
		rec, exists := eng.Items[run.RemoteID]
		if !exists {
			r := run
			return &r, eng.Record(run.RemoteID)
		}

		switch rec.Status {
		case state.CommentPosted:
			continue
		case state.CommentPostedUnverified:
			if now.Before(rec.VerifyAfter) {
				continue
			}
		case state.CommentSkipped, state.CommentFailed, state.CommentNotFound:
			if now.Before(rec.RetryAfter) {
				continue
			}
			if rec.Decision == DecisionComment && rec.Attempts >= s.cfg.maxCommentAttempts() {
				continue
			}
		case state.CommentPending, state.CommentNone:
			if rec.Attempts >= s.cfg.maxCommentAttempts() {
				continue
			}
		}
		r := run
		return &r, rec
	}
	return nil, nil
}

// postOne advances a new or reopened identity: fix the decision, sleep the
// jitter, post the comment, and leave it provisional.
func (s *Scheduler) postOne(ctx context.Context, eng *state.EngageState, rec *state.CommentRecord, run *state.PublishRun, item *state.AttemptRecord, persist Persist) error {
	now := s.now()
	templates := s.cfg.templates()

	// Decision and template index are fixed on first derivation and persisted
	// before anything else happens, so a rerun can never choose differently.
	if rec.Decision == "" {
		rng := stableRNG(rec.RemoteID)
		if rng.Float64() < s.cfg.Probability {
			rec.Decision = DecisionComment
		} else {
			rec.Decision = DecisionSkip
		}
		rec.TemplateIndex = rng.Intn(len(templates))
		if err := persist(eng); err != nil {
			return err
		}
	}

	if rec.SourceURL == "" {
		rec.SourceURL = run.SourceURL
	}
	if rec.Bucket == "" {
		rec.Bucket = run.Bucket
	}

	if rec.Decision == DecisionSkip {
		rec.Status = state.CommentSkipped
		rec.RetryAfter = now.Add(s.cfg.retryCooldown())
		eng.AppendRun(state.CommentRun{At: now, RemoteID: rec.RemoteID, Status: state.CommentSkipped})
		s.log.Info("comment skipped by policy", logx.String("remote_id", rec.RemoteID))
		return persist(eng)
	}

	if delay := jitterFor(rec.RemoteID, now.UTC().Format("2006-01-02"), s.cfg.JitterMax); delay > 0 {
		s.log.Info("jitter sleep before comment",
			logx.String("remote_id", rec.RemoteID),
			logx.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}

	text := s.commentText(rec, item)

	// Mark pending with the attempt counted before the network call, so a
	// crash mid-post cannot under-count.
	rec.Attempts++
	rec.Status = state.CommentPending
	rec.CommentText = text
	if err := persist(eng); err != nil {
		return err
	}

	now = s.now()
	commentID, err := s.target.CreateComment(ctx, rec.RemoteID, text)
	if err != nil {
		rec.Status = state.CommentFailed
		rec.LastError = err.Error()
		rec.RetryAfter = now.Add(s.cfg.retryCooldown())
		eng.AppendRun(state.CommentRun{At: now, RemoteID: rec.RemoteID, Status: state.CommentFailed, Error: err.Error()})
		if perr := persist(eng); perr != nil {
			return perr
		}
		return fmt.Errorf("post comment: %w", err)
	}

	rec.Status = state.CommentPostedUnverified
	rec.CommentID = commentID
	rec.PostedAt = now
	rec.VerifyAfter = now.Add(s.cfg.verifyDelay())
	rec.LastError = ""
	eng.AppendRun(state.CommentRun{At: now, RemoteID: rec.RemoteID, Status: state.CommentPostedUnverified, CommentID: commentID})
	s.log.Info("comment posted, verification pending",
		logx.String("remote_id", rec.RemoteID),
		logx.String("comment_id", commentID),
		logx.Time("verify_after", rec.VerifyAfter))
	return persist(eng)
}

// verifyOne resolves a provisional comment: confirm it still exists, or mark
// it not found and reopen a single bounded retry.
func (s *Scheduler) verifyOne(ctx context.Context, eng *state.EngageState, rec *state.CommentRecord, persist Persist) error {
	now := s.now()

	exists, err := s.target.GetComment(ctx, rec.CommentID)
	if err != nil {
		return fmt.Errorf("verify comment: %w", err)
	}

	if exists {
		rec.Status = state.CommentPosted
		rec.VerifyAfter = time.Time{}
		eng.AppendRun(state.CommentRun{At: now, RemoteID: rec.RemoteID, Status: state.CommentPosted, CommentID: rec.CommentID})
		s.log.Info("comment verified", logx.String("remote_id", rec.RemoteID))
		return persist(eng)
	}

	rec.Status = state.CommentNotFound
	rec.CommentID = ""
	rec.RetryAfter = now.Add(s.cfg.retryCooldown())
	// One reopening per identity: a comment lost once gets exactly one more
	// attempt even if the counter had already hit the cap.
	if rec.VerifyAttempts == 0 && rec.Attempts >= s.cfg.maxCommentAttempts() {
		rec.Attempts = s.cfg.maxCommentAttempts() - 1
	}
	rec.VerifyAttempts++
	eng.AppendRun(state.CommentRun{At: now, RemoteID: rec.RemoteID, Status: state.CommentNotFound})
	s.log.Warn("comment not found on verification, reopened",
		logx.String("remote_id", rec.RemoteID),
		logx.Int("attempts", rec.Attempts))
	return persist(eng)
}

// VerifyDue runs the verification pass over every record awaiting it.
// Returns the number of records checked.
func (s *Scheduler) VerifyDue(ctx context.Context, eng *state.EngageState, persist Persist) (int, error) {
	now := s.now()
	checked := 0
	for _, rec := range eng.Items {
		if rec.Status != state.CommentPostedUnverified {
			continue
		}
		if now.Before(rec.VerifyAfter) {
			continue
		}
		if err := s.verifyOne(ctx, eng, rec, persist); err != nil {
			return checked, err
		}
		checked++
	}
	return checked, nil
}

func (s *Scheduler) commentText(rec *state.CommentRecord, item *state.AttemptRecord) string {
	templates := s.cfg.templates()
	idx := rec.TemplateIndex
	if idx < 0 || idx >= len(templates) {
		idx = 0
	}
	var grit string
	if item != nil {
		grit = ParseGrit(item.Filename)
		if grit == "" {
			grit = ParseGrit(item.Title)
		}
	}
	if grit == "" {
		grit = ParseGrit(rec.SourceURL)
	}
	surface := SurfaceFromBucket(rec.Bucket)
	return RenderTemplate(templates[idx], grit, surface)
}
