package state

import (
	"strings"
	"time"
)

// CurrentVersion is stamped on every ledger written by this code. Older or
// missing versions are normalized on load; downstream code never checks for
// key presence.
const CurrentVersion = 1

// Result is the terminal outcome of a publish attempt.
type Result string

const (
	ResultPending Result = "pending"
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// CommentStatus is the engagement state for one published item.
type CommentStatus string

const (
	CommentNone             CommentStatus = ""
	CommentPending          CommentStatus = "pending"
	CommentPostedUnverified CommentStatus = "posted_unverified"
	CommentPosted           CommentStatus = "posted"
	CommentNotFound         CommentStatus = "not_found"
	CommentSkipped          CommentStatus = "skipped"
	CommentFailed           CommentStatus = "failed"
)

// AttemptRecord is the durable publish history for one content identity
// (keyed by source URL). Attempts never decrease; result=success is terminal
// and never overwritten. Records are never deleted.
type AttemptRecord struct {
	SourceURL   string    `json:"source_url"`
	Bucket      string    `json:"bucket,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Title       string    `json:"title,omitempty"`
	Attempts    int       `json:"attempts"`
	Result      Result    `json:"result"`
	RemoteID    string    `json:"remote_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

// PublishRun is one chronological audit entry.
type PublishRun struct {
	At        time.Time `json:"at"`
	SourceURL string    `json:"source_url"`
	Bucket    string    `json:"bucket,omitempty"`
	Result    Result    `json:"result"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Rotation is the daily bucket-rotation cursor. It advances at most once per
// calendar day; the same day always yields the same starting bucket.
type Rotation struct {
	BucketIndex int    `json:"bucket_index"`
	LastDay     string `json:"last_day"` // UTC, "2006-01-02"
}

// PublishState is one target's publish ledger.
type PublishState struct {
	Version  int                       `json:"version"`
	Rotation Rotation                  `json:"rotation"`
	Items    map[string]*AttemptRecord `json:"items"`
	Runs     []PublishRun              `json:"runs"`
}

// AttemptOutcome is passed to RecordAttempt after a transfer run.
type AttemptOutcome struct {
	Result   Result
	RemoteID string
	Error    string
}

// NewPublishState returns an empty, normalized ledger.
func NewPublishState() *PublishState {
	return &PublishState{
		Version:  CurrentVersion,
		Rotation: Rotation{BucketIndex: -1},
		Items:    map[string]*AttemptRecord{},
		Runs:     []PublishRun{},
	}
}

// Normalize repairs a freshly loaded ledger once so the rest of the code
// never key-checks: nil maps become empty, the version is stamped, and the
// attempt counter never regresses below the run history.
func (s *PublishState) Normalize() {
	if s.Version <= 0 {
		s.Version = CurrentVersion
	}
	if s.Items == nil {
		s.Items = map[string]*AttemptRecord{}
	}
	if s.Runs == nil {
		s.Runs = []PublishRun{}
	}
	for key, rec := range s.Items {
		if rec == nil {
			delete(s.Items, key)
			continue
		}
		if rec.SourceURL == "" {
			rec.SourceURL = key
		}
		if rec.Attempts < 0 {
			rec.Attempts = 0
		}
		switch rec.Result {
		case ResultPending, ResultSuccess, ResultFailed:
		default:
			rec.Result = ResultPending
		}
	}
}

// Record returns the attempt record for an identity, if any.
func (s *PublishState) Record(sourceURL string) (*AttemptRecord, bool) {
	rec, ok := s.Items[sourceURL]
	return rec, ok
}

// RecordAttempt applies one transfer outcome: creates the record on first
// touch, increments the attempt counter, and appends a run entry. Writing
// the result of a later attempt over an already-successful record is not a
// valid transition; selection filters those identities out before a transfer
// ever starts, so this only guards against programming errors.
func (s *PublishState) RecordAttempt(item ItemRef, out AttemptOutcome, now time.Time) *AttemptRecord {
	rec := s.Items[item.SourceURL]
	if rec == nil {
		rec = &AttemptRecord{SourceURL: item.SourceURL}
		s.Items[item.SourceURL] = rec
	}
	if rec.Result != ResultSuccess {
		rec.Result = out.Result
		if out.RemoteID != "" {
			rec.RemoteID = out.RemoteID
		}
		rec.LastError = out.Error
	}
	rec.Bucket = item.Bucket
	rec.Filename = item.Filename
	rec.Title = item.Title
	rec.Attempts++
	rec.LastAttempt = now

	s.Runs = append(s.Runs, PublishRun{
		At:        now,
		SourceURL: item.SourceURL,
		Bucket:    item.Bucket,
		Result:    out.Result,
		RemoteID:  out.RemoteID,
		Error:     out.Error,
	})
	return rec
}

// ItemRef is the slice of content-item metadata the ledger keeps.
type ItemRef struct {
	SourceURL string
	Bucket    string
	Filename  string
	Title     string
}

// Published reports whether the identity has a terminal success.
func (s *PublishState) Published(sourceURL string) bool {
	rec, ok := s.Items[sourceURL]
	return ok && rec.Result == ResultSuccess
}

// AttemptCount returns the recorded attempts for the identity.
func (s *PublishState) AttemptCount(sourceURL string) int {
	rec, ok := s.Items[sourceURL]
	if !ok {
		return 0
	}
	return rec.Attempts
}

// SuccessesNewestFirst returns run entries with result=success, newest first,
// deduplicated by remote ID.
func (s *PublishState) SuccessesNewestFirst() []PublishRun {
	seen := map[string]bool{}
	out := make([]PublishRun, 0, 8)
	for i := len(s.Runs) - 1; i >= 0; i-- {
		run := s.Runs[i]
		if run.Result != ResultSuccess || run.RemoteID == "" {
			continue
		}
		if seen[run.RemoteID] {
			continue
		}
		seen[run.RemoteID] = true
		out = append(out, run)
	}
	return out
}

// CommentRecord is the engagement state for one published item, keyed by the
// remote published-asset identifier. Decision and TemplateIndex, once chosen,
// are fixed for the lifetime of the identity.
type CommentRecord struct {
	RemoteID       string        `json:"remote_id"`
	SourceURL      string        `json:"source_url,omitempty"`
	Bucket         string        `json:"bucket,omitempty"`
	Decision       string        `json:"decision,omitempty"` // "comment" | "skip"
	TemplateIndex  int           `json:"template_index"`
	CommentText    string        `json:"comment_text,omitempty"`
	Status         CommentStatus `json:"status,omitempty"`
	CommentID      string        `json:"comment_id,omitempty"`
	Attempts       int           `json:"attempts"`
	VerifyAttempts int           `json:"verify_attempts,omitempty"`
	PostedAt       time.Time     `json:"posted_at,omitempty"`
	VerifyAfter    time.Time     `json:"verify_after,omitempty"`
	RetryAfter     time.Time     `json:"retry_after,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

// CommentRun is one chronological engagement audit entry.
type CommentRun struct {
	At        time.Time     `json:"at"`
	RemoteID  string        `json:"remote_id"`
	Status    CommentStatus `json:"status"`
	CommentID string        `json:"comment_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// EngageState is one target's engagement ledger.
type EngageState struct {
	Version int                       `json:"version"`
	Items   map[string]*CommentRecord `json:"items"`
	Runs    []CommentRun              `json:"runs"`
}

// NewEngageState returns an empty, normalized ledger.
func NewEngageState() *EngageState {
	return &EngageState{
		Version: CurrentVersion,
		Items:   map[string]*CommentRecord{},
		Runs:    []CommentRun{},
	}
}

// Normalize repairs a freshly loaded ledger once. Legacy status spellings
// from earlier deployments are mapped onto the current enum.
func (s *EngageState) Normalize() {
	if s.Version <= 0 {
		s.Version = CurrentVersion
	}
	if s.Items == nil {
		s.Items = map[string]*CommentRecord{}
	}
	if s.Runs == nil {
		s.Runs = []CommentRun{}
	}
	for key, rec := range s.Items {
		if rec == nil {
			delete(s.Items, key)
			continue
		}
		if rec.RemoteID == "" {
			rec.RemoteID = key
		}
		rec.Status = normalizeCommentStatus(rec.Status)
		if rec.Attempts < 0 {
			rec.Attempts = 0
		}
	}
}

func normalizeCommentStatus(st CommentStatus) CommentStatus {
	switch CommentStatus(strings.ToLower(string(st))) {
	case CommentNone, CommentPending, CommentPostedUnverified, CommentPosted,
		CommentNotFound, CommentSkipped, CommentFailed:
		return CommentStatus(strings.ToLower(string(st)))
	case "commented": // legacy terminal spelling
		return CommentPosted
	case "commented_unverified":
		return CommentPostedUnverified
	default:
		return CommentNone
	}
}

// Record returns the comment record for a remote ID, creating it if absent.
func (s *EngageState) Record(remoteID string) *CommentRecord {
	rec := s.Items[remoteID]
	if rec == nil {
		rec = &CommentRecord{RemoteID: remoteID}
		s.Items[remoteID] = rec
	}
	return rec
}

// AppendRun appends one engagement audit entry.
func (s *EngageState) AppendRun(run CommentRun) {
	s.Runs = append(s.Runs, run)
}
