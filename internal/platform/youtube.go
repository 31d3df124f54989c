package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const (
	defaultYouTubeBase = "https://www.googleapis.com"

	ytTitleMax       = 100
	ytDescriptionMax = 5000

	ytCategoryHowtoStyle = "26"
)

// youtubeTarget publishes videos through the resumable upload protocol.
//
// Metadata travels with the session-init request; the final chunk response
// carries the video id, which Finalize then reports. The server acknowledges
// partial ranges with 308 and a Range header.
type youtubeTarget struct {
	base   string
	tokens TokenSource
	http   *Client
	limits Limits

	mu     sync.Mutex
	videos map[string]string // session id -> video id, filled by the last chunk
}

func newYouTube(opt Options) *youtubeTarget {
	base := strings.TrimRight(opt.BaseURL, "/")
	if base == "" {
		base = defaultYouTubeBase
	}
	limits := opt.Limits
	if limits.TitleMax <= 0 {
		limits.TitleMax = ytTitleMax
	}
	if limits.DescriptionMax <= 0 {
		limits.DescriptionMax = ytDescriptionMax
	}
	return &youtubeTarget{base: base, tokens: opt.Tokens, http: opt.HTTP, limits: limits, videos: map[string]string{}}
}

func (t *youtubeTarget) Name() string { return "youtube" }

func (t *youtubeTarget) Limits() Limits { return t.limits }

func (t *youtubeTarget) CreateSession(ctx context.Context, meta Metadata) (Session, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return Session{}, err
	}

	payload := map[string]any{
		"snippet": map[string]any{
			"title":       meta.Title,
			"description": meta.Description,
			"categoryId":  ytCategoryHowtoStyle,
		},
		"status": map[string]any{
			"privacyStatus":           "public",
			"selfDeclaredMadeForKids": false,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Session{}, err
	}

	u := t.base + "/upload/youtube/v3/videos?" + url.Values{
		"uploadType": {"resumable"},
		"part":       {"snippet,status"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if meta.MimeType != "" {
		req.Header.Set("X-Upload-Content-Type", meta.MimeType)
	}
	if meta.Size > 0 {
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(meta.Size, 10))
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return Session{}, err
	}
	respBody := readBody(resp.Body, 800)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, &APIError{Op: "create session", StatusCode: resp.StatusCode, Body: respBody}
	}

	uploadURL := resp.Header.Get("Location")
	sessionID := uploadIDFrom(uploadURL)
	if uploadURL == "" || sessionID == "" {
		return Session{}, ErrMissingSessionFields
	}
	return Session{ID: sessionID, UploadURL: uploadURL, Meta: meta}, nil
}

// uploadIDFrom extracts the upload_id query parameter from the resumable
// upload URL.
func uploadIDFrom(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("upload_id")
}

func (t *youtubeTarget) TransferBytes(ctx context.Context, sess Session, chunk []byte, offset, total int64) (int64, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sess.UploadURL, bytes.NewReader(chunk))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if sess.Meta.MimeType != "" {
		req.Header.Set("Content-Type", sess.Meta.MimeType)
	}
	end := offset + int64(len(chunk)) - 1
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))

	resp, err := t.http.Do(req)
	if err != nil {
		return 0, err
	}
	body := readBody(resp.Body, 800)

	switch {
	case resp.StatusCode == 308:
		// Resume Incomplete: Range header carries the acknowledged end.
		return parseRangeEnd(resp.Header.Get("Range")), nil
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var parsed struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(body), &parsed); err != nil || parsed.ID == "" {
			return 0, fmt.Errorf("transfer: upload finished but no video id returned")
		}
		t.mu.Lock()
		t.videos[sess.ID] = parsed.ID
		t.mu.Unlock()
		return total, nil
	default:
		return 0, &APIError{Op: "transfer", StatusCode: resp.StatusCode, Body: body}
	}
}

// parseRangeEnd turns "bytes=0-524287" into the next offset (524288).
// Returns 0 when the header is absent or malformed.
func parseRangeEnd(h string) int64 {
	h = strings.TrimSpace(h)
	i := strings.LastIndexByte(h, '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n + 1
}

func (t *youtubeTarget) videoID(sessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.videos[sessionID]
	return id, ok
}

func (t *youtubeTarget) GetStatus(ctx context.Context, sessionID string) (Status, error) {
	vid, ok := t.videoID(sessionID)
	if !ok {
		return Status{State: "uploading"}, nil
	}

	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return Status{}, err
	}

	u := t.base + "/youtube/v3/videos?" + url.Values{
		"part": {"status,processingDetails"},
		"id":   {vid},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.http.Do(req)
	if err != nil {
		return Status{}, err
	}
	body := readBody(resp.Body, 2000)
	if resp.StatusCode != http.StatusOK {
		return Status{}, &APIError{Op: "status", StatusCode: resp.StatusCode, Body: body}
	}

	var parsed struct {
		Items []struct {
			Status struct {
				UploadStatus  string `json:"uploadStatus"`
				FailureReason string `json:"failureReason"`
			} `json:"status"`
			ProcessingDetails struct {
				ProcessingStatus string `json:"processingStatus"`
			} `json:"processingDetails"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Status{}, fmt.Errorf("status: decode: %w", err)
	}
	if len(parsed.Items) == 0 {
		return Status{State: "unknown"}, nil
	}

	item := parsed.Items[0]
	upload := strings.ToLower(item.Status.UploadStatus)
	out := Status{State: upload}
	switch upload {
	case "processed":
		out.Done = true
	case "failed", "rejected":
		out.Failed = true
		out.Detail = item.Status.FailureReason
	}
	return out, nil
}

func (t *youtubeTarget) Finalize(ctx context.Context, sessionID, title, description string) (string, error) {
	_ = ctx
	_ = title
	_ = description
	// Metadata was submitted with the session init; publishing happens on
	// upload completion. Finalize only reports the assigned video id.
	vid, ok := t.videoID(sessionID)
	if !ok {
		return "", fmt.Errorf("finalize: no video id recorded for session %s", sessionID)
	}
	return vid, nil
}

func (t *youtubeTarget) CreateComment(ctx context.Context, remoteID, text string) (string, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"snippet": map[string]any{
			"videoId": remoteID,
			"topLevelComment": map[string]any{
				"snippet": map[string]any{"textOriginal": text},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	u := t.base + "/youtube/v3/commentThreads?part=snippet"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", err
	}
	respBody := readBody(resp.Body, 2000)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &APIError{Op: "comment", StatusCode: resp.StatusCode, Body: respBody}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(respBody), &parsed); err != nil || parsed.ID == "" {
		return "", fmt.Errorf("comment: response missing id")
	}
	return parsed.ID, nil
}

func (t *youtubeTarget) GetComment(ctx context.Context, commentID string) (bool, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return false, err
	}

	u := t.base + "/youtube/v3/commentThreads?" + url.Values{
		"part": {"id"},
		"id":   {commentID},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.http.Do(req)
	if err != nil {
		return false, err
	}
	body := readBody(resp.Body, 2000)
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, &APIError{Op: "get comment", StatusCode: resp.StatusCode, Body: body}
	}

	var parsed struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return false, fmt.Errorf("get comment: decode: %w", err)
	}
	return len(parsed.Items) > 0, nil
}
