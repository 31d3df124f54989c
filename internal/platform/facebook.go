package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultGraphBase    = "https://graph.facebook.com"
	defaultGraphVersion = "v21.0"

	fbTitleMax       = 100
	fbDescriptionMax = 2000
)

// facebookTarget publishes Page Reels through the Graph API.
//
// Upload phases: start (session), transfer (hosted file_url or raw bytes
// with offset/file_size headers), finish (publish). Status is polled on the
// video object's status field.
type facebookTarget struct {
	base    string
	version string
	tokens  TokenSource
	http    *Client
	limits  Limits
}

func newFacebook(opt Options) *facebookTarget {
	base := strings.TrimRight(opt.BaseURL, "/")
	if base == "" {
		base = defaultGraphBase
	}
	version := strings.TrimSpace(opt.Version)
	if version == "" {
		version = defaultGraphVersion
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	limits := opt.Limits
	if limits.TitleMax <= 0 {
		limits.TitleMax = fbTitleMax
	}
	if limits.DescriptionMax <= 0 {
		limits.DescriptionMax = fbDescriptionMax
	}
	return &facebookTarget{base: base, version: version, tokens: opt.Tokens, http: opt.HTTP, limits: limits}
}

func (t *facebookTarget) Name() string { return "facebook" }

func (t *facebookTarget) Limits() Limits { return t.limits }

func (t *facebookTarget) graphURL(path string) string {
	return t.base + "/" + t.version + path
}

func (t *facebookTarget) CreateSession(ctx context.Context, meta Metadata) (Session, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return Session{}, err
	}

	q := url.Values{}
	q.Set("access_token", token)
	q.Set("upload_phase", "start")

	var resp struct {
		VideoID   string `json:"video_id"`
		UploadURL string `json:"upload_url"`
	}
	if err := t.postForm(ctx, "create session", t.graphURL("/me/video_reels"), q, &resp); err != nil {
		return Session{}, err
	}
	if resp.VideoID == "" || resp.UploadURL == "" {
		return Session{}, ErrMissingSessionFields
	}
	return Session{ID: resp.VideoID, UploadURL: resp.UploadURL, Meta: meta}, nil
}

func (t *facebookTarget) TransferBytes(ctx context.Context, sess Session, chunk []byte, offset, total int64) (int64, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return 0, err
	}

	var req *http.Request
	if chunk == nil {
		// Hosted mode: the platform pulls the payload itself.
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, sess.UploadURL, nil)
		if err != nil {
			return 0, err
		}
		req.Header.Set("file_url", sess.Meta.SourceURL)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, sess.UploadURL, strings.NewReader(string(chunk)))
		if err != nil {
			return 0, err
		}
		req.Header.Set("offset", strconv.FormatInt(offset, 10))
		req.Header.Set("file_size", strconv.FormatInt(total, 10))
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	req.Header.Set("Authorization", "OAuth "+token)

	resp, err := t.http.Do(req)
	if err != nil {
		return 0, err
	}
	body := readBody(resp.Body, 800)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, &APIError{Op: "transfer", StatusCode: resp.StatusCode, Body: body}
	}

	// Some responses carry {"success": true} only; offset acknowledgement is
	// optional, so 0 lets the caller track locally.
	var ack struct {
		StartOffset json.Number `json:"start_offset"`
		EndOffset   json.Number `json:"end_offset"`
	}
	if err := json.Unmarshal([]byte(body), &ack); err == nil {
		if end, err := ack.EndOffset.Int64(); err == nil && end > 0 {
			return end, nil
		}
	}
	return 0, nil
}

func (t *facebookTarget) GetStatus(ctx context.Context, sessionID string) (Status, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return Status{}, err
	}

	u := t.graphURL("/"+sessionID) + "?" + url.Values{
		"fields":       {"status"},
		"access_token": {token},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return Status{}, err
	}
	body := readBody(resp.Body, 2000)
	if resp.StatusCode != http.StatusOK {
		return Status{}, &APIError{Op: "status", StatusCode: resp.StatusCode, Body: body}
	}

	var parsed struct {
		Status struct {
			VideoStatus     string `json:"video_status"`
			UploadingPhase  fbPhase `json:"uploading_phase"`
			ProcessingPhase fbPhase `json:"processing_phase"`
			PublishingPhase fbPhase `json:"publishing_phase"`
		} `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Status{}, fmt.Errorf("status: decode: %w", err)
	}

	st := parsed.Status
	videoStatus := strings.ToLower(st.VideoStatus)
	out := Status{State: videoStatus}

	for _, phase := range []fbPhase{st.UploadingPhase, st.ProcessingPhase, st.PublishingPhase} {
		if s := strings.ToLower(phase.Status); s == "error" || s == "failed" {
			out.Failed = true
			out.Detail = "phase status " + s
			return out, nil
		}
	}
	if strings.ToLower(st.PublishingPhase.Status) == "complete" ||
		videoStatus == "ready" || videoStatus == "published" {
		out.Done = true
	}
	return out, nil
}

type fbPhase struct {
	Status string `json:"status"`
}

func (t *facebookTarget) Finalize(ctx context.Context, sessionID, title, description string) (string, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("access_token", token)
	q.Set("video_id", sessionID)
	q.Set("upload_phase", "finish")
	q.Set("video_state", "PUBLISHED")
	if title != "" {
		q.Set("title", title)
	}
	if description != "" {
		q.Set("description", description)
	}

	var resp struct {
		Success bool   `json:"success"`
		PostID  string `json:"post_id"`
	}
	if err := t.postForm(ctx, "finalize", t.graphURL("/me/video_reels"), q, &resp); err != nil {
		return "", err
	}
	// The reel is addressed by its video id afterwards.
	return sessionID, nil
}

func (t *facebookTarget) CreateComment(ctx context.Context, remoteID, text string) (string, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("access_token", token)
	q.Set("message", text)

	var resp struct {
		ID string `json:"id"`
	}
	if err := t.postForm(ctx, "comment", t.graphURL("/"+remoteID+"/comments"), q, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("comment: response missing id")
	}
	return resp.ID, nil
}

func (t *facebookTarget) GetComment(ctx context.Context, commentID string) (bool, error) {
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return false, err
	}

	u := t.graphURL("/"+commentID) + "?" + url.Values{
		"fields":       {"id"},
		"access_token": {token},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return false, err
	}
	body := readBody(resp.Body, 800)
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(body, "does not exist"):
		// Graph reports deleted objects as code 100 on HTTP 400.
		return false, nil
	default:
		return false, &APIError{Op: "get comment", StatusCode: resp.StatusCode, Body: body}
	}
}

// postForm posts URL-encoded values and decodes a JSON response into out.
func (t *facebookTarget) postForm(ctx context.Context, op, rawURL string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(q.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	body := readBody(resp.Body, 2000)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: body, Retriable: graphTransient(body)}
	}
	if out == nil || body == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// graphTransient detects the Graph error subcodes documented as retriable.
func graphTransient(body string) bool {
	var parsed struct {
		Error struct {
			IsTransient bool `json:"is_transient"`
			Code        int  `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return false
	}
	// Code 2 is the documented "service temporarily unavailable".
	return parsed.Error.IsTransient || parsed.Error.Code == 2
}
