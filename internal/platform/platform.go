// Package platform abstracts the external publishing targets behind one
// interface so the pipeline never branches on platform name. Each target
// implements the same protocol shape: create an upload session, transfer
// payload bytes, poll processing status, finalize, plus comment create/read
// for the engagement worker.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TokenSource yields the access token for API calls. Implementations may
// cache; failure is fatal and non-retriable.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Metadata describes the asset being published.
type Metadata struct {
	SourceURL   string
	Filename    string
	Title       string
	Description string
	Size        int64 // payload bytes; 0 in hosted mode
	MimeType    string
}

// Session identifies one upload in progress. Both fields are required; a
// create response missing either is a non-retriable error.
type Session struct {
	ID        string
	UploadURL string
	Meta      Metadata
}

// Status is one poll observation.
type Status struct {
	State  string // platform-specific last-seen state, for logs and errors
	Done   bool   // terminal success signal observed
	Failed bool   // terminal failure signal observed
	Detail string // error detail when Failed
}

// Limits are the target's metadata length caps.
type Limits struct {
	TitleMax       int
	DescriptionMax int
}

// Target is one publishing platform.
//
// TransferBytes submits one payload range starting at offset; it returns the
// end offset the server acknowledged, or 0 when the response carries none
// (the caller then advances by its own count). In hosted mode chunk is nil
// and the target fetches the payload from Meta.SourceURL itself.
type Target interface {
	Name() string
	Limits() Limits

	CreateSession(ctx context.Context, meta Metadata) (Session, error)
	TransferBytes(ctx context.Context, sess Session, chunk []byte, offset, total int64) (acceptedEnd int64, err error)
	GetStatus(ctx context.Context, sessionID string) (Status, error)
	Finalize(ctx context.Context, sessionID, title, description string) (remoteID string, err error)

	CreateComment(ctx context.Context, remoteID, text string) (commentID string, err error)
	GetComment(ctx context.Context, commentID string) (exists bool, err error)
}

// Options configures a target construction.
type Options struct {
	BaseURL string // override API root; empty means platform default
	Version string // Graph API version etc.
	Tokens  TokenSource
	HTTP    *Client

	// Limits overrides the platform text limits; zero fields keep defaults.
	Limits Limits
}

// New constructs the named platform target.
func New(platform string, opt Options) (Target, error) {
	if opt.Tokens == nil {
		return nil, errors.New("platform: token source is required")
	}
	if opt.HTTP == nil {
		opt.HTTP = NewClient(0)
	}
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "facebook":
		return newFacebook(opt), nil
	case "youtube":
		return newYouTube(opt), nil
	default:
		return nil, fmt.Errorf("platform: unknown platform %q", platform)
	}
}

// APIError is a non-2xx platform response. Retriable marks responses the
// platform itself flags as transient beyond what the status code implies.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Retriable  bool
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, body)
}

// ErrMissingSessionFields reports a create-session response without both a
// session identifier and an upload endpoint. Never retried.
var ErrMissingSessionFields = errors.New("platform: create session response missing id or upload url")
