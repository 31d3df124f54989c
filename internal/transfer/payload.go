package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Payload is a staged local copy of the asset bytes. Close removes the
// backing file; a payload is never reused across transfer attempts.
type Payload struct {
	Path string
	Size int64
}

func (p *Payload) Close() error {
	if p == nil || p.Path == "" {
		return nil
	}
	return os.Remove(p.Path)
}

// Open returns a reader over the staged bytes.
func (p *Payload) Open() (io.ReadCloser, error) {
	return os.Open(p.Path)
}

// Stager acquires the payload for one transfer attempt.
type Stager interface {
	Stage(ctx context.Context, sourceURL string) (*Payload, error)
}

// HTTPStager downloads the source asset to a temp file.
type HTTPStager struct {
	Client *http.Client
}

func (s *HTTPStager) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

func (s *HTTPStager) Stage(ctx context.Context, sourceURL string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("stage: fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stage: fetch %s: HTTP %d", sourceURL, resp.StatusCode)
	}

	f, err := os.CreateTemp("", "autopost-payload-*")
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("stage: copy %s: %w", sourceURL, err)
	}
	return &Payload{Path: f.Name(), Size: n}, nil
}

// MimeTypeFor guesses the payload MIME type from the filename.
func MimeTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", "":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
