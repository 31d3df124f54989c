// Package transfer executes the four-step publish protocol against one
// platform target: open session, transfer payload bytes, poll processing
// status to a terminal state, finalize. The byte-transfer step is guarded
// by a bounded retry loop with a transient-error classifier; the other
// steps run at most once per invocation.
package transfer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"autopost/internal/manifest"
	"autopost/internal/platform"
	"autopost/pkg/logx"
)

// Mode fixes how payload bytes reach the target. A deployment choice, never
// runtime-negotiated.
type Mode string

const (
	// ModeHosted hands the source URL to the target, which fetches the
	// payload itself. No local staging.
	ModeHosted Mode = "hosted"
	// ModeSingle stages the payload and submits it in one request with an
	// explicit byte length and a zero offset.
	ModeSingle Mode = "single"
	// ModeChunked stages the payload and submits successive byte ranges,
	// advancing by the server-acknowledged offset.
	ModeChunked Mode = "chunked"
)

const defaultChunkSize = 8 << 20

// Config tunes one client instance.
type Config struct {
	Mode         Mode
	ChunkSize    int64         // chunked mode; default 8 MiB
	PollInterval time.Duration // default 5s
	PollTimeout  time.Duration // default 10m
	Retry        RetryPolicy
}

func (c Config) chunkSize() int64 {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return defaultChunkSize
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 5 * time.Second
}

func (c Config) pollTimeout() time.Duration {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return 10 * time.Minute
}

// Client runs the publish protocol for one target.
type Client struct {
	target platform.Target
	stager Stager
	cfg    Config
	log    logx.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(target platform.Target, stager Stager, cfg Config, log logx.Logger) *Client {
	if stager == nil {
		stager = &HTTPStager{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		target: target,
		stager: stager,
		cfg:    cfg,
		log:    log.With(logx.String("platform", target.Name())),
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

// Publish runs the whole four-step sequence once and returns the remote
// published identifier. Retries apply only to the byte-transfer step; any
// error from the other steps fails this invocation.
func (c *Client) Publish(ctx context.Context, item manifest.Item) (string, error) {
	limits := c.target.Limits()
	title := Truncate(item.Title, limits.TitleMax)
	description := Truncate(item.Description, limits.DescriptionMax)

	meta := platform.Metadata{
		SourceURL:   item.SourceURL,
		Filename:    item.Filename,
		Title:       title,
		Description: description,
		MimeType:    MimeTypeFor(item.Filename),
	}

	// Hosted mode never stages; otherwise stage once up front so the
	// session init can announce the payload size.
	var payload *Payload
	if c.cfg.Mode != ModeHosted {
		var err error
		payload, err = c.stager.Stage(ctx, item.SourceURL)
		if err != nil {
			return "", fmt.Errorf("stage payload: %w", err)
		}
		defer payload.Close()
		meta.Size = payload.Size
	}

	sess, err := c.target.CreateSession(ctx, meta)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	c.log.Info("upload session open", logx.String("session", sess.ID))

	if err := c.transferWithRetry(ctx, sess, &payload); err != nil {
		return "", fmt.Errorf("transfer: %w", err)
	}

	if err := c.awaitProcessed(ctx, sess.ID); err != nil {
		return "", err
	}

	remoteID, err := c.target.Finalize(ctx, sess.ID, title, description)
	if err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	c.log.Info("published", logx.String("remote_id", remoteID))
	return remoteID, nil
}

// transferWithRetry drives the byte-transfer step under the retry policy.
// Between attempts the staged payload is discarded and re-acquired; partial
// local state never survives a failed attempt.
func (c *Client) transferWithRetry(ctx context.Context, sess platform.Session, payload **Payload) error {
	max := c.cfg.Retry.maxAttempts()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		lastErr = c.transferOnce(ctx, sess, *payload)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return lastErr
		}
		if attempt == max {
			break
		}

		delay := c.cfg.Retry.delayFor(attempt)
		c.log.Warn("transient transfer error, retrying",
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(lastErr))
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}

		if c.cfg.Mode != ModeHosted {
			(*payload).Close()
			fresh, err := c.stager.Stage(ctx, sess.Meta.SourceURL)
			if err != nil {
				return fmt.Errorf("restage payload: %w", err)
			}
			*payload = fresh
		}
	}
	return lastErr
}

func (c *Client) transferOnce(ctx context.Context, sess platform.Session, payload *Payload) error {
	switch c.cfg.Mode {
	case ModeHosted:
		_, err := c.target.TransferBytes(ctx, sess, nil, 0, 0)
		return err
	case ModeChunked:
		return c.transferChunked(ctx, sess, payload)
	default: // ModeSingle
		return c.transferSingle(ctx, sess, payload)
	}
}

func (c *Client) transferSingle(ctx context.Context, sess platform.Session, payload *Payload) error {
	r, err := payload.Open()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return err
	}
	_, err = c.target.TransferBytes(ctx, sess, data, 0, payload.Size)
	return err
}

// transferChunked submits successive byte ranges. The next offset follows
// the server's acknowledged end when present, falling back to local
// accounting when the response omits one.
func (c *Client) transferChunked(ctx context.Context, sess platform.Session, payload *Payload) error {
	r, err := payload.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	f, ok := r.(io.ReadSeeker)
	if !ok {
		return fmt.Errorf("chunked transfer requires a seekable payload")
	}

	size := payload.Size
	chunkSize := c.cfg.chunkSize()
	buf := make([]byte, chunkSize)

	var offset int64
	for offset < size {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		n := chunkSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return err
		}

		acked, err := c.target.TransferBytes(ctx, sess, buf[:n], offset, size)
		if err != nil {
			return err
		}
		if acked > offset {
			offset = acked
		} else {
			offset += n
		}
	}
	return nil
}

// awaitProcessed polls the status endpoint until a terminal state, an
// explicit failure, or the ceiling timeout. On timeout the last-seen state
// is reported and the attempt fails.
func (c *Client) awaitProcessed(ctx context.Context, sessionID string) error {
	deadline := time.Now().Add(c.cfg.pollTimeout())
	lastState := ""

	for {
		st, err := c.target.GetStatus(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		lastState = st.State
		if st.Done {
			return nil
		}
		if st.Failed {
			return fmt.Errorf("processing failed: %s", st.Detail)
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("processing timed out, last status %q", lastState)
		}
		if err := c.sleep(ctx, c.cfg.pollInterval()); err != nil {
			return err
		}
	}
}

// Truncate clips s to max characters, replacing the tail with an ellipsis
// when clipping happened. max <= 0 means no limit.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}
