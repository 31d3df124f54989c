package platform

import (
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client is an http.Client with an optional outgoing rate cap shared by all
// calls to one target. A zero rate disables limiting.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client capped at ratePerSec requests per second.
func NewClient(ratePerSec float64) *Client {
	c := &Client{
		http: &http.Client{Timeout: 3 * time.Minute},
	}
	if ratePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return c
}

// WithTimeout returns a copy using the given per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	hc := *c.http
	hc.Timeout = d
	cp.http = &hc
	return &cp
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return c.http.Do(req)
}

// readBody drains up to limit bytes for error reporting and closes the body.
func readBody(r io.ReadCloser, limit int64) string {
	defer r.Close()
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(b)
}
