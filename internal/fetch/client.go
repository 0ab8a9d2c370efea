// Package fetch wraps the HTTP client used for manifest and segment requests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
	"go.uber.org/ratelimit"
)

// Options configures a Client.
type Options struct {
	// Timeout bounds a whole request including the body read. Defaults to 30s.
	Timeout time.Duration

	// RequestsPerSecond paces outbound requests. Zero means unlimited.
	RequestsPerSecond int

	// HTTP3 sends requests over QUIC instead of TCP.
	HTTP3 bool

	// UserAgent is sent with every request when set.
	UserAgent string
}

// Client issues GET requests and classifies their failures.
type Client struct {
	http      *http.Client
	limiter   ratelimit.Limiter
	userAgent string
	closer    io.Closer
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	c := &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		limiter:   ratelimit.NewUnlimited(),
		userAgent: opts.UserAgent,
	}

	if opts.RequestsPerSecond > 0 {
		c.limiter = ratelimit.New(opts.RequestsPerSecond, ratelimit.WithoutSlack)
	}

	if opts.HTTP3 {
		tr := &http3.Transport{}
		c.http.Transport = tr
		c.closer = tr
	}

	return c
}

// Get fetches url and returns the response body. Transport failures are
// reported as *NetworkError, non-2xx responses as *HTTPStatusError.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	c.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	return body, nil
}

// Close releases the QUIC transport when HTTP/3 is enabled.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// NetworkError is a transport-level failure: DNS, connect, TLS, reset, or a
// body that could not be read.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a response outside the 2xx range.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
