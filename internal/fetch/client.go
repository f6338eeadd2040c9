// Package fetch transfers manifests and packages over HTTP.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pushchain/selfupdate/internal/manifest"
)

const (
	// UserAgent is sent with every request.
	UserAgent = "selfupdate"

	// DefaultQueryTimeout bounds a manifest query. Package downloads are
	// bounded only by the caller's context.
	DefaultQueryTimeout = 10 * time.Second

	maxManifestBytes = 4 << 20
)

var (
	// ErrUnreachable wraps transport failures (DNS, refused, reset, timeout).
	ErrUnreachable = errors.New("update server unreachable")
	// ErrSizeMismatch means the server's byte count disagrees with the manifest.
	ErrSizeMismatch = errors.New("package size mismatch")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// HTTPDoer interface for HTTP requests (allows mocking in tests).
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client. Zero values pick defaults.
type Options struct {
	HTTP         HTTPDoer
	QueryBody    []byte
	QueryTimeout time.Duration
	Logger       logrus.FieldLogger
}

// Client talks to the update server.
type Client struct {
	http         HTTPDoer
	queryBody    []byte
	queryTimeout time.Duration
	log          logrus.FieldLogger
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		http:         opts.HTTP,
		queryBody:    opts.QueryBody,
		queryTimeout: opts.QueryTimeout,
		log:          opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout: 0, // downloads can be long; queries use queryTimeout
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	if c.queryTimeout <= 0 {
		c.queryTimeout = DefaultQueryTimeout
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// FetchManifest retrieves and parses the manifest at endpoint. The request
// is a POST carrying the configured query body when one is set.
func (c *Client) FetchManifest(ctx context.Context, endpoint string) (*manifest.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	method := http.MethodGet
	var body io.Reader
	if len(c.queryBody) > 0 {
		method = http.MethodPost
		body = bytes.NewReader(c.queryBody)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{"url": endpoint, "method": method}).Debug("querying manifest")
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(endpoint, resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrUnreachable, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"package": m.Package, "versions": len(m.Versions)}).Debug("manifest received")
	return m, nil
}

// Exists issues a HEAD request and returns the advertised Content-Length,
// or -1 when the server does not send one.
func (c *Client) Exists(ctx context.Context, url string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := checkStatus(url, resp); err != nil {
		return 0, err
	}
	return resp.ContentLength, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return req, nil
}

// do runs req and classifies transport failures. A cancelled or expired
// parent context is reported as-is so callers can tell it from an outage.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return nil, ctxErr
	}
	return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, req.Method, req.URL, err)
}

func checkStatus(url string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
}
