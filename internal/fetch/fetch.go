// ABOUTME: HTTP feed transport with conditional requests using ETag and Last-Modified headers.
// ABOUTME: Returns NotModified on 304, otherwise a parsed Document; guards against SSRF and oversized bodies.

package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/harper/feedsync/internal/parse"
)

const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// DefaultUserAgent identifies feedsync to feed servers.
const DefaultUserAgent = "feedsync/1.0 (RSS reader)"

// Request describes one conditional fetch.
type Request struct {
	URL          string
	ETag         *string
	LastModified *string
}

// Response is the outcome of a successful fetch.
type Response struct {
	Document     *parse.Document // nil when NotModified
	ETag         string
	LastModified string
	NotModified  bool
}

// Transport fetches and parses feeds over HTTP.
type Transport struct {
	Client    *http.Client
	UserAgent string
	now       func() time.Time
}

// NewTransport creates a Transport with the given request timeout.
func NewTransport(timeout time.Duration) *Transport {
	return &Transport{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
		now:       time.Now,
	}
}

// isPrivateIP checks if an IP address is in a private range (excluding loopback for tests).
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// Raw is an unparsed response body.
type Raw struct {
	Body         []byte // nil when NotModified
	ETag         string
	LastModified string
	NotModified  bool
}

// Fetch retrieves and parses req.URL. Non-200/304 statuses are errors.
func (t *Transport) Fetch(ctx context.Context, req Request) (*Response, error) {
	raw, err := t.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	if raw.NotModified {
		return &Response{NotModified: true}, nil
	}

	now := time.Now
	if t.now != nil {
		now = t.now
	}
	doc, err := parse.Parse(req.URL, raw.Body, now())
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return &Response{
		Document:     doc,
		ETag:         raw.ETag,
		LastModified: raw.LastModified,
	}, nil
}

// Get retrieves req.URL without parsing it.
func (t *Transport) Get(ctx context.Context, req Request) (*Raw, error) {
	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsedURL.Scheme)
	}

	// SSRF protection: block private IP ranges
	if ips, err := net.DefaultResolver.LookupIPAddr(ctx, parsedURL.Hostname()); err == nil {
		for _, ip := range ips {
			if isPrivateIP(ip.IP) {
				return nil, fmt.Errorf("access to private IP ranges is not allowed")
			}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", t.UserAgent)
	if req.ETag != nil && *req.ETag != "" {
		httpReq.Header.Set("If-None-Match", *req.ETag)
	}
	if req.LastModified != nil && *req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", *req.LastModified)
	}

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Raw{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Read response body with DoS protection (10MB limit)
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds %d bytes)", MaxResponseSize)
	}

	return &Raw{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
