// Package fetcher implements crawler.Fetcher over HTTP.
// Each session identity gets a client bound to its proxy, cookie jar and
// user agent; responses are classified into fetch outcomes and listing pages
// are extracted with the configured selectors.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/masahif/shelfscan/internal/config"
	"github.com/masahif/shelfscan/internal/crawler"
	"github.com/masahif/shelfscan/internal/parser"
)

// MaxBodySize bounds the bytes read from a listing page
const MaxBodySize = 10 << 20

var (
	// ErrDisallowed is the cause of outcomes for pages blocked by robots.txt
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrCaptcha is the cause of outcomes for bot-check pages
	ErrCaptcha = errors.New("captcha challenge")
)

// captchaMarkers identify bot-check pages served instead of listings
var captchaMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("robot check"),
	[]byte("are you a human"),
}

// StatusError describes a non-success HTTP status
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// Option configures an HTTPFetcher
type Option func(*HTTPFetcher)

// WithCrawlDelayHook registers fn to receive robots.txt crawl delays per host
func WithCrawlDelayHook(fn func(host string, delay time.Duration)) Option {
	return func(f *HTTPFetcher) {
		f.onCrawlDelay = fn
	}
}

const directKey = "direct"

// HTTPFetcher fetches and extracts listing pages
type HTTPFetcher struct {
	timeout      time.Duration
	parser       *parser.ListingParser
	robots       *RobotsAgent
	onCrawlDelay func(host string, delay time.Duration)

	mu         sync.Mutex
	transports map[string]*http.Transport
}

// New creates a fetcher from cfg
func New(cfg *config.HarvestConfig, opts ...Option) (*HTTPFetcher, error) {
	p, err := parser.NewListingParser(cfg.Selectors)
	if err != nil {
		return nil, err
	}

	f := &HTTPFetcher{
		timeout:    cfg.RequestTimeout,
		parser:     p,
		transports: make(map[string]*http.Transport),
	}
	for _, opt := range opts {
		opt(f)
	}

	if cfg.RespectRobots {
		f.robots = NewRobotsAgent(f.onCrawlDelay)
	}

	return f, nil
}

// Fetch implements crawler.Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string, id crawler.Identity) crawler.FetchOutcome {
	target, err := url.Parse(pageURL)
	if err != nil || !target.IsAbs() {
		return crawler.Permanent(fmt.Errorf("invalid URL %q", pageURL))
	}

	client, err := f.client(id)
	if err != nil {
		return crawler.Permanent(err)
	}

	if f.robots != nil && !f.robots.Allowed(ctx, client, target, id.UserAgent) {
		return crawler.Permanent(ErrDisallowed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return crawler.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	var firstByte time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			firstByte = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return crawler.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return crawler.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	var ttfb time.Duration
	if !firstByte.IsZero() {
		ttfb = firstByte.Sub(start)
	}
	slog.Debug("Fetched page", "url", pageURL, "status_code", resp.StatusCode, "session_id", id.SessionID,
		"proxy", id.ProxyKey(), "ttfb", ttfb, "download_time", time.Since(start), "size", len(body))

	if kind, cause := classify(resp.StatusCode, body); kind != crawler.OutcomeSuccess {
		return crawler.FetchOutcome{Kind: kind, Err: cause}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return crawler.Permanent(fmt.Errorf("%w: %s", parser.ErrNotHTML, contentType))
	}

	listing, err := f.parser.Parse(resp.Request.URL.String(), body, contentType)
	if err != nil {
		return crawler.Permanent(err)
	}

	// A bot check served with 200 has no items and carries a marker.
	if len(listing.Items) == 0 && hasCaptchaMarker(body) {
		return crawler.RateLimited(ErrCaptcha)
	}

	records := make([]crawler.RawRecord, 0, len(listing.Items))
	for _, item := range listing.Items {
		records = append(records, crawler.RawRecord{
			Title:  item.Title,
			Link:   item.Link,
			Price:  item.Price,
			Rating: item.Rating,
			ItemID: item.ItemID,
		})
	}

	return crawler.Success(records, listing.NextLink)
}

// Close releases idle connections of all transports
func (f *HTTPFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
}

// client builds a client for id. Transports are shared per proxy so
// connections are reused across sessions using the same exit.
func (f *HTTPFetcher) client(id crawler.Identity) (*http.Client, error) {
	t, err := f.transport(id.Proxy)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: t,
		Jar:       id.Jar,
		Timeout:   f.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}, nil
}

func (f *HTTPFetcher) transport(proxyURL *url.URL) (*http.Transport, error) {
	key := directKey
	if proxyURL != nil {
		key = proxyURL.String()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.transports[key]; ok {
		return t, nil
	}

	t, err := newTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	f.transports[key] = t
	return t, nil
}

func newTransport(proxyURL *url.URL) (*http.Transport, error) {
	t := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if proxyURL == nil {
		return t, nil
	}

	switch proxyURL.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", config.ErrInvalidProxy, proxyURL.Scheme)
	}

	return t, nil
}

// classify maps an HTTP status to an outcome kind. Success is returned for
// 2xx and 3xx responses that the client did not follow.
func classify(status int, body []byte) (crawler.OutcomeKind, error) {
	cause := &StatusError{Code: status}

	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return crawler.OutcomeRateLimited, cause
	case status == http.StatusForbidden && hasCaptchaMarker(body):
		return crawler.OutcomeRateLimited, fmt.Errorf("%w: %v", ErrCaptcha, cause)
	case status == http.StatusRequestTimeout:
		return crawler.OutcomeTransient, cause
	case status >= 500:
		return crawler.OutcomeTransient, cause
	case status >= 400:
		return crawler.OutcomePermanent, cause
	default:
		return crawler.OutcomeSuccess, nil
	}
}

func hasCaptchaMarker(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range captchaMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}
