package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/masahif/shelfscan/internal/crawler"
)

// allowAllRobots stands in for hosts whose robots.txt could not be loaded
var allowAllRobots, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)

// RobotsAgent caches robots.txt rules per host. A host whose robots.txt
// fails to load is cached as allow-all, so it is asked only once per run.
type RobotsAgent struct {
	onCrawlDelay func(host string, delay time.Duration)

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsAgent creates an agent. onCrawlDelay, if set, receives the
// wildcard group's crawl delay of each host the first time its rules load.
func NewRobotsAgent(onCrawlDelay func(host string, delay time.Duration)) *RobotsAgent {
	return &RobotsAgent{
		onCrawlDelay: onCrawlDelay,
		cache:        make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether userAgent may fetch target. Hosts whose
// robots.txt cannot be fetched are allowed.
func (a *RobotsAgent) Allowed(ctx context.Context, client *http.Client, target *url.URL, userAgent string) bool {
	rules := a.rules(ctx, client, target, userAgent)

	path := target.Path
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}

	return rules.TestAgent(path, userAgent)
}

// CrawlDelay returns the cached crawl delay for host
func (a *RobotsAgent) CrawlDelay(host string) time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rules, ok := a.cache[crawler.HostKey(host)]
	if !ok {
		return 0
	}
	if group := rules.FindGroup("*"); group != nil {
		return group.CrawlDelay
	}
	return 0
}

func (a *RobotsAgent) rules(ctx context.Context, client *http.Client, target *url.URL, userAgent string) *robotstxt.RobotsData {
	host := crawler.HostKey(target.Host)

	a.mu.RLock()
	data, ok := a.cache[host]
	a.mu.RUnlock()
	if ok {
		return data
	}

	data, err := fetchRobots(ctx, client, target, userAgent)
	if err != nil {
		if ctx.Err() != nil {
			return allowAllRobots
		}
		slog.Warn("robots.txt unavailable, allowing host", "host", host, "error", err)
		data = allowAllRobots
	}

	a.mu.Lock()
	if cached, ok := a.cache[host]; ok {
		a.mu.Unlock()
		return cached
	}
	a.cache[host] = data
	a.mu.Unlock()

	if group := data.FindGroup("*"); group != nil && group.CrawlDelay > 0 {
		slog.Info("Applying robots.txt crawl delay", "host", host, "delay", group.CrawlDelay)
		if a.onCrawlDelay != nil {
			a.onCrawlDelay(host, group.CrawlDelay)
		}
	}

	return data
}

func fetchRobots(ctx context.Context, client *http.Client, target *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// FromResponse treats 4xx as allow-all and 5xx as disallow-all.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
