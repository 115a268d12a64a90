package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is wrapped by every validation error so callers can tell
// startup configuration failures apart from crawl failures.
var ErrConfiguration = errors.New("invalid configuration")

var (
	// ErrNoCategories is returned when neither categories nor keywords are configured
	ErrNoCategories = fmt.Errorf("%w: no categories configured", ErrConfiguration)
	// ErrDuplicateCategory is returned when two categories share a name
	ErrDuplicateCategory = fmt.Errorf("%w: duplicate category name", ErrConfiguration)
	// ErrInvalidSeedURL is returned when a category seed is not an absolute http(s) URL
	ErrInvalidSeedURL = fmt.Errorf("%w: seed url must be an absolute http(s) url", ErrConfiguration)
	// ErrMissingSearchTemplate is returned when keywords are given without a search_url_template
	ErrMissingSearchTemplate = fmt.Errorf("%w: keywords require search_url_template containing {keyword}", ErrConfiguration)
	// ErrInvalidPageBudget is returned when page_budget is not greater than 0
	ErrInvalidPageBudget = fmt.Errorf("%w: page_budget must be greater than 0", ErrConfiguration)
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = fmt.Errorf("%w: concurrency must be greater than 0", ErrConfiguration)
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = fmt.Errorf("%w: request_timeout must be greater than 0", ErrConfiguration)
	// ErrInvalidDelay is returned when request_delay is negative
	ErrInvalidDelay = fmt.Errorf("%w: request_delay cannot be negative", ErrConfiguration)
	// ErrInvalidMaxRequests is returned when max_requests is negative
	ErrInvalidMaxRequests = fmt.Errorf("%w: max_requests cannot be negative", ErrConfiguration)
	// ErrInvalidPoolSize is returned when sessions.pool_size is not greater than 0
	ErrInvalidPoolSize = fmt.Errorf("%w: sessions.pool_size must be greater than 0", ErrConfiguration)
	// ErrInvalidRetireAfter is returned when sessions.retire_after is not greater than 0
	ErrInvalidRetireAfter = fmt.Errorf("%w: sessions.retire_after must be greater than 0", ErrConfiguration)
	// ErrInvalidProxy is returned for proxies that are not http, https or socks5 URLs
	ErrInvalidProxy = fmt.Errorf("%w: proxy must be an http, https or socks5 url", ErrConfiguration)
	// ErrInvalidBackoff is returned when backoff base, max or jitter are inconsistent
	ErrInvalidBackoff = fmt.Errorf("%w: backoff requires 0 < base <= max and 0 <= jitter <= base", ErrConfiguration)
	// ErrInvalidMaxRetries is returned when backoff.max_retries is negative
	ErrInvalidMaxRetries = fmt.Errorf("%w: backoff.max_retries cannot be negative", ErrConfiguration)
	// ErrInvalidNgramMax is returned when ngram_max is outside 1..3
	ErrInvalidNgramMax = fmt.Errorf("%w: ngram_max must be between 1 and 3", ErrConfiguration)
	// ErrInvalidFormat is returned for unknown report formats
	ErrInvalidFormat = fmt.Errorf("%w: format must be json, yaml or markdown", ErrConfiguration)
	// ErrMissingSelector is returned when the item or title selector is empty
	ErrMissingSelector = fmt.Errorf("%w: selectors.item and selectors.title are required", ErrConfiguration)
)
