// Package config provides configuration management for the harvester.
// It defines configuration structures, default values and validation of
// crawl, session, backoff and analysis parameters.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// KeywordPlaceholder is replaced by the escaped keyword in SearchURLTemplate.
const KeywordPlaceholder = "{keyword}"

// CategorySeed names one category and the first listing page to crawl
type CategorySeed struct {
	Name string `mapstructure:"name" yaml:"name"` // Category name, unique per run
	URL  string `mapstructure:"url" yaml:"url"`   // First listing page
}

// BackoffConfig controls retry delays after rate limiting or transient errors
type BackoffConfig struct {
	Base       time.Duration `mapstructure:"base" yaml:"base"`               // Delay for the first retry
	Max        time.Duration `mapstructure:"max" yaml:"max"`                 // Upper bound for any delay
	Jitter     time.Duration `mapstructure:"jitter" yaml:"jitter"`           // Random span added to each delay
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"` // Retries before a request is abandoned
}

// SessionConfig controls the identity pool
type SessionConfig struct {
	PoolSize    int      `mapstructure:"pool_size" yaml:"pool_size"`       // Number of sessions
	Proxies     []string `mapstructure:"proxies" yaml:"proxies"`           // Proxy URLs (http, https, socks5); empty means direct
	UserAgents  []string `mapstructure:"user_agents" yaml:"user_agents"`   // User-Agent strings to rotate through
	RetireAfter int      `mapstructure:"retire_after" yaml:"retire_after"` // Consecutive failures before an identity is rotated
}

// SelectorConfig holds the CSS selectors used by the listing extractor
type SelectorConfig struct {
	Item       string `mapstructure:"item" yaml:"item"`                 // One match per product
	Title      string `mapstructure:"title" yaml:"title"`               // Title text, relative to item
	Link       string `mapstructure:"link" yaml:"link"`                 // Anchor with product href, relative to item
	Price      string `mapstructure:"price" yaml:"price"`               // Optional price text, relative to item
	Rating     string `mapstructure:"rating" yaml:"rating"`             // Optional rating text, relative to item
	ItemIDAttr string `mapstructure:"item_id_attr" yaml:"item_id_attr"` // Optional attribute on item holding its id
	Next       string `mapstructure:"next" yaml:"next"`                 // Anchor pointing to the next listing page
}

// HarvestConfig holds harvester configuration
type HarvestConfig struct {
	// Targets
	Categories        []CategorySeed `mapstructure:"categories" yaml:"categories"`                   // Explicit category seeds
	Keywords          []string       `mapstructure:"keywords" yaml:"keywords"`                       // Search keywords, one category each
	SearchURLTemplate string         `mapstructure:"search_url_template" yaml:"search_url_template"` // URL with {keyword} placeholder

	// Crawl bounds and politeness
	PageBudget     int           `mapstructure:"page_budget" yaml:"page_budget"`         // Pages per category
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`         // Number of concurrent workers
	MaxRequests    int           `mapstructure:"max_requests" yaml:"max_requests"`       // Fetch attempts per run (0=unlimited)
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // Minimum delay between requests to a host
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP request timeout
	RespectRobots  bool          `mapstructure:"respect_robots" yaml:"respect_robots"`   // Whether to respect robots.txt
	RandomSeed     int64         `mapstructure:"random_seed" yaml:"random_seed"`         // Seed for jitter and identity choice (0=time based)

	Backoff   BackoffConfig  `mapstructure:"backoff" yaml:"backoff"`
	Sessions  SessionConfig  `mapstructure:"sessions" yaml:"sessions"`
	Selectors SelectorConfig `mapstructure:"selectors" yaml:"selectors"`

	// Analysis
	NgramMax       int  `mapstructure:"ngram_max" yaml:"ngram_max"`               // Largest n-gram size (1..3)
	DedupePerTitle bool `mapstructure:"dedupe_per_title" yaml:"dedupe_per_title"` // Count each phrase once per title
	TopPhrases     int  `mapstructure:"top_phrases" yaml:"top_phrases"`           // Phrases per table in the report (0=all)

	// Output
	Format       string `mapstructure:"format" yaml:"format"`               // json, yaml or markdown
	OutputPath   string `mapstructure:"output" yaml:"output"`               // Report file ("" or "-" = stdout)
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // Optional SQLite file for the report

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // json or text
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *HarvestConfig {
	return &HarvestConfig{
		PageBudget:     5,
		Concurrency:    2,
		RequestDelay:   1 * time.Second,
		RequestTimeout: 30 * time.Second,
		RespectRobots:  true,
		Backoff: BackoffConfig{
			Base:       2 * time.Second,
			Max:        2 * time.Minute,
			Jitter:     1 * time.Second,
			MaxRetries: 6,
		},
		Sessions: SessionConfig{
			PoolSize:    2,
			UserAgents:  []string{"ShelfScan/1.0"},
			RetireAfter: 3,
		},
		Selectors: SelectorConfig{
			Item:  "[data-item]",
			Title: "h2",
			Link:  "a",
			Next:  "a[rel=next]",
		},
		NgramMax:   3,
		TopPhrases: 0,
		Format:     "json",
		LogLevel:   "info",
		LogFormat:  "json",
	}
}

// Validate checks if the configuration is valid
func (c *HarvestConfig) Validate() error {
	if _, err := c.Seeds(); err != nil {
		return err
	}

	if c.PageBudget <= 0 {
		return ErrInvalidPageBudget
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.MaxRequests < 0 {
		return ErrInvalidMaxRequests
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RequestDelay < 0 {
		return ErrInvalidDelay
	}

	if err := c.Backoff.Validate(); err != nil {
		return err
	}

	if err := c.validateSessions(); err != nil {
		return err
	}

	if c.Selectors.Item == "" || c.Selectors.Title == "" {
		return ErrMissingSelector
	}

	if c.NgramMax < 1 || c.NgramMax > 3 {
		return ErrInvalidNgramMax
	}

	switch strings.ToLower(c.Format) {
	case "json", "yaml", "markdown":
	default:
		return ErrInvalidFormat
	}

	return nil
}

// Validate keeps NextDelay monotonic: with jitter no larger than the
// base delay, doubling always outgrows the random span.
func (b BackoffConfig) Validate() error {
	if b.Base <= 0 || b.Max < b.Base || b.Jitter < 0 || b.Jitter > b.Base {
		return ErrInvalidBackoff
	}
	if b.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	return nil
}

func (c *HarvestConfig) validateSessions() error {
	s := c.Sessions
	if s.PoolSize <= 0 {
		return ErrInvalidPoolSize
	}
	if s.RetireAfter <= 0 {
		return ErrInvalidRetireAfter
	}
	for _, p := range s.Proxies {
		if _, err := ParseProxy(p); err != nil {
			return err
		}
	}
	return nil
}

// Seeds resolves explicit categories and keyword searches into one ordered
// list of category seeds. Explicit categories come first.
func (c *HarvestConfig) Seeds() ([]CategorySeed, error) {
	seeds := make([]CategorySeed, 0, len(c.Categories)+len(c.Keywords))
	seen := make(map[string]bool)

	add := func(seed CategorySeed) error {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return fmt.Errorf("%w: category name cannot be empty", ErrConfiguration)
		}
		if seen[name] {
			return fmt.Errorf("%w: %s", ErrDuplicateCategory, name)
		}
		if !isAbsoluteHTTP(seed.URL) {
			return fmt.Errorf("%w: %s=%q", ErrInvalidSeedURL, name, seed.URL)
		}
		seen[name] = true
		seeds = append(seeds, CategorySeed{Name: name, URL: seed.URL})
		return nil
	}

	for _, cat := range c.Categories {
		if err := add(cat); err != nil {
			return nil, err
		}
	}

	if len(c.Keywords) > 0 {
		if !strings.Contains(c.SearchURLTemplate, KeywordPlaceholder) {
			return nil, ErrMissingSearchTemplate
		}
		for _, kw := range c.Keywords {
			kw = strings.TrimSpace(kw)
			seedURL := strings.ReplaceAll(c.SearchURLTemplate, KeywordPlaceholder, url.QueryEscape(kw))
			if err := add(CategorySeed{Name: kw, URL: seedURL}); err != nil {
				return nil, err
			}
		}
	}

	if len(seeds) == 0 {
		return nil, ErrNoCategories
	}
	return seeds, nil
}

// ParseCategoryFlag parses a "name=url" command line value
func ParseCategoryFlag(value string) (CategorySeed, error) {
	name, rawURL, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return CategorySeed{}, fmt.Errorf("%w: category must be in name=url format, got %q", ErrConfiguration, value)
	}
	return CategorySeed{Name: strings.TrimSpace(name), URL: strings.TrimSpace(rawURL)}, nil
}

// ParseProxy parses and validates a proxy URL
func ParseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProxy, u.Redacted())
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProxy, u.Redacted())
	}
	return u, nil
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
