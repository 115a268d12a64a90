// Package crawler provides the crawl orchestration core.
// It implements a two-lane request queue drained by a bounded worker pool,
// with session rotation, retry backoff under rate limiting and a per-category
// page budget. Page fetching and extraction are delegated to a Fetcher.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/masahif/shelfscan/internal/config"
	"github.com/masahif/shelfscan/internal/ngram"
)

var (
	// ErrAllSeedsFailed is returned by Run when no category could fetch its seed page
	ErrAllSeedsFailed = errors.New("every category failed on its seed page")
	// ErrNoCategories is returned by Run when nothing was seeded
	ErrNoCategories = errors.New("no categories seeded")
	// ErrUnknownCategory is returned by Submit for requests of unseeded categories
	ErrUnknownCategory = errors.New("unknown category")
	// ErrCategoryFinalized is returned by Submit for finalized categories
	ErrCategoryFinalized = errors.New("category already finalized")
	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("scheduler already started")
)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithFinalizeHook registers fn to be called once per category as soon as
// it finalizes. fn runs on the worker that finalized the category and must
// not modify it.
func WithFinalizeHook(fn func(*Category)) Option {
	return func(s *Scheduler) {
		s.onFinalize = fn
	}
}

// WithRateLimiter replaces the per-host politeness limiter
func WithRateLimiter(l *RateLimiter) Option {
	return func(s *Scheduler) {
		s.rateLimiter = l
	}
}

// WithStatsInterval sets how often progress is logged (0 disables)
func WithStatsInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.statsInterval = d
	}
}

// Scheduler drives the crawl of all categories
type Scheduler struct {
	fetcher     Fetcher
	pool        *SessionPool
	backoff     *Backoff
	tracker     *PaginationTracker
	aggregator  *ngram.Aggregator
	rateLimiter *RateLimiter
	queue       *requestQueue

	workers       int
	pageBudget    int
	maxRequests   int
	statsInterval time.Duration
	onFinalize    func(*Category)

	categories map[string]*Category
	order      []string
	seedOK     map[string]bool

	stats      CrawlStats
	statsMutex sync.RWMutex
	requests   atomic.Int64
	stopped    atomic.Bool
	started    atomic.Bool
}

// NewScheduler builds the orchestration core from cfg. All randomness is
// derived from cfg.RandomSeed (time based when 0) so runs can be replayed.
func NewScheduler(cfg *config.HarvestConfig, fetcher Fetcher, opts ...Option) (*Scheduler, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, err
	}

	seed := uint64(cfg.RandomSeed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	pool, err := NewSessionPool(cfg.Sessions, rand.New(rand.NewPCG(seed, 1)))
	if err != nil {
		return nil, fmt.Errorf("failed to create session pool: %w", err)
	}

	aggregator, err := ngram.NewAggregator(cfg.NgramMax, cfg.DedupePerTitle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	if cfg.Concurrency <= 0 {
		return nil, config.ErrInvalidConcurrency
	}
	if cfg.PageBudget <= 0 {
		return nil, config.ErrInvalidPageBudget
	}

	s := &Scheduler{
		fetcher:       fetcher,
		pool:          pool,
		backoff:       NewBackoff(cfg.Backoff, rand.New(rand.NewPCG(seed, 2))),
		tracker:       NewPaginationTracker(),
		aggregator:    aggregator,
		rateLimiter:   NewRateLimiter(cfg.RequestDelay),
		queue:         newRequestQueue(),
		workers:       cfg.Concurrency,
		pageBudget:    cfg.PageBudget,
		maxRequests:   cfg.MaxRequests,
		statsInterval: 10 * time.Second,
		categories:    make(map[string]*Category),
		seedOK:        make(map[string]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Seed creates one category per seed and submits its first page
func (s *Scheduler) Seed(seeds ...config.CategorySeed) error {
	if s.started.Load() {
		return ErrAlreadyRunning
	}
	for _, seed := range seeds {
		if _, exists := s.categories[seed.Name]; exists {
			return fmt.Errorf("%w: %s", config.ErrDuplicateCategory, seed.Name)
		}
		cat := newCategory(seed.Name, seed.URL, s.pageBudget, s.aggregator.NewSet())
		s.categories[seed.Name] = cat
		s.order = append(s.order, seed.Name)
		s.queue.push(CrawlRequest{URL: seed.URL, Category: seed.Name, Priority: PriorityNormal})
	}
	return nil
}

// Submit enqueues a request for a seeded, unfinished category. It is safe
// to call while Run is active.
func (s *Scheduler) Submit(req CrawlRequest) error {
	if _, ok := s.categories[req.Category]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, req.Category)
	}
	if !s.queue.pushOpen(req) {
		return fmt.Errorf("%w: %s", ErrCategoryFinalized, req.Category)
	}
	return nil
}

// Run processes the queue with the configured number of workers until it
// is drained or stopped, then finalizes whatever is left.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if len(s.order) == 0 {
		return ErrNoCategories
	}

	s.statsMutex.Lock()
	s.stats.StartTime = time.Now()
	s.statsMutex.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancellation stops the queue so idle workers wake up and exit.
	go func() {
		<-ctx.Done()
		s.queue.stop()
	}()

	slog.Info("Starting harvest", "categories", len(s.order), "workers", s.workers, "sessions", s.pool.Size(), "page_budget", s.pageBudget)

	var reporter sync.WaitGroup
	if s.statsInterval > 0 {
		reporter.Add(1)
		go s.statsReporter(ctx, &reporter)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		id := i
		g.Go(func() error {
			s.worker(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	cancel()
	reporter.Wait()

	s.finalizeRemaining()

	stats := s.Stats()
	slog.Info("Harvest completed", "pages", stats.PagesCrawled, "requests", stats.Requests, "abandoned", stats.Abandoned, "rotations", stats.Rotations, "duration", stats.Duration)

	if s.allSeedsFailed() {
		return ErrAllSeedsFailed
	}
	return nil
}

// Stop asks workers to exit after their current request
func (s *Scheduler) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		slog.Info("Stopping harvest")
		s.queue.stop()
	}
}

// Categories returns all categories in seed order
func (s *Scheduler) Categories() []*Category {
	out := make([]*Category, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.categories[name])
	}
	return out
}

// Category returns a category by name
func (s *Scheduler) Category(name string) (*Category, bool) {
	cat, ok := s.categories[name]
	return cat, ok
}

// Pool exposes the session pool
func (s *Scheduler) Pool() *SessionPool {
	return s.pool
}

// RateLimiter exposes the politeness limiter, e.g. for robots.txt crawl delays
func (s *Scheduler) RateLimiter() *RateLimiter {
	return s.rateLimiter
}

// Stats returns current crawling statistics
func (s *Scheduler) Stats() CrawlStats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()

	stats := s.stats
	stats.Requests = int(s.requests.Load())
	stats.Rotations = s.pool.Rotations()
	if !stats.StartTime.IsZero() {
		stats.Duration = time.Since(stats.StartTime)
	}
	return stats
}

// worker processes requests until the queue is drained or stopped
func (s *Scheduler) worker(ctx context.Context, id int) {
	slog.Debug("Worker started", "worker_id", id)
	defer slog.Debug("Worker stopped", "worker_id", id)

	for {
		if s.stopped.Load() {
			return
		}
		req, ok := s.queue.pop()
		if !ok {
			return
		}
		s.process(ctx, id, req)
	}
}

// process runs one request through session, politeness, fetch and the
// outcome decision. Every path ends with exactly one queue.done or handOff.
func (s *Scheduler) process(ctx context.Context, id int, req CrawlRequest) {
	cat := s.categories[req.Category]
	if cat == nil || cat.Finalized {
		s.queue.done(req)
		return
	}

	if !s.reserveRequest() {
		slog.Warn("Request cap reached", "worker_id", id, "category", cat.Name, "url", req.URL, "max_requests", s.maxRequests)
		s.finalize(cat, ReasonRequestCap)
		s.queue.done(req)
		return
	}

	session, err := s.pool.Acquire(ctx)
	if err != nil {
		s.queue.done(req)
		return
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, req.URL); err != nil {
			slog.Error("Worker rate limiting error", "worker_id", id, "url", req.URL, "error", err)
			s.releaseSession(session, true)
			s.queue.done(req)
			return
		}
	}

	outcome := s.fetcher.Fetch(ctx, req.URL, session.Identity())
	cat.Attempts++

	switch outcome.Kind {
	case OutcomeSuccess:
		s.releaseSession(session, true)
		s.handleSuccess(id, cat, req, outcome)

	case OutcomeRateLimited, OutcomeTransient:
		s.releaseSession(session, false)
		s.countFailure(outcome.Kind)
		s.handleRetry(ctx, id, cat, req, outcome)

	default:
		// A permanent page error says nothing about the identity.
		s.releaseSession(session, true)
		s.countFailure(OutcomePermanent)
		cat.LastError = outcome.errorString()
		slog.Warn("Permanent page error, finalizing category", "worker_id", id, "category", cat.Name, "url", req.URL, "error", cat.LastError)
		s.finalize(cat, ReasonPermanentError)
		s.queue.done(req)
	}
}

// handleSuccess records the page and schedules the next one
func (s *Scheduler) handleSuccess(id int, cat *Category, req CrawlRequest, outcome FetchOutcome) {
	added, skipped := 0, 0
	for _, raw := range outcome.Records {
		title := strings.TrimSpace(raw.Title)
		if title == "" {
			skipped++
			continue
		}

		link := strings.TrimSpace(raw.Link)
		if link != "" {
			if abs, err := resolveLink(req.URL, link); err == nil {
				link = abs
			}
		}

		cat.Products = append(cat.Products, ProductRecord{
			Title:    title,
			Link:     link,
			Price:    raw.Price,
			Rating:   raw.Rating,
			ItemID:   raw.ItemID,
			Category: cat.Name,
		})
		s.aggregator.Record(cat.Phrases, title)
		added++
	}

	if req.URL == cat.SeedURL {
		s.markSeedOK(cat.Name)
	}
	s.incrementCrawledCount()

	decision := s.tracker.Advance(cat, req.URL, outcome.NextLink)
	slog.Info("Worker processed page", "worker_id", id, "category", cat.Name, "url", req.URL,
		"page", cat.PagesCrawled, "products", added, "skipped", skipped, "attempt", req.Attempt, "continue", decision.Continue)

	if !decision.Continue {
		s.finalize(cat, decision.Reason)
		s.queue.done(req)
		return
	}

	s.queue.handOff(req, CrawlRequest{
		URL:      decision.NextURL,
		Category: cat.Name,
		Priority: PriorityNormal,
	})
}

// handleRetry backs off on this worker only and requeues the request as
// expedited, or abandons it past the retry ceiling.
func (s *Scheduler) handleRetry(ctx context.Context, id int, cat *Category, req CrawlRequest, outcome FetchOutcome) {
	cat.LastError = outcome.errorString()

	if s.backoff.ShouldAbandon(req.Attempt + 1) {
		cat.Abandoned++
		s.statsMutex.Lock()
		s.stats.Abandoned++
		s.statsMutex.Unlock()

		slog.Warn("Abandoning request after retry ceiling", "worker_id", id, "category", cat.Name, "url", req.URL,
			"attempts", req.Attempt+1, "max_retries", s.backoff.MaxRetries(), "outcome", outcome.Kind.String(), "error", cat.LastError)
		s.finalize(cat, ReasonAbandoned)
		s.queue.done(req)
		return
	}

	delay := s.backoff.NextDelay(req.Attempt)
	slog.Info("Backing off", "worker_id", id, "category", cat.Name, "url", req.URL,
		"outcome", outcome.Kind.String(), "attempt", req.Attempt, "delay", delay)

	if !s.sleep(ctx, delay) {
		s.queue.done(req)
		return
	}

	cat.Retries++
	s.queue.handOff(req, req.retry())
}

// sleep waits for d unless the run is cancelled or stopped first
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.queue.stopCh:
		return false
	}
}

func (s *Scheduler) releaseSession(session *Session, healthy bool) {
	if err := s.pool.Release(session, healthy); err != nil {
		slog.Error("Failed to release session", "session_id", session.ID(), "error", err)
	}
}

func (s *Scheduler) reserveRequest() bool {
	n := s.requests.Add(1)
	if s.maxRequests > 0 && n > int64(s.maxRequests) {
		s.requests.Add(-1)
		return false
	}
	return true
}

// finalize marks cat as done and fires the finalize hook once
func (s *Scheduler) finalize(cat *Category, reason FinalReason) {
	if !s.tracker.Finalize(cat, reason) {
		return
	}
	s.queue.closeCategory(cat.Name)
	slog.Info("Category finalized", "category", cat.Name, "reason", string(reason), "pages", cat.PagesCrawled, "products", len(cat.Products))
	if s.onFinalize != nil {
		s.onFinalize(cat)
	}
}

// finalizeRemaining closes categories left open by a stop or cancellation
func (s *Scheduler) finalizeRemaining() {
	if left := s.queue.drain(); len(left) > 0 {
		slog.Info("Discarding queued requests", "count", len(left))
	}
	for _, name := range s.order {
		s.finalize(s.categories[name], ReasonStopped)
	}
}

// allSeedsFailed reports a total failure: no category fetched its seed
// page and every category gave up on it.
func (s *Scheduler) allSeedsFailed() bool {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()

	for _, name := range s.order {
		if s.seedOK[name] {
			return false
		}
		switch s.categories[name].Reason {
		case ReasonAbandoned, ReasonPermanentError:
		default:
			return false
		}
	}
	return true
}

func (s *Scheduler) markSeedOK(name string) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	s.seedOK[name] = true
}

func (s *Scheduler) incrementCrawledCount() {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	s.stats.PagesCrawled++
}

func (s *Scheduler) countFailure(kind OutcomeKind) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	switch kind {
	case OutcomeRateLimited:
		s.stats.RateLimited++
	case OutcomeTransient:
		s.stats.Transient++
	case OutcomePermanent:
		s.stats.Permanent++
	}
}

// statsReporter periodically reports crawling statistics
func (s *Scheduler) statsReporter(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.Stats()
			slog.Info("Harvest stats", "pages", stats.PagesCrawled, "requests", stats.Requests, "queued", s.queue.len(),
				"sessions_in_use", s.pool.InUse(), "rate_limited", stats.RateLimited, "transient", stats.Transient,
				"abandoned", stats.Abandoned, "duration", stats.Duration)
		}
	}
}
