package crawler

import (
	"time"

	"github.com/masahif/shelfscan/internal/ngram"
)

// Priority selects the queue lane of a request
type Priority int

const (
	// PriorityNormal is used for seeds and next-page requests
	PriorityNormal Priority = iota
	// PriorityExpedited is used for backoff retries; the lane is drained first
	PriorityExpedited
)

func (p Priority) String() string {
	if p == PriorityExpedited {
		return "expedited"
	}
	return "normal"
}

// CrawlRequest represents one listing page to fetch for a category
type CrawlRequest struct {
	URL      string   // Listing page URL
	Category string   // Owning category name
	Attempt  int      // Retries already spent on this page
	Priority Priority // Queue lane
}

// retry returns the expedited copy submitted after a backoff delay
func (r CrawlRequest) retry() CrawlRequest {
	r.Attempt++
	r.Priority = PriorityExpedited
	return r
}

// ProductRecord is one extracted product. Immutable once created.
type ProductRecord struct {
	Title    string   `json:"title" yaml:"title"`
	Link     string   `json:"link" yaml:"link"`                           // Absolute product URL
	Price    *string  `json:"price,omitempty" yaml:"price,omitempty"`     // Price text as shown on the page
	Rating   *float64 `json:"rating,omitempty" yaml:"rating,omitempty"`   // Average rating if present
	ItemID   string   `json:"item_id,omitempty" yaml:"item_id,omitempty"` // Site item id if present
	Category string   `json:"category" yaml:"category"`
}

// FinalReason records why a category stopped paginating
type FinalReason string

const (
	ReasonBudgetExhausted FinalReason = "budget_exhausted"
	ReasonNoNextPage      FinalReason = "no_next_page"
	ReasonPageLoop        FinalReason = "page_loop"
	ReasonAbandoned       FinalReason = "abandoned"
	ReasonPermanentError  FinalReason = "permanent_error"
	ReasonRequestCap      FinalReason = "request_cap"
	ReasonStopped         FinalReason = "stopped"
)

// Category holds the crawl state and results of one category.
//
// Only the worker currently processing a request for the category touches
// its fields; the scheduler never has two requests of the same category in
// flight. After Finalized is set the category is read-only.
type Category struct {
	Name         string
	SeedURL      string
	PageBudget   int
	PagesCrawled int
	Products     []ProductRecord
	Phrases      *ngram.Set

	Finalized   bool
	Reason      FinalReason
	FinalizedAt time.Time

	Attempts  int // Fetch attempts, retries included
	Retries   int // Backoff retries scheduled
	Abandoned int // Requests dropped after the retry ceiling
	LastError string

	visited map[string]bool
}

func newCategory(name, seedURL string, budget int, phrases *ngram.Set) *Category {
	return &Category{
		Name:       name,
		SeedURL:    seedURL,
		PageBudget: budget,
		Products:   []ProductRecord{},
		Phrases:    phrases,
		visited:    make(map[string]bool),
	}
}

// CrawlStats represents crawling statistics
type CrawlStats struct {
	PagesCrawled int
	Requests     int
	RateLimited  int
	Transient    int
	Permanent    int
	Abandoned    int
	Rotations    int
	StartTime    time.Time
	Duration     time.Duration
}
