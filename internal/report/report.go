// Package report turns finalized categories into the run report and writes
// it as JSON, YAML or Markdown.
package report

import (
	"time"

	"github.com/masahif/shelfscan/internal/crawler"
	"github.com/masahif/shelfscan/internal/ngram"
)

// PhraseStats summarizes the frequency table for one n-gram size
type PhraseStats struct {
	N        int `json:"n" yaml:"n"`
	Total    int `json:"total" yaml:"total"`       // Occurrences counted
	Distinct int `json:"distinct" yaml:"distinct"` // Distinct phrases
}

// CategoryReport is the result of one category
type CategoryReport struct {
	Category     string                  `json:"category" yaml:"category"`
	SeedURL      string                  `json:"seed_url" yaml:"seed_url"`
	PagesCrawled int                     `json:"pages_crawled" yaml:"pages_crawled"`
	Reason       string                  `json:"final_reason" yaml:"final_reason"`
	FinalizedAt  time.Time               `json:"finalized_at" yaml:"finalized_at"`
	Attempts     int                     `json:"attempts" yaml:"attempts"`
	Retries      int                     `json:"retries" yaml:"retries"`
	Abandoned    int                     `json:"abandoned" yaml:"abandoned"`
	LastError    string                  `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Products     []crawler.ProductRecord `json:"products" yaml:"products"`
	Unigrams     []ngram.PhraseCount     `json:"unigrams" yaml:"unigrams"`
	Bigrams      []ngram.PhraseCount     `json:"bigrams" yaml:"bigrams"`
	Trigrams     []ngram.PhraseCount     `json:"trigrams" yaml:"trigrams"`
	PhraseStats  []PhraseStats           `json:"phrase_stats" yaml:"phrase_stats"` // One entry per computed n-gram size
}

// Ranking returns the ranked phrases of size n
func (c *CategoryReport) Ranking(n int) []ngram.PhraseCount {
	switch n {
	case 1:
		return c.Unigrams
	case 2:
		return c.Bigrams
	case 3:
		return c.Trigrams
	default:
		return nil
	}
}

// Summary aggregates the run
type Summary struct {
	Categories  int           `json:"categories" yaml:"categories"`
	Pages       int           `json:"pages" yaml:"pages"`
	Products    int           `json:"products" yaml:"products"`
	Requests    int           `json:"requests" yaml:"requests"`
	RateLimited int           `json:"rate_limited" yaml:"rate_limited"`
	Transient   int           `json:"transient_errors" yaml:"transient_errors"`
	Permanent   int           `json:"permanent_errors" yaml:"permanent_errors"`
	Abandoned   int           `json:"abandoned" yaml:"abandoned"`
	Rotations   int           `json:"rotations" yaml:"rotations"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	GeneratedAt time.Time     `json:"generated_at" yaml:"generated_at"`
}

// Report is the complete run result
type Report struct {
	RunID      string           `json:"run_id" yaml:"run_id"`
	Summary    Summary          `json:"summary" yaml:"summary"`
	Categories []CategoryReport `json:"categories" yaml:"categories"`
}

// Build assembles the report from categories in seed order. topN limits
// every phrase ranking; 0 keeps all phrases.
func Build(runID string, categories []*crawler.Category, stats crawler.CrawlStats, topN int) *Report {
	r := &Report{
		RunID:      runID,
		Categories: make([]CategoryReport, 0, len(categories)),
		Summary: Summary{
			Categories:  len(categories),
			Requests:    stats.Requests,
			RateLimited: stats.RateLimited,
			Transient:   stats.Transient,
			Permanent:   stats.Permanent,
			Abandoned:   stats.Abandoned,
			Rotations:   stats.Rotations,
			Duration:    stats.Duration,
			GeneratedAt: time.Now().UTC(),
		},
	}

	for _, cat := range categories {
		cr := CategoryReport{
			Category:     cat.Name,
			SeedURL:      cat.SeedURL,
			PagesCrawled: cat.PagesCrawled,
			Reason:       string(cat.Reason),
			FinalizedAt:  cat.FinalizedAt,
			Attempts:     cat.Attempts,
			Retries:      cat.Retries,
			Abandoned:    cat.Abandoned,
			LastError:    cat.LastError,
			Products:     cat.Products,
			Unigrams:     []ngram.PhraseCount{},
			Bigrams:      []ngram.PhraseCount{},
			Trigrams:     []ngram.PhraseCount{},
			PhraseStats:  []PhraseStats{},
		}
		addPhrases(&cr, cat.Phrases, topN)
		if cr.Products == nil {
			cr.Products = []crawler.ProductRecord{}
		}

		r.Summary.Pages += cat.PagesCrawled
		r.Summary.Products += len(cat.Products)
		r.Categories = append(r.Categories, cr)
	}

	return r
}

func addPhrases(cr *CategoryReport, set *ngram.Set, topN int) {
	if set == nil {
		return
	}

	for n := 1; n <= set.MaxN(); n++ {
		t := set.Table(n)
		cr.PhraseStats = append(cr.PhraseStats, PhraseStats{N: n, Total: t.Total(), Distinct: t.Len()})

		top := t.Top(topN)
		switch n {
		case 1:
			cr.Unigrams = top
		case 2:
			cr.Bigrams = top
		case 3:
			cr.Trigrams = top
		}
	}
}
