package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/masahif/shelfscan/internal/config"
	"github.com/masahif/shelfscan/internal/crawler"
	"github.com/masahif/shelfscan/internal/ngram"
)

// createTestCategories builds two finalized categories for testing.
func createTestCategories(t *testing.T) []*crawler.Category {
	t.Helper()

	agg, err := ngram.NewAggregator(2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price := "$9.99"
	rating := 4.2
	socks := &crawler.Category{
		Name:         "wool socks",
		SeedURL:      "https://shop.example.com/s?k=wool+socks",
		PagesCrawled: 2,
		Reason:       crawler.ReasonNoNextPage,
		Phrases:      agg.NewSet(),
	}
	for _, title := range []string{"Red Wool Socks", "Blue Wool Socks | 3 Pack"} {
		socks.Products = append(socks.Products, crawler.ProductRecord{
			Title: title, Link: "https://shop.example.com/p/1", Price: &price, Rating: &rating, Category: socks.Name,
		})
		agg.Record(socks.Phrases, title)
	}

	hats := &crawler.Category{
		Name:      "hats",
		SeedURL:   "https://shop.example.com/c/hats",
		Reason:    crawler.ReasonAbandoned,
		Abandoned: 1,
		LastError: "HTTP 503 Service Unavailable",
		Phrases:   agg.NewSet(),
	}

	return []*crawler.Category{socks, hats}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	stats := crawler.CrawlStats{Requests: 9, RateLimited: 3, Abandoned: 1, Rotations: 2, Duration: 3 * time.Second}
	r := Build("run-1", createTestCategories(t), stats, 2)

	if r.Summary.Categories != 2 || r.Summary.Pages != 2 || r.Summary.Products != 2 {
		t.Errorf("unexpected summary: %+v", r.Summary)
	}
	if r.Summary.Requests != 9 || r.Summary.Rotations != 2 {
		t.Errorf("stats not carried into summary: %+v", r.Summary)
	}
	if r.Categories[0].Category != "wool socks" || r.Categories[1].Category != "hats" {
		t.Errorf("expected seed order, got %s, %s", r.Categories[0].Category, r.Categories[1].Category)
	}

	socks := r.Categories[0]
	if len(socks.PhraseStats) != 2 {
		t.Fatalf("expected stats for 2 n-gram sizes, got %d", len(socks.PhraseStats))
	}
	if len(socks.Unigrams) != 2 {
		t.Fatalf("expected top 2 unigrams, got %+v", socks.Unigrams)
	}
	if socks.Unigrams[0] != (ngram.PhraseCount{Phrase: "wool", Count: 2}) {
		t.Errorf("expected 'wool' first, got %+v", socks.Unigrams[0])
	}
	if st := socks.PhraseStats[0]; st.N != 1 || st.Distinct != 5 || st.Total != 7 {
		t.Errorf("expected 5 distinct / 7 total unigrams, got %+v", st)
	}
	if socks.Trigrams == nil || len(socks.Trigrams) != 0 {
		t.Errorf("expected empty trigrams when ngram_max is 2, got %v", socks.Trigrams)
	}

	hats := r.Categories[1]
	if hats.Products == nil {
		t.Error("expected empty product slice, got nil")
	}
	if hats.Reason != "abandoned" || hats.LastError == "" {
		t.Errorf("unexpected hats report: %+v", hats)
	}
}

func TestBuildKeepsAllPhrasesByDefault(t *testing.T) {
	t.Parallel()

	agg, err := ngram.NewAggregator(3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cat := &crawler.Category{Name: "widgets", Reason: crawler.ReasonNoNextPage, Phrases: agg.NewSet()}
	for i := 0; i < 80; i++ {
		agg.Record(cat.Phrases, fmt.Sprintf("widget model%03d", i))
	}

	r := Build("run-all", []*crawler.Category{cat}, crawler.CrawlStats{}, config.DefaultConfig().TopPhrases)

	widgets := r.Categories[0]
	if len(widgets.Unigrams) != 81 {
		t.Errorf("expected all 81 unigrams, got %d", len(widgets.Unigrams))
	}
	if len(widgets.Bigrams) != 80 {
		t.Errorf("expected all 80 bigrams, got %d", len(widgets.Bigrams))
	}
	if widgets.Unigrams[0] != (ngram.PhraseCount{Phrase: "widget", Count: 80}) {
		t.Errorf("expected 'widget' first, got %+v", widgets.Unigrams[0])
	}
}

func TestReportJSONKeys(t *testing.T) {
	t.Parallel()

	r := Build("run-keys", createTestCategories(t), crawler.CrawlStats{}, 0)

	var buf bytes.Buffer
	w, _ := NewWriter("json", &buf)
	if err := w.Write(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Categories []map[string]json.RawMessage `json:"categories"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(decoded.Categories))
	}

	socks := decoded.Categories[0]
	for _, key := range []string{"category", "pages_crawled", "products", "unigrams", "bigrams", "trigrams"} {
		if _, ok := socks[key]; !ok {
			t.Errorf("expected key %q in category report", key)
		}
	}
	if string(socks["category"]) != `"wool socks"` {
		t.Errorf("expected category \"wool socks\", got %s", socks["category"])
	}

	var unigrams []map[string]any
	if err := json.Unmarshal(socks["unigrams"], &unigrams); err != nil {
		t.Fatalf("unigrams is not a list: %v", err)
	}
	if len(unigrams) == 0 || unigrams[0]["phrase"] != "wool" || unigrams[0]["count"] != float64(2) {
		t.Errorf("unexpected unigrams: %v", unigrams)
	}
	if string(decoded.Categories[1]["trigrams"]) != "[]" {
		t.Errorf("expected empty trigram list for hats, got %s", decoded.Categories[1]["trigrams"])
	}
}

func TestWriters(t *testing.T) {
	t.Parallel()

	r := Build("run-42", createTestCategories(t), crawler.CrawlStats{}, 0)

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w, err := NewWriter("json", &buf)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := w.Write(r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var decoded Report
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.RunID != "run-42" || len(decoded.Categories) != 2 {
			t.Errorf("unexpected decoded report: %+v", decoded)
		}
		if !strings.Contains(buf.String(), `"final_reason": "no_next_page"`) {
			t.Error("expected final_reason in JSON output")
		}
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w, _ := NewWriter("yaml", &buf)
		if err := w.Write(r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var decoded map[string]any
		if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid YAML: %v", err)
		}
		if decoded["run_id"] != "run-42" {
			t.Errorf("expected run_id run-42, got %v", decoded["run_id"])
		}
	})

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w, _ := NewWriter("markdown", &buf)
		if err := w.Write(r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"# Shelf Scan Report",
			"## Wool Socks",
			"## Hats",
			"### Top words",
			"### Top two-word phrases",
			`Blue Wool Socks \| 3 Pack`,
			"HTTP 503 Service Unavailable",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})
}

func TestNewWriterUnknownFormat(t *testing.T) {
	t.Parallel()

	if _, err := NewWriter("csv", &bytes.Buffer{}); !errors.Is(err, config.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}
