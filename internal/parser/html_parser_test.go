package parser

import (
	"errors"
	"testing"

	"github.com/masahif/shelfscan/internal/config"
)

const listingHTML = `
<!DOCTYPE html>
<html>
<head><title>Wool Socks | Shop</title></head>
<body>
	<div class="results">
		<div data-item data-sku="SKU-1">
			<h2><a href="/p/merino-socks#reviews">Merino   Wool
				Socks</a></h2>
			<span class="price">$12.99</span>
			<span class="rating">4.5 out of 5 stars</span>
		</div>
		<div data-item data-sku="SKU-2">
			<h2><a href="https://cdn.example.org/p/hiking">Hiking Socks</a></h2>
			<span class="rating">no reviews</span>
		</div>
		<div data-item>
			<a href="javascript:void(0)">broken</a>
		</div>
	</div>
	<a rel="next" href="?page=2">Next</a>
</body>
</html>
`

func testSelectors() config.SelectorConfig {
	return config.SelectorConfig{
		Item:       "[data-item]",
		Title:      "h2",
		Link:       "a",
		Price:      ".price",
		Rating:     ".rating",
		ItemIDAttr: "data-sku",
		Next:       "a[rel=next]",
	}
}

func TestListingParser(t *testing.T) {
	p, err := NewListingParser(testSelectors())
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	listing, err := p.Parse("https://shop.example.com/c/socks", []byte(listingHTML), "text/html; charset=utf-8")
	if err != nil {
		t.Fatalf("Failed to parse listing: %v", err)
	}

	if listing.Title != "Wool Socks | Shop" {
		t.Errorf("Expected title 'Wool Socks | Shop', got '%s'", listing.Title)
	}
	if listing.NextLink != "https://shop.example.com/c/socks?page=2" {
		t.Errorf("Expected next link resolved against page, got '%s'", listing.NextLink)
	}
	if len(listing.Items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(listing.Items))
	}

	first := listing.Items[0]
	if first.Title != "Merino Wool Socks" {
		t.Errorf("Expected collapsed title, got '%s'", first.Title)
	}
	if first.Link != "https://shop.example.com/p/merino-socks" {
		t.Errorf("Expected absolute link without fragment, got '%s'", first.Link)
	}
	if first.Price == nil || *first.Price != "$12.99" {
		t.Errorf("Expected price $12.99, got %v", first.Price)
	}
	if first.Rating == nil || *first.Rating != 4.5 {
		t.Errorf("Expected rating 4.5, got %v", first.Rating)
	}
	if first.ItemID != "SKU-1" {
		t.Errorf("Expected item id SKU-1, got '%s'", first.ItemID)
	}

	second := listing.Items[1]
	if second.Link != "https://cdn.example.org/p/hiking" {
		t.Errorf("Expected external link kept, got '%s'", second.Link)
	}
	if second.Price != nil || second.Rating != nil {
		t.Errorf("Expected no price or rating, got %v %v", second.Price, second.Rating)
	}

	third := listing.Items[2]
	if third.Title != "" || third.Link != "" {
		t.Errorf("Expected empty title and link, got '%s' '%s'", third.Title, third.Link)
	}
}

func TestListingParserCharset(t *testing.T) {
	p, _ := NewListingParser(testSelectors())

	// "Café" in ISO-8859-1
	body := []byte("<html><body><div data-item><h2>Caf\xe9 Mug</h2></div></body></html>")
	listing, err := p.Parse("https://shop.example.com/", body, "text/html; charset=iso-8859-1")
	if err != nil {
		t.Fatalf("Failed to parse listing: %v", err)
	}
	if got := listing.Items[0].Title; got != "Café Mug" {
		t.Errorf("Expected decoded title 'Café Mug', got '%s'", got)
	}
}

func TestListingParserNoItems(t *testing.T) {
	p, _ := NewListingParser(testSelectors())

	listing, err := p.Parse("https://shop.example.com/", []byte("<html><body><p>Nothing here</p></body></html>"), "text/html")
	if err != nil {
		t.Fatalf("Failed to parse listing: %v", err)
	}
	if len(listing.Items) != 0 || listing.NextLink != "" {
		t.Errorf("Expected empty listing, got %+v", listing)
	}
}

func TestNewListingParserRequiresSelectors(t *testing.T) {
	if _, err := NewListingParser(config.SelectorConfig{Title: "h2"}); !errors.Is(err, config.ErrMissingSelector) {
		t.Errorf("Expected ErrMissingSelector, got %v", err)
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4.5 out of 5 stars", 4.5, true},
		{"3,8", 3.8, true},
		{"Rated 5", 5, true},
		{"no reviews", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseRating(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseRating(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
