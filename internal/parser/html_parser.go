// Package parser extracts product listings from HTML pages.
// Items, titles, links and the next-page link are located with CSS
// selectors so the same code serves any storefront layout.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/masahif/shelfscan/internal/config"
)

// ErrNotHTML is returned for bodies that cannot be decoded as HTML
var ErrNotHTML = errors.New("content is not HTML")

// ListingParser extracts items from listing pages
type ListingParser struct {
	sel            config.SelectorConfig
	allowedSchemes []string
}

// Item is one product found on a listing page
type Item struct {
	Title  string
	Link   string // Absolute URL, empty when missing or unusable
	Price  *string
	Rating *float64
	ItemID string
}

// Listing contains the parsed listing page
type Listing struct {
	Title    string // Document title
	Items    []Item
	NextLink string // Absolute URL of the next page, empty when none
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	ratingRe     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// NewListingParser creates a parser for the given selectors
func NewListingParser(sel config.SelectorConfig) (*ListingParser, error) {
	if sel.Item == "" || sel.Title == "" {
		return nil, config.ErrMissingSelector
	}
	return &ListingParser{
		sel:            sel,
		allowedSchemes: []string{"https://", "http://"},
	}, nil
}

// Parse decodes body to UTF-8 using contentType and the document's own
// charset hints, then extracts the listing. Links are resolved against
// pageURL.
func (p *ListingParser) Parse(pageURL string, body []byte, contentType string) (*Listing, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	data, err := toUTF8(body, contentType)
	if err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	listing := &Listing{
		Title: cleanText(doc.Find("title").First().Text()),
		Items: []Item{},
	}

	doc.Find(p.sel.Item).Each(func(_ int, s *goquery.Selection) {
		listing.Items = append(listing.Items, p.parseItem(base, s))
	})

	if p.sel.Next != "" {
		if href, ok := doc.Find(p.sel.Next).First().Attr("href"); ok {
			listing.NextLink = p.resolveURL(base, href)
		}
	}

	return listing, nil
}

// parseItem extracts one item. Missing optional fields stay empty.
func (p *ListingParser) parseItem(base *url.URL, s *goquery.Selection) Item {
	item := Item{
		Title: cleanText(s.Find(p.sel.Title).First().Text()),
	}

	if p.sel.Link != "" {
		link := s.Find(p.sel.Link).First()
		if goquery.NodeName(s) == "a" && link.Length() == 0 {
			link = s
		}
		if href, ok := link.Attr("href"); ok {
			item.Link = p.resolveURL(base, href)
		}
	}

	if p.sel.Price != "" {
		if price := cleanText(s.Find(p.sel.Price).First().Text()); price != "" {
			item.Price = &price
		}
	}

	if p.sel.Rating != "" {
		if rating, ok := parseRating(s.Find(p.sel.Rating).First().Text()); ok {
			item.Rating = &rating
		}
	}

	if p.sel.ItemIDAttr != "" {
		item.ItemID = strings.TrimSpace(s.AttrOr(p.sel.ItemIDAttr, ""))
	}

	return item
}

// resolveURL converts href to an absolute URL. Fragments, script links and
// disallowed schemes yield an empty string.
func (p *ListingParser) resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""

	s := abs.String()
	if !p.isAllowedScheme(s) {
		return ""
	}
	return s
}

func (p *ListingParser) isAllowedScheme(u string) bool {
	lower := strings.ToLower(u)
	for _, scheme := range p.allowedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// toUTF8 decodes body to UTF-8, trusting valid UTF-8 when decoding fails
func toUTF8(body []byte, contentType string) ([]byte, error) {
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	data, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("%w: %v", ErrNotHTML, err)
		}
		data = body
	}
	return data, nil
}

// parseRating reads the first number in text, e.g. "4.5 out of 5 stars"
func parseRating(text string) (float64, bool) {
	m := ratingRe.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
