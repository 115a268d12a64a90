package crawler

import (
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Decision is the result of PaginationTracker.Advance
type Decision struct {
	Continue bool
	NextURL  string      // Absolute URL of the next page when Continue is set
	Reason   FinalReason // Why pagination stops when Continue is not set
}

// PaginationTracker bounds the pages fetched per category and decides when
// a category is done.
type PaginationTracker struct{}

// NewPaginationTracker creates a pagination tracker
func NewPaginationTracker() *PaginationTracker {
	return &PaginationTracker{}
}

// Advance records one fetched page of cat and decides whether to continue.
// It continues only when the page had a next link, the budget has room and
// the next page has not been seen before in this category.
func (t *PaginationTracker) Advance(cat *Category, pageURL, nextLink string) Decision {
	if cat.Finalized {
		return Decision{Reason: cat.Reason}
	}

	cat.PagesCrawled++
	cat.visited[pageURL] = true

	if strings.TrimSpace(nextLink) == "" {
		return Decision{Reason: ReasonNoNextPage}
	}

	if cat.PagesCrawled >= cat.PageBudget {
		return Decision{Reason: ReasonBudgetExhausted}
	}

	nextURL, err := resolveLink(pageURL, nextLink)
	if err != nil {
		slog.Warn("Unusable next page link", "category", cat.Name, "url", pageURL, "next", nextLink, "error", err)
		return Decision{Reason: ReasonNoNextPage}
	}

	if cat.visited[nextURL] {
		return Decision{Reason: ReasonPageLoop}
	}

	return Decision{Continue: true, NextURL: nextURL}
}

// Finalize marks cat as done. The first reason wins; later calls are no-ops.
func (t *PaginationTracker) Finalize(cat *Category, reason FinalReason) bool {
	if cat.Finalized {
		return false
	}
	cat.Finalized = true
	cat.Reason = reason
	cat.FinalizedAt = time.Now().UTC()
	return true
}

// resolveLink converts link to an absolute URL using base as the origin
func resolveLink(base, link string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", err
	}
	resolved := baseURL.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String(), nil
}
