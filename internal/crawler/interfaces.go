package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Fetcher fetches one listing page with the given identity and extracts its
// product records. Implementations never panic or return Go errors for
// per-page failures; they classify them into a FetchOutcome.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, id Identity) FetchOutcome
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, pageURL string, id Identity) FetchOutcome

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, pageURL string, id Identity) FetchOutcome {
	return f(ctx, pageURL, id)
}

// Identity is what a session lends to a fetch
type Identity struct {
	SessionID int
	Proxy     *url.URL // nil means a direct connection
	UserAgent string
	Jar       http.CookieJar
}

// ProxyKey identifies the transport an identity needs
func (i Identity) ProxyKey() string {
	if i.Proxy == nil {
		return "direct"
	}
	return i.Proxy.String()
}

// OutcomeKind tags a FetchOutcome
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeTransient
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient_error"
	case OutcomePermanent:
		return "permanent_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// RawRecord is one product as found on the page, before normalization
type RawRecord struct {
	Title  string
	Link   string // Absolute or relative to the page
	Price  *string
	Rating *float64
	ItemID string
}

// FetchOutcome is the result of a single fetch
type FetchOutcome struct {
	Kind     OutcomeKind
	Records  []RawRecord
	NextLink string // Empty when the page has no next link
	Err      error  // Cause for non-success outcomes
}

// Success builds a successful outcome
func Success(records []RawRecord, nextLink string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, Records: records, NextLink: nextLink}
}

// RateLimited builds a rate limited outcome
func RateLimited(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeRateLimited, Err: err}
}

// Transient builds a transient failure outcome
func Transient(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeTransient, Err: err}
}

// Permanent builds a permanent page failure outcome
func Permanent(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomePermanent, Err: err}
}

func (o FetchOutcome) errorString() string {
	if o.Err == nil {
		return o.Kind.String()
	}
	return o.Err.Error()
}
