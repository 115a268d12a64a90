package ngram

import "errors"

// DefaultMaxN computes unigrams, bigrams and trigrams.
const DefaultMaxN = 3

// ErrInvalidMaxN is returned for n-gram sizes outside 1..3
var ErrInvalidMaxN = errors.New("ngram max size must be between 1 and 3")

// Set holds one Table per n-gram size for a single category.
type Set struct {
	tables []*Table // index n-1
}

// Table returns the table for size n. Sizes that are not computed return an
// empty table so callers can report them uniformly.
func (s *Set) Table(n int) *Table {
	if n < 1 || n > len(s.tables) {
		return NewTable()
	}
	return s.tables[n-1]
}

// MaxN returns the largest n-gram size tracked by the set.
func (s *Set) MaxN() int {
	return len(s.tables)
}

// Aggregator turns titles into phrase counts.
//
// With Dedupe disabled every occurrence of a phrase inside one title counts.
// With Dedupe enabled a phrase counts at most once per title, the way the
// per-keyword search harvester counted unique n-grams per item.
type Aggregator struct {
	maxN   int
	dedupe bool
}

// NewAggregator creates an aggregator computing n-grams of sizes 1..maxN.
func NewAggregator(maxN int, dedupe bool) (*Aggregator, error) {
	if maxN < 1 || maxN > 3 {
		return nil, ErrInvalidMaxN
	}
	return &Aggregator{maxN: maxN, dedupe: dedupe}, nil
}

// NewSet creates an empty table set sized for this aggregator.
func (a *Aggregator) NewSet() *Set {
	tables := make([]*Table, a.maxN)
	for i := range tables {
		tables[i] = NewTable()
	}
	return &Set{tables: tables}
}

// Dedupe reports whether phrases are counted once per title.
func (a *Aggregator) Dedupe() bool {
	return a.dedupe
}

// Record tokenizes title and adds its n-grams to set. It returns the number
// of increments applied.
func (a *Aggregator) Record(set *Set, title string) int {
	tokens := Tokenize(title)
	applied := 0

	for n := 1; n <= a.maxN && n <= set.MaxN(); n++ {
		table := set.tables[n-1]
		var seen map[string]struct{}
		if a.dedupe {
			seen = make(map[string]struct{})
		}

		for _, gram := range NGrams(tokens, n) {
			if seen != nil {
				if _, dup := seen[gram]; dup {
					continue
				}
				seen[gram] = struct{}{}
			}
			table.Add(gram)
			applied++
		}
	}
	return applied
}
