package ngram

import "sort"

// PhraseCount is one ranked entry of a Table.
type PhraseCount struct {
	Phrase string `json:"phrase" yaml:"phrase"`
	Count  int    `json:"count" yaml:"count"`
}

// Table counts phrases and remembers the order in which each phrase was
// first seen. Counts only ever grow. A Table is not safe for concurrent use;
// the scheduler guarantees a single writer per category.
type Table struct {
	counts map[string]int
	order  []string
}

// NewTable creates an empty frequency table
func NewTable() *Table {
	return &Table{counts: make(map[string]int)}
}

// Add increments phrase by one.
func (t *Table) Add(phrase string) {
	if _, seen := t.counts[phrase]; !seen {
		t.order = append(t.order, phrase)
	}
	t.counts[phrase]++
}

// Count returns the current count of phrase.
func (t *Table) Count(phrase string) int {
	return t.counts[phrase]
}

// Len returns the number of distinct phrases.
func (t *Table) Len() int {
	return len(t.order)
}

// Total returns the sum of all counts.
func (t *Table) Total() int {
	total := 0
	for _, c := range t.counts {
		total += c
	}
	return total
}

// Ranked returns all phrases sorted by count descending. Phrases with equal
// counts keep their first-insertion order.
func (t *Table) Ranked() []PhraseCount {
	ranked := make([]PhraseCount, 0, len(t.order))
	for _, phrase := range t.order {
		ranked = append(ranked, PhraseCount{Phrase: phrase, Count: t.counts[phrase]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	return ranked
}

// Top returns the first n entries of Ranked. n <= 0 returns everything.
func (t *Table) Top(n int) []PhraseCount {
	ranked := t.Ranked()
	if n > 0 && n < len(ranked) {
		return ranked[:n]
	}
	return ranked
}
