package ngram

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"punctuation and short tokens", "Men's Cool-Tee!!", []string{"men", "cool", "tee"}},
		{"empty string", "", []string{}},
		{"only short tokens", "a an to", []string{}},
		{"digits kept", "iPhone 15 Pro 256GB", []string{"iphone", "pro", "256gb"}},
		{"tabs and newlines", "red\tcotton\nshirt", []string{"red", "cotton", "shirt"}},
		{"non ascii stripped", "Café crème", []string{"caf"}},
		{"upper case", "RED COTTON", []string{"red", "cotton"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if got == nil {
				t.Fatalf("Tokenize(%q) returned nil", tt.input)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTokenizeIdempotent(t *testing.T) {
	inputs := []string{
		"Men's Cool-Tee!!",
		"Organic Cotton T-Shirt, Pack of 3 (Large)",
		"",
		"100% Pure   Linen",
	}

	for _, input := range inputs {
		first := Tokenize(input)
		second := Tokenize(strings.Join(first, " "))
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Tokenize not idempotent for %q: %v then %v", input, first, second)
		}
		if again := Tokenize(input); !reflect.DeepEqual(first, again) {
			t.Errorf("Tokenize not deterministic for %q", input)
		}
	}
}

func TestNGrams(t *testing.T) {
	tests := []struct {
		name     string
		tokens   []string
		n        int
		expected []string
	}{
		{"bigrams", []string{"red", "cotton", "shirt"}, 2, []string{"red cotton", "cotton shirt"}},
		{"too few tokens", []string{"red"}, 2, []string{}},
		{"unigrams", []string{"red", "cotton"}, 1, []string{"red", "cotton"}},
		{"trigram exact", []string{"red", "cotton", "shirt"}, 3, []string{"red cotton shirt"}},
		{"zero n", []string{"red"}, 0, []string{}},
		{"nil tokens", nil, 1, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NGrams(tt.tokens, tt.n)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("NGrams(%v, %d) = %v, want %v", tt.tokens, tt.n, got, tt.expected)
			}
		})
	}
}

func TestTableRanked(t *testing.T) {
	table := NewTable()
	for _, p := range []string{"shirt", "cotton", "red", "cotton", "red", "blue"} {
		table.Add(p)
	}

	expected := []PhraseCount{
		{"cotton", 2},
		{"red", 2},
		{"shirt", 1},
		{"blue", 1},
	}
	if got := table.Ranked(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Ranked() = %v, want %v", got, expected)
	}

	if got := table.Top(2); len(got) != 2 || got[0].Phrase != "cotton" {
		t.Errorf("Top(2) = %v", got)
	}
	if got := table.Top(0); len(got) != 4 {
		t.Errorf("Top(0) returned %d entries, want 4", len(got))
	}
	if table.Total() != 6 {
		t.Errorf("Total() = %d, want 6", table.Total())
	}
	if table.Len() != 4 {
		t.Errorf("Len() = %d, want 4", table.Len())
	}
}

func TestAggregatorRecord(t *testing.T) {
	t.Run("occurrence counting", func(t *testing.T) {
		agg, err := NewAggregator(3, false)
		if err != nil {
			t.Fatalf("NewAggregator: %v", err)
		}
		set := agg.NewSet()
		agg.Record(set, "Red shirt red shirt")

		if got := set.Table(1).Count("red"); got != 2 {
			t.Errorf("unigram red = %d, want 2", got)
		}
		if got := set.Table(2).Count("red shirt"); got != 2 {
			t.Errorf("bigram 'red shirt' = %d, want 2", got)
		}
		if got := set.Table(2).Count("shirt red"); got != 1 {
			t.Errorf("bigram 'shirt red' = %d, want 1", got)
		}
		if got := set.Table(3).Count("red shirt red"); got != 1 {
			t.Errorf("trigram = %d, want 1", got)
		}
	})

	t.Run("dedupe per title", func(t *testing.T) {
		agg, err := NewAggregator(3, true)
		if err != nil {
			t.Fatalf("NewAggregator: %v", err)
		}
		set := agg.NewSet()
		agg.Record(set, "Red shirt red shirt")
		agg.Record(set, "red hat")

		if got := set.Table(1).Count("red"); got != 2 {
			t.Errorf("unigram red = %d, want 2 (once per title)", got)
		}
		if got := set.Table(2).Count("red shirt"); got != 1 {
			t.Errorf("bigram 'red shirt' = %d, want 1", got)
		}
	})

	t.Run("max size limits tables", func(t *testing.T) {
		agg, err := NewAggregator(1, false)
		if err != nil {
			t.Fatalf("NewAggregator: %v", err)
		}
		set := agg.NewSet()
		agg.Record(set, "red cotton shirt")

		if set.Table(2).Len() != 0 {
			t.Errorf("bigrams computed with maxN=1")
		}
		if set.Table(1).Len() != 3 {
			t.Errorf("unigrams = %d, want 3", set.Table(1).Len())
		}
	})

	t.Run("empty title", func(t *testing.T) {
		agg, _ := NewAggregator(3, false)
		set := agg.NewSet()
		if n := agg.Record(set, ""); n != 0 {
			t.Errorf("Record(\"\") applied %d increments", n)
		}
	})
}

func TestNewAggregatorInvalid(t *testing.T) {
	for _, n := range []int{0, 4, -1} {
		if _, err := NewAggregator(n, false); err != ErrInvalidMaxN {
			t.Errorf("NewAggregator(%d) error = %v, want ErrInvalidMaxN", n, err)
		}
	}
}
