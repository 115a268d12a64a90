package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/masahif/shelfscan/internal/config"
)

// Writer outputs a report in one format
type Writer interface {
	Write(r *Report) error
}

// NewWriter returns the writer for format: json, yaml or markdown
func NewWriter(format string, output io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return &JSONWriter{output: output, indent: "  "}, nil
	case "yaml", "yml":
		return &YAMLWriter{output: output}, nil
	case "markdown", "md":
		return &MarkdownWriter{output: output}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidFormat, format)
	}
}

// JSONWriter outputs reports as indented JSON
type JSONWriter struct {
	output io.Writer
	indent string
}

// Write implements Writer
func (w *JSONWriter) Write(r *Report) error {
	enc := json.NewEncoder(w.output)
	enc.SetIndent("", w.indent)
	return enc.Encode(r)
}

// YAMLWriter outputs reports as YAML
type YAMLWriter struct {
	output io.Writer
}

// Write implements Writer
func (w *YAMLWriter) Write(r *Report) error {
	enc := yaml.NewEncoder(w.output)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// MarkdownWriter outputs a human readable report
type MarkdownWriter struct {
	output io.Writer
}

// Write implements Writer
func (w *MarkdownWriter) Write(r *Report) error {
	md := markdown.NewMarkdown(w.output)

	w.writeSummary(md, r)
	for _, cat := range r.Categories {
		w.writeCategory(md, cat)
	}

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated %s, run %s*", r.Summary.GeneratedAt.Format("2006-01-02 15:04:05 MST"), r.RunID)

	return md.Build()
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, r *Report) {
	md.H1("Shelf Scan Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Categories", strconv.Itoa(r.Summary.Categories)},
			{"Pages crawled", strconv.Itoa(r.Summary.Pages)},
			{"Products", strconv.Itoa(r.Summary.Products)},
			{"Requests", strconv.Itoa(r.Summary.Requests)},
			{"Rate limited", strconv.Itoa(r.Summary.RateLimited)},
			{"Abandoned requests", strconv.Itoa(r.Summary.Abandoned)},
			{"Identity rotations", strconv.Itoa(r.Summary.Rotations)},
			{"Duration", r.Summary.Duration.Round(time.Millisecond).String()},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeCategory(md *markdown.Markdown, cat CategoryReport) {
	md.H2(cases.Title(language.English).String(cat.Category))
	md.PlainText("")

	rows := [][]string{
		{"Seed", cat.SeedURL},
		{"Pages", strconv.Itoa(cat.PagesCrawled)},
		{"Products", strconv.Itoa(len(cat.Products))},
		{"Finished", cat.Reason},
	}
	if cat.Abandoned > 0 {
		rows = append(rows, []string{"Abandoned requests", strconv.Itoa(cat.Abandoned)})
	}
	if cat.LastError != "" {
		rows = append(rows, []string{"Last error", cell(cat.LastError)})
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: rows})
	md.PlainText("")

	for _, st := range cat.PhraseStats {
		ranking := cat.Ranking(st.N)
		md.H3(fmt.Sprintf("Top %s", ngramName(st.N)))
		md.PlainText("")
		if len(ranking) == 0 {
			md.PlainText("No phrases.")
			md.PlainText("")
			continue
		}

		phraseRows := make([][]string, len(ranking))
		for i, pc := range ranking {
			phraseRows[i] = []string{strconv.Itoa(i + 1), cell(pc.Phrase), strconv.Itoa(pc.Count)}
		}
		md.Table(markdown.TableSet{Header: []string{"#", "Phrase", "Count"}, Rows: phraseRows})
		md.PlainText("")
	}

	if len(cat.Products) == 0 {
		return
	}

	md.H3("Products")
	md.PlainText("")
	productRows := make([][]string, len(cat.Products))
	for i, p := range cat.Products {
		price, rating := "", ""
		if p.Price != nil {
			price = *p.Price
		}
		if p.Rating != nil {
			rating = strconv.FormatFloat(*p.Rating, 'f', -1, 64)
		}
		productRows[i] = []string{cell(p.Title), cell(price), rating, p.Link}
	}
	md.Table(markdown.TableSet{Header: []string{"Title", "Price", "Rating", "Link"}, Rows: productRows})
	md.PlainText("")
}

func ngramName(n int) string {
	switch n {
	case 1:
		return "words"
	case 2:
		return "two-word phrases"
	case 3:
		return "three-word phrases"
	default:
		return strconv.Itoa(n) + "-grams"
	}
}

// cell escapes table separators
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
