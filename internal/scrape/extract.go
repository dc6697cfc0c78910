package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
	"github.com/polzovatel/creative-insights-bot/internal/retry"
)

// Field is one declared column of a row. With Layout.Cells set, fields are
// filled positionally and Selector is ignored. Otherwise the first non-empty
// descendant matching Selector supplies the value; when Suffix is set only a
// descendant whose text ends with it qualifies.
type Field struct {
	Name     string
	Selector string
	Suffix   string
	Required bool
}

// Layout describes where rows live on a page.
type Layout struct {
	Name string
	// Containers are alternatives tried in order; the first that yields rows wins.
	Containers []string
	// Rows selects rows inside a container. Empty means every matched
	// container is itself a row.
	Rows   string
	Cells  string
	Fields []Field
}

// Row maps field names to trimmed text. Every declared field is present.
type Row map[string]string

// Strategy reads rows for a layout. It must not change page state.
type Strategy interface {
	Name() string
	TryExtract(ctx context.Context, s browser.Surface, l Layout) ([]Row, error)
}

// Attempt pairs a strategy with the layout it reads.
type Attempt struct {
	Strategy Strategy
	Layout   Layout
}

// Extractor walks an ordered plan and returns the first non-empty result.
type Extractor struct {
	Retry retry.Policy
	Log   zerolog.Logger
}

func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{
		Retry: retry.Policy{MaxAttempts: 2, Logger: logger},
		Log:   logger,
	}
}

// Extract runs plan in order. A strategy that fails to read the page is
// retried under the policy; an empty result moves on to the next attempt.
// Zero rows overall is not an error.
func (x *Extractor) Extract(ctx context.Context, s browser.Surface, plan []Attempt) ([]Row, error) {
	var lastErr error
	for _, a := range plan {
		var rows []Row
		err := x.Retry.Do(ctx, "extract "+a.Layout.Name, func(ctx context.Context, _ int) error {
			var err error
			rows, err = a.Strategy.TryExtract(ctx, s, a.Layout)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			x.Log.Debug().Err(err).Str("strategy", a.Strategy.Name()).Str("layout", a.Layout.Name).Msg("extraction attempt failed")
			lastErr = err
			continue
		}
		if len(rows) > 0 {
			x.Log.Debug().Str("strategy", a.Strategy.Name()).Str("layout", a.Layout.Name).Int("rows", len(rows)).Msg("rows extracted")
			return rows, nil
		}
	}
	if lastErr != nil {
		x.Log.Debug().Err(lastErr).Msg("all extraction attempts empty")
	}
	return nil, nil
}

// LiveStrategy reads the rendered DOM through the surface.
type LiveStrategy struct{}

func (LiveStrategy) Name() string { return "live" }

func (LiveStrategy) TryExtract(ctx context.Context, s browser.Surface, l Layout) ([]Row, error) {
	for _, sel := range l.Containers {
		containers, err := s.QueryAll(ctx, sel)
		if err != nil {
			return nil, err
		}
		var rows []browser.Element
		for _, c := range containers {
			if l.Rows == "" {
				rows = append(rows, c)
				continue
			}
			found, err := c.QueryAll(l.Rows)
			if err != nil {
				return nil, err
			}
			rows = append(rows, found...)
		}

		out := make([]Row, 0, len(rows))
		for _, r := range rows {
			row, err := liveRow(r, l)
			if err != nil {
				return nil, err
			}
			if row != nil {
				out = append(out, row)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func liveRow(r browser.Element, l Layout) (Row, error) {
	row := make(Row, len(l.Fields))
	if l.Cells != "" {
		cells, err := r.QueryAll(l.Cells)
		if err != nil {
			return nil, err
		}
		for i, f := range l.Fields {
			row[f.Name] = ""
			if i < len(cells) {
				row[f.Name] = clean(cells[i].Text())
			}
		}
		return keep(row, l), nil
	}
	for _, f := range l.Fields {
		row[f.Name] = ""
		if f.Selector == "" {
			continue
		}
		matches, err := r.QueryAll(f.Selector)
		if err != nil {
			return nil, err
		}
		texts := make([]string, 0, len(matches))
		for _, m := range matches {
			texts = append(texts, m.Text())
		}
		row[f.Name] = pick(texts, f.Suffix)
	}
	return keep(row, l), nil
}

// MarkupStrategy parses the serialized page with goquery. It reaches content
// the live locators miss when a view variant renders different markup.
type MarkupStrategy struct{}

func (MarkupStrategy) Name() string { return "markup" }

func (MarkupStrategy) TryExtract(ctx context.Context, s browser.Surface, l Layout) ([]Row, error) {
	html, err := s.Content(ctx)
	if err != nil {
		return nil, err
	}
	return ParseMarkup(html, l)
}

// ParseMarkup applies l to an HTML document.
func ParseMarkup(html string, l Layout) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	for _, sel := range l.Containers {
		rows := doc.Find(sel)
		if l.Rows != "" {
			rows = rows.Find(l.Rows)
		}
		out := make([]Row, 0, rows.Length())
		rows.Each(func(_ int, r *goquery.Selection) {
			if row := markupRow(r, l); row != nil {
				out = append(out, row)
			}
		})
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func markupRow(r *goquery.Selection, l Layout) Row {
	row := make(Row, len(l.Fields))
	if l.Cells != "" {
		cells := r.Find(l.Cells)
		for i, f := range l.Fields {
			row[f.Name] = ""
			if i < cells.Length() {
				row[f.Name] = clean(cells.Eq(i).Text())
			}
		}
		return keep(row, l)
	}
	for _, f := range l.Fields {
		row[f.Name] = ""
		if f.Selector == "" {
			continue
		}
		var texts []string
		r.Find(f.Selector).Each(func(_ int, m *goquery.Selection) {
			texts = append(texts, m.Text())
		})
		row[f.Name] = pick(texts, f.Suffix)
	}
	return keep(row, l)
}

// pick returns the first non-empty text, or with a suffix the shortest text
// ending in it, so a wrapper element never shadows the leaf that holds the value.
func pick(texts []string, suffix string) string {
	best := ""
	for _, t := range texts {
		t = clean(t)
		if t == "" {
			continue
		}
		if suffix == "" {
			return t
		}
		if hasSuffixFold(t, suffix) && (best == "" || len(t) < len(best)) {
			best = t
		}
	}
	return best
}

// keep drops rows that are blank or miss a required field.
func keep(row Row, l Layout) Row {
	blank := true
	for _, f := range l.Fields {
		v := row[f.Name]
		if v != "" {
			blank = false
		}
		if f.Required && v == "" {
			return nil
		}
	}
	if blank {
		return nil
	}
	return row
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
