// Package report renders ranked records as chat messages. Tables go inside a
// Markdown code block so the messenger keeps their alignment.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/polzovatel/creative-insights-bot/internal/insight"
)

const maxLabel = 24

var mdEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// KeywordTable renders ranked keyword records followed by a selection hint.
func KeywordTable(topic string, records []insight.InsightRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Top %d keywords for *%s* (by content gap score):\n", len(records), mdEscaper.Replace(topic))
	b.WriteString("```\n")

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKeyword\tPop.\tChange\tCTR\tCVR\tCPA\tScore")
	for i, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			truncate(r.Label, maxLabel),
			dash(r.Popularity),
			dash(r.PopularityChange),
			dash(r.CTR),
			dash(r.CVR),
			dash(r.CPA),
			strconv.FormatFloat(r.ContentGapScore, 'f', 2, 64),
		)
	}
	_ = w.Flush()

	b.WriteString("```\n")
	if len(records) > 0 {
		fmt.Fprintf(&b, "Reply with a number from 1 to %d for a detailed analysis.", len(records))
	}
	return b.String()
}

// Hashtags renders hashtag cards as a numbered list.
func Hashtags(title string, cards []insight.CardRecord) string {
	var b strings.Builder
	b.WriteString(title)
	for i, c := range cards {
		fmt.Fprintf(&b, "\n%d. #%s - %s posts", i+1, c.Name, Humanize(c.Posts))
	}
	return b.String()
}

// Tracks renders track cards as a numbered list.
func Tracks(title string, cards []insight.CardRecord) string {
	var b strings.Builder
	b.WriteString(title)
	for i, c := range cards {
		fmt.Fprintf(&b, "\n%d. \"%s\" - %s", i+1, c.Name, c.Artist)
	}
	return b.String()
}

// Labels returns record labels in order, the set offered for selection.
func Labels(records []insight.InsightRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Label
	}
	return out
}

// Humanize renders a count with a K, M or B suffix and at most one decimal.
func Humanize(n int64) string {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1_000_000_000:
		return scaled(n, 1e9, "B")
	case abs >= 1_000_000:
		return scaled(n, 1e6, "M")
	case abs >= 1_000:
		return scaled(n, 1e3, "K")
	}
	return strconv.FormatInt(n, 10)
}

func scaled(n int64, unit float64, suffix string) string {
	s := strconv.FormatFloat(float64(n)/unit, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0") + suffix
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
