// Package snapshot writes diagnostic captures of a page that could not be
// scraped: rendered markup, a screenshot and a small JSON summary.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
)

const excerptLimit = 1200

// Summary is a compact view of the captured page.
type Summary struct {
	RunID      string    `json:"run_id"`
	Reason     string    `json:"reason"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Visible    string    `json:"visible"`
	CapturedAt time.Time `json:"captured_at"`
	Markup     string    `json:"markup_file"`
	Screenshot string    `json:"screenshot_file,omitempty"`
}

type runIDKey struct{}

// WithRunID tags ctx so captures can be correlated with pipeline logs.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the id stored by WithRunID, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Sink stores captures under Dir. It satisfies browser.Recorder.
type Sink struct {
	Dir string
	Log zerolog.Logger
	now func() time.Time
}

func NewSink(dir string, logger zerolog.Logger) *Sink {
	return &Sink{Dir: dir, Log: logger, now: time.Now}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Capture saves the current state of s and returns the summary file path.
// A failed screenshot does not abort the capture.
func (k *Sink) Capture(ctx context.Context, s browser.Surface, reason string) (string, error) {
	if err := os.MkdirAll(k.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	html, err := s.Content(ctx)
	if err != nil {
		return "", fmt.Errorf("read markup: %w", err)
	}

	runID := RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	now := k.now()
	base := fmt.Sprintf("%s_%s_%s", now.UTC().Format("20060102T150405"), unsafeName.ReplaceAllString(reason, "_"), shortID(runID))

	sum := Summary{
		RunID:      runID,
		Reason:     reason,
		URL:        s.URL(),
		CapturedAt: now,
		Markup:     base + ".html",
	}
	sum.Title, sum.Visible = describe(html)

	if err := os.WriteFile(filepath.Join(k.Dir, sum.Markup), []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("write markup: %w", err)
	}

	if png, err := s.Screenshot(ctx); err != nil {
		k.Log.Warn().Err(err).Str("run_id", runID).Msg("screenshot failed")
	} else {
		sum.Screenshot = base + ".png"
		if err := os.WriteFile(filepath.Join(k.Dir, sum.Screenshot), png, 0o644); err != nil {
			return "", fmt.Errorf("write screenshot: %w", err)
		}
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(k.Dir, base+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	k.Log.Info().Str("run_id", runID).Str("reason", reason).Str("path", path).Msg("snapshot saved")
	return path, nil
}

// describe extracts the title and a whitespace-collapsed excerpt of the body.
func describe(html string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, noscript").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > excerptLimit {
		n := excerptLimit
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	return title, text
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
