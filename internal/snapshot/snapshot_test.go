package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/creative-insights-bot/internal/browser/browsertest"
)

func TestCaptureWritesMarkupScreenshotAndSummary(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, zerolog.Nop())
	sink.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	page := browsertest.NewPage()
	page.SetHTML(`<html><head><title>Verify</title><script>ignored()</script></head>
		<body><div>Drag the   slider</div></body></html>`)
	require.NoError(t, page.Goto(context.Background(), "https://example.test/hashtags", time.Second))

	ctx := WithRunID(context.Background(), "0f1e2d3c-aaaa-bbbb-cccc-000000000000")
	path, err := sink.Capture(ctx, page, "challenge keywords")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240501T120000_challenge_keywords_0f1e2d3c.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var sum Summary
	require.NoError(t, json.Unmarshal(raw, &sum))
	assert.Equal(t, "Verify", sum.Title)
	assert.Equal(t, "Drag the slider", sum.Visible)
	assert.Equal(t, "https://example.test/hashtags", sum.URL)

	html, err := os.ReadFile(filepath.Join(dir, sum.Markup))
	require.NoError(t, err)
	assert.Contains(t, string(html), "Drag the")
	_, err = os.Stat(filepath.Join(dir, sum.Screenshot))
	assert.NoError(t, err)
}

func TestCaptureGeneratesRunIDWhenMissing(t *testing.T) {
	sink := NewSink(t.TempDir(), zerolog.Nop())

	path, err := sink.Capture(context.Background(), browsertest.NewPage(), "no-data")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var sum Summary
	require.NoError(t, json.Unmarshal(raw, &sum))
	assert.Len(t, sum.RunID, 36)
}

func TestDescribeCutsOnRuneBoundary(t *testing.T) {
	html := "<html><head><title>Тренды</title></head><body><p>x" + strings.Repeat("ж", excerptLimit) + "</p></body></html>"

	title, text := describe(html)

	assert.Equal(t, "Тренды", title)
	assert.True(t, utf8.ValidString(text))
	assert.Equal(t, excerptLimit-1, len(text))
}
