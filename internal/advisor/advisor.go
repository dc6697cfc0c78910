// Package advisor turns scraped insight data, or the lack of it, into
// creative advice through a completion model.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/insight"
	"github.com/polzovatel/creative-insights-bot/internal/llm"
)

const defaultLanguage = "Ukrainian"

// ErrEmptyCompletion is returned when the model answers with whitespace only.
var ErrEmptyCompletion = errors.New("empty completion")

type Advisor struct {
	LLM      llm.Client
	Language string
	Log      zerolog.Logger
}

func New(client llm.Client, language string, logger zerolog.Logger) *Advisor {
	if strings.TrimSpace(language) == "" {
		language = defaultLanguage
	}
	return &Advisor{LLM: client, Language: language, Log: logger}
}

func (a *Advisor) system() string {
	return fmt.Sprintf("You are an experienced marketer and TikTok creator. Answer in %s.", a.Language)
}

// FallbackIdea invents a video idea for a topic the dashboard has no data on.
func (a *Advisor) FallbackIdea(ctx context.Context, topic string) (string, error) {
	return a.complete(ctx, "fallback idea", FallbackPrompt(topic, a.Language))
}

// Analyze explains the chosen records in depth.
func (a *Advisor) Analyze(ctx context.Context, topic string, records []insight.InsightRecord) (string, error) {
	if len(records) == 0 {
		return "", errors.New("nothing to analyze")
	}
	return a.complete(ctx, "analysis", AnalysisPrompt(topic, records, a.Language))
}

// Chat forwards a free-form prompt.
func (a *Advisor) Chat(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("empty prompt")
	}
	return a.complete(ctx, "chat", prompt)
}

func (a *Advisor) complete(ctx context.Context, kind, prompt string) (string, error) {
	resp, err := a.LLM.Generate(ctx, llm.User(a.system(), prompt))
	if err != nil {
		a.Log.Warn().Err(err).Str("kind", kind).Str("model", a.LLM.Name()).Msg("completion failed")
		return "", fmt.Errorf("%s: %w", kind, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", kind, ErrEmptyCompletion)
	}
	a.Log.Debug().Str("kind", kind).Int("chars", len(text)).Msg("completion received")
	return text, nil
}

// FallbackPrompt asks for a one-minute video idea when no data exists.
func FallbackPrompt(topic, language string) string {
	var b strings.Builder
	b.WriteString("You are an experienced marketer and scriptwriter for TikTok Ads.\n\n")
	fmt.Fprintf(&b, "TikTok Creative Center has no data for the query %q.\n\n", topic)
	b.WriteString("Come up with a video idea on this topic yourself:\n\n")
	fmt.Fprintf(&b, "1. Topic: %q\n\n", topic)
	b.WriteString("2. Script for a 1-minute video\n")
	b.WriteString("   - A hook in the first 3 seconds\n")
	b.WriteString("   - The main idea of how the plot develops\n")
	b.WriteString("   - A call to action\n\n")
	b.WriteString("3. Why this topic can work (strengths and possible risks)\n\n")
	b.WriteString("4. 5-7 hashtags relevant to the topic\n\n")
	fmt.Fprintf(&b, "Answer in %s.", language)
	return b.String()
}

// AnalysisPrompt asks for a per-keyword breakdown of metrics plus a script.
func AnalysisPrompt(topic string, records []insight.InsightRecord, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an experienced marketing analyst and scriptwriter for TikTok Ads. Answer in %s.\n\n", language)
	fmt.Fprintf(&b, "The client wants analytics for the word %q. Found %d result(s).\n\n", topic, len(records))
	b.WriteString("Give a detailed, easy to follow breakdown for every result:\n\n")
	b.WriteString("1. Keyword\n\n")
	b.WriteString("2. Metrics\n")
	b.WriteString("   - Popularity: is it high or low for the niche\n")
	b.WriteString("   - Popularity change: what the percentage means\n")
	b.WriteString("   - CTR: what it says about interest in the ad\n")
	b.WriteString("   - CVR: what the percentage shows and why it matters\n")
	b.WriteString("   - CPA: is the cost per action cheap or expensive\n")
	b.WriteString("   - Content Gap Score: what a high or low score means\n")
	b.WriteString("   - Strengths and weaknesses for an advertiser\n\n")
	b.WriteString("3. Script for a 1-minute video: hook in the first 3 seconds, plot, call to action\n\n")
	b.WriteString("4. 5-7 hashtags and how they help promotion\n\n")
	fmt.Fprintf(&b, "Use plain %s without bureaucratic wording.\n\nResults:\n", language)
	for i, r := range records {
		fmt.Fprintf(&b, "\n#%d\nKeyword: %s\nRank: %d\nPopularity: %s\nPopularity change: %s\nCTR: %s\nCVR: %s\nCPA: %s\nContent Gap Score: %s\n",
			i+1, r.Label, r.Rank, r.Popularity, r.PopularityChange, r.CTR, r.CVR, r.CPA,
			strconv.FormatFloat(r.ContentGapScore, 'f', 2, 64))
	}
	return b.String()
}
