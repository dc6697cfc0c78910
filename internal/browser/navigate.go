package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/retry"
)

// Readiness selects how a freshly navigated page is considered usable.
type Readiness int

const (
	// ReadySettled waits for network idle and DOM quiet, falling back to the
	// grace delay if that signal never arrives.
	ReadySettled Readiness = iota
	// ReadyGrace only waits the grace delay.
	ReadyGrace
)

// Target is one page the navigator can open.
type Target struct {
	Name      string
	URL       string
	Readiness Readiness
	// Zero values fall back to the navigator defaults.
	NavTimeout time.Duration
	Grace      time.Duration
}

// DefaultChallengeSelectors match captcha and verification containers.
var DefaultChallengeSelectors = []string{
	`iframe[src*="captcha"]`,
	`iframe[src*="challenge"]`,
	`iframe[title*="challenge"]`,
	`iframe[title*="Challenge"]`,
	`#captcha-verify-image`,
	`#captcha_container`,
	`.captcha_verify_container`,
	`div[class*="captcha"]`,
	`#challenge-form`,
	`#cf-challenge-running`,
}

var challengeTexts = []string{
	"verify you are human",
	"verifying you are human",
	"checking your browser",
	"drag the slider",
	"complete the security check",
	"are you a robot",
}

// Recorder persists diagnostic evidence of a page in its current state.
type Recorder interface {
	Capture(ctx context.Context, s Surface, reason string) (string, error)
}

// Navigator implements the navigate, wait, verify sequence every view shares.
type Navigator struct {
	NavTimeout    time.Duration
	SettleTimeout time.Duration
	Grace         time.Duration
	Selectors     []string
	Recorder      Recorder
	Retry         retry.Policy
	Log           zerolog.Logger
}

func NewNavigator(navTimeout, settleTimeout, grace time.Duration, rec Recorder, logger zerolog.Logger) *Navigator {
	return &Navigator{
		NavTimeout:    navTimeout,
		SettleTimeout: settleTimeout,
		Grace:         grace,
		Selectors:     DefaultChallengeSelectors,
		Recorder:      rec,
		Retry: retry.Policy{
			MaxAttempts: 2,
			Backoff:     retry.Constant(2 * time.Second),
			Logger:      logger,
		},
		Log: logger,
	}
}

// Open navigates s to t, waits for readiness and refuses pages that show an
// anti-bot challenge. A timed out navigation is retried once; a challenge is
// never retried.
func (n *Navigator) Open(ctx context.Context, s Surface, t Target) error {
	navTimeout := t.NavTimeout
	if navTimeout <= 0 {
		navTimeout = n.NavTimeout
	}
	log := n.Log.With().Str("target", t.Name).Logger()

	err := n.Retry.Do(ctx, "navigate "+t.Name, func(ctx context.Context, attempt int) error {
		log.Debug().Int("attempt", attempt).Str("url", t.URL).Msg("navigating")
		err := s.Goto(ctx, t.URL, navTimeout)
		if err == nil || errors.Is(err, ErrTimeout) {
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		return err
	}

	if err := n.awaitReady(ctx, s, t, log); err != nil {
		return err
	}

	if marker, ok := n.DetectChallenge(ctx, s); ok {
		log.Warn().Str("marker", marker).Msg("challenge page detected")
		if n.Recorder != nil {
			if path, err := n.Recorder.Capture(ctx, s, "challenge-"+t.Name); err != nil {
				log.Warn().Err(err).Msg("snapshot failed")
			} else {
				log.Info().Str("path", path).Msg("challenge snapshot saved")
			}
		}
		return retry.Permanent(fmt.Errorf("%s: %w (%s)", t.Name, ErrChallengeDetected, marker))
	}
	return nil
}

func (n *Navigator) awaitReady(ctx context.Context, s Surface, t Target, log zerolog.Logger) error {
	grace := t.Grace
	if grace <= 0 {
		grace = n.Grace
	}
	if t.Readiness == ReadySettled {
		err := s.WaitSettled(ctx, n.SettleTimeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().Err(err).Dur("grace", grace).Msg("settle signal missing, using grace delay")
	}
	return sleep(ctx, grace)
}

// DetectChallenge checks live challenge selectors first and then the page
// text. It returns the marker that matched.
func (n *Navigator) DetectChallenge(ctx context.Context, s Surface) (string, bool) {
	selectors := n.Selectors
	if selectors == nil {
		selectors = DefaultChallengeSelectors
	}
	for _, sel := range selectors {
		els, err := s.QueryAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if el.Visible() {
				return sel, true
			}
		}
	}

	html, err := s.Content(ctx)
	if err != nil {
		return "", false
	}
	return LooksLikeChallenge(html)
}

// LooksLikeChallenge scans rendered markup for challenge text.
func LooksLikeChallenge(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.ToLower(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	for _, marker := range challengeTexts {
		if strings.Contains(text, marker) {
			return marker, true
		}
	}
	return "", false
}
