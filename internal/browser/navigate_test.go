package browser_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
	"github.com/polzovatel/creative-insights-bot/internal/browser/browsertest"
	"github.com/polzovatel/creative-insights-bot/internal/retry"
)

type recorder struct {
	reasons []string
}

func (r *recorder) Capture(_ context.Context, _ browser.Surface, reason string) (string, error) {
	r.reasons = append(r.reasons, reason)
	return "failed_runs/" + reason, nil
}

func newNavigator(rec browser.Recorder) *browser.Navigator {
	nav := browser.NewNavigator(time.Second, time.Second, 10*time.Millisecond, rec, zerolog.Nop())
	nav.Retry.Backoff = nil
	return nav
}

var dashboard = browser.Target{Name: "keywords", URL: "https://example.test/keywords"}

func TestNavigatorOpensPage(t *testing.T) {
	page := browsertest.NewPage()
	page.SetHTML("<html><body><table></table></body></html>")

	err := newNavigator(nil).Open(context.Background(), page, dashboard)

	require.NoError(t, err)
	assert.Equal(t, []string{dashboard.URL}, page.Visited())
}

func TestNavigatorRetriesTimeoutOnce(t *testing.T) {
	page := browsertest.NewPage()
	page.GotoErrs = []error{fmt.Errorf("goto: %w", browser.ErrTimeout), nil}

	err := newNavigator(nil).Open(context.Background(), page, dashboard)

	require.NoError(t, err)
	assert.Len(t, page.Visited(), 2)
}

func TestNavigatorGivesUpAfterSecondTimeout(t *testing.T) {
	page := browsertest.NewPage()
	page.GotoErrs = []error{browser.ErrTimeout, browser.ErrTimeout, nil}

	err := newNavigator(nil).Open(context.Background(), page, dashboard)

	assert.ErrorIs(t, err, browser.ErrTimeout)
	assert.Len(t, page.Visited(), 2)
}

func TestNavigatorDoesNotRetryOtherFailures(t *testing.T) {
	page := browsertest.NewPage()
	page.GotoErrs = []error{errors.New("net::ERR_NAME_NOT_RESOLVED")}

	err := newNavigator(nil).Open(context.Background(), page, dashboard)

	require.Error(t, err)
	assert.Len(t, page.Visited(), 1)
}

func TestNavigatorFallsBackToGraceDelay(t *testing.T) {
	page := browsertest.NewPage()
	page.SettleErr = browser.ErrTimeout
	nav := newNavigator(nil)
	nav.Grace = 30 * time.Millisecond

	start := time.Now()
	err := nav.Open(context.Background(), page, dashboard)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestNavigatorGraceHonoursContext(t *testing.T) {
	page := browsertest.NewPage()
	nav := newNavigator(nil)
	nav.Grace = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := nav.Open(ctx, page, browser.Target{Name: "music", URL: "https://example.test/music", Readiness: browser.ReadyGrace})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNavigatorDetectsChallengeSelector(t *testing.T) {
	page := browsertest.NewPage()
	page.Add(`#captcha_container`, browsertest.Text(""))
	rec := &recorder{}

	err := newNavigator(rec).Open(context.Background(), page, dashboard)

	assert.ErrorIs(t, err, browser.ErrChallengeDetected)
	assert.True(t, retry.IsPermanent(err))
	assert.Equal(t, []string{"challenge-keywords"}, rec.reasons)
}

func TestNavigatorDetectsChallengeText(t *testing.T) {
	page := browsertest.NewPage()
	page.SetHTML(`<html><body><h1>Please verify   you are
		human</h1></body></html>`)
	rec := &recorder{}

	err := newNavigator(rec).Open(context.Background(), page, dashboard)

	assert.ErrorIs(t, err, browser.ErrChallengeDetected)
	assert.Len(t, rec.reasons, 1)
}

func TestNavigatorIgnoresHiddenChallengeContainer(t *testing.T) {
	page := browsertest.NewPage()
	page.Add(`div[class*="captcha"]`, &browsertest.Element{Hidden: true})

	err := newNavigator(nil).Open(context.Background(), page, dashboard)

	assert.NoError(t, err)
}

func TestLooksLikeChallengeSkipsScripts(t *testing.T) {
	_, ok := browser.LooksLikeChallenge(`<html><body><script>var msg = "verify you are human";</script><p>Top keywords</p></body></html>`)
	assert.False(t, ok)

	marker, ok := browser.LooksLikeChallenge(`<body><div>Checking your browser before accessing</div></body>`)
	assert.True(t, ok)
	assert.Equal(t, "checking your browser", marker)
}
