package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

const (
	defaultNavTimeout = 120 * time.Second
	defaultActionTime = 10 * time.Second
	defaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
)

// LaunchOptions configures the shared chromium instance.
type LaunchOptions struct {
	Headless   bool
	NavTimeout time.Duration
	UserAgent  string
	Locale     string
}

// Launcher owns playwright lifecycle and opens one isolated context per session.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    LaunchOptions
	log     zerolog.Logger
}

func NewLauncher(ctx context.Context, opts LaunchOptions, logger zerolog.Logger) (*Launcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = defaultNavTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Locale == "" {
		opts.Locale = "en-US"
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	logger.Info().Bool("headless", opts.Headless).Msg("chromium launched")
	return &Launcher{pw: pw, browser: browser, opts: opts, log: logger}, nil
}

// Open creates a fresh browser context and page. It satisfies Opener.
func (l *Launcher) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
		UserAgent:         playwright.String(l.opts.UserAgent),
		Locale:            playwright.String(l.opts.Locale),
		Viewport:          &playwright.Size{Width: 1440, Height: 900},
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultActionTime.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(l.opts.NavTimeout.Milliseconds()))
	return &pageSession{context: bctx, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type pageSession struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (s *pageSession) Close() error {
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.context != nil {
		return s.context.Close()
	}
	return nil
}

func (s *pageSession) URL() string {
	return s.page.URL()
}

func (s *pageSession) Goto(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(ctx, timeout),
	})
	return wrap(err)
}

// WaitSettled waits for network idle and then for a short window without DOM
// mutations.
func (s *pageSession) WaitSettled(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: millis(ctx, timeout),
	}); err != nil {
		return wrap(err)
	}

	script := `
		() => {
			return new Promise((resolve) => {
				let timeoutId;
				const observer = new MutationObserver(() => {
					clearTimeout(timeoutId);
					timeoutId = setTimeout(() => {
						observer.disconnect();
						resolve();
					}, 300);
				});
				observer.observe(document.body, {
					childList: true,
					subtree: true,
					attributes: true,
					attributeOldValue: false
				});
				timeoutId = setTimeout(() => {
					observer.disconnect();
					resolve();
				}, 300);
			});
		}
	`
	_, err := s.page.Evaluate(script)
	return wrap(err)
}

func (s *pageSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	first := s.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(ctx, timeout),
	}); err != nil {
		return nil, wrap(err)
	}
	return &element{loc: first}, nil
}

func (s *pageSession) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return all(s.page.Locator(selector))
}

func (s *pageSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := s.page.Content()
	return html, wrap(err)
}

func (s *pageSession) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	png, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	return png, wrap(err)
}

func (s *pageSession) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(s.page.Keyboard().Press(key))
}

func (s *pageSession) ScrollHeight(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	val, err := s.page.Evaluate(`() => document.body ? document.body.scrollHeight : 0`)
	if err != nil {
		return 0, wrap(err)
	}
	switch v := val.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	}
	return 0, nil
}

func (s *pageSession) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return wrap(err)
}

// element adapts a single-match playwright locator. Locators resolve lazily,
// so every getter re-reads the live node.
type element struct {
	loc playwright.Locator
}

func (e *element) Visible() bool {
	ok, err := e.loc.IsVisible()
	return err == nil && ok
}

func (e *element) Enabled() bool {
	ok, err := e.loc.IsEnabled(playwright.LocatorIsEnabledOptions{
		Timeout: playwright.Float(1000),
	})
	return err == nil && ok
}

func (e *element) Text() string {
	text, err := e.loc.InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(2000),
	})
	if err != nil {
		text, _ = e.loc.TextContent(playwright.LocatorTextContentOptions{
			Timeout: playwright.Float(1000),
		})
	}
	return text
}

func (e *element) Attr(name string) string {
	val, err := e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(1000),
	})
	if err != nil {
		return ""
	}
	return val
}

func (e *element) QueryAll(selector string) ([]Element, error) {
	return all(e.loc.Locator(selector))
}

func (e *element) Fill(value string, timeout time.Duration) error {
	return wrap(e.loc.Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (e *element) Click(timeout time.Duration) error {
	// Scrolling is best effort; the click itself reports visibility problems.
	_ = e.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(1000),
	})
	return wrap(e.loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (e *element) SelectOption(label string, timeout time.Duration) error {
	_, err := e.loc.SelectOption(playwright.SelectOptionValues{
		Labels: &[]string{label},
	}, playwright.LocatorSelectOptionOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return wrap(err)
}

func all(loc playwright.Locator) ([]Element, error) {
	locs, err := loc.All()
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]Element, 0, len(locs))
	for _, l := range locs {
		out = append(out, &element{loc: l})
	}
	return out, nil
}

// millis bounds timeout by the context deadline, in playwright's unit.
func millis(ctx context.Context, timeout time.Duration) *float64 {
	if timeout <= 0 {
		timeout = defaultActionTime
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return playwright.Float(float64(timeout.Milliseconds()))
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("playwright: %w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("playwright: %w", err)
}
