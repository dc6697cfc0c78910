package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/retry"
)

// ControlKind narrows which elements a text scan considers.
type ControlKind string

const (
	KindInput  ControlKind = "input"
	KindButton ControlKind = "button"
	KindSelect ControlKind = "select"
	KindOption ControlKind = "option"
)

// ControlSpec describes a logical control by ordered selector candidates and
// the texts it may show (label, placeholder, aria-label or title).
type ControlSpec struct {
	Name       string
	Kind       ControlKind
	Candidates []string
	Texts      []string
}

// Strategy resolves a control on a surface.
type Strategy interface {
	Name() string
	TryLocate(ctx context.Context, s Surface, spec ControlSpec) (Element, error)
}

var errNotInteractable = errors.New("element not visible or disabled")

var scanSelectors = map[ControlKind]string{
	KindInput:  `input:not([type="hidden"]), textarea`,
	KindButton: `button, [role="button"], a, [data-testid]`,
	KindSelect: `select, [role="combobox"], [role="listbox"]`,
	KindOption: `[role="option"], li, [data-option-id], option, span, div`,
}

// SelectorStrategy tries each candidate selector with a short timeout.
type SelectorStrategy struct {
	Timeout time.Duration
}

func (SelectorStrategy) Name() string { return "selector" }

func (st SelectorStrategy) TryLocate(ctx context.Context, s Surface, spec ControlSpec) (Element, error) {
	for _, sel := range spec.Candidates {
		el, err := s.WaitFor(ctx, sel, st.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if usable(el) {
			return el, nil
		}
	}
	return nil, ErrControlNotFound
}

// TextScanStrategy enumerates every control of the expected kind and matches
// its visible text or descriptive attributes. Exact matches win over
// substring matches.
type TextScanStrategy struct{}

func (TextScanStrategy) Name() string { return "text-scan" }

func (TextScanStrategy) TryLocate(ctx context.Context, s Surface, spec ControlSpec) (Element, error) {
	if len(spec.Texts) == 0 {
		return nil, ErrControlNotFound
	}
	els, err := s.QueryAll(ctx, ScanSelector(spec.Kind))
	if err != nil {
		return nil, err
	}

	var partial Element
	for _, el := range els {
		exact, contains := matchControl(el, spec)
		if !exact && !contains {
			continue
		}
		if !usable(el) {
			continue
		}
		if exact {
			return el, nil
		}
		if partial == nil {
			partial = el
		}
	}
	if partial != nil {
		return partial, nil
	}
	return nil, ErrControlNotFound
}

func matchControl(el Element, spec ControlSpec) (exact, contains bool) {
	haystack := []string{el.Attr("placeholder"), el.Attr("aria-label"), el.Attr("title")}
	if spec.Kind != KindInput {
		haystack = append(haystack, el.Text())
	}
	for _, h := range haystack {
		h = normalizeText(h)
		if h == "" {
			continue
		}
		for _, want := range spec.Texts {
			want = normalizeText(want)
			if want == "" {
				continue
			}
			if h == want {
				return true, true
			}
			if strings.Contains(h, want) {
				contains = true
			}
		}
	}
	return false, contains
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ScanSelector is the selector a text scan enumerates for kind.
func ScanSelector(kind ControlKind) string {
	if sel, ok := scanSelectors[kind]; ok {
		return sel
	}
	return scanSelectors[KindButton]
}

func usable(el Element) bool {
	return el.Visible() && el.Enabled()
}

// Locator runs the strategy chain under a retry policy and performs guarded
// interactions on the result.
type Locator struct {
	Strategies    []Strategy
	Retry         retry.Policy
	ActionTimeout time.Duration
	Log           zerolog.Logger
}

func NewLocator(candidateTimeout time.Duration, logger zerolog.Logger) *Locator {
	return &Locator{
		Strategies: []Strategy{
			SelectorStrategy{Timeout: candidateTimeout},
			TextScanStrategy{},
		},
		Retry: retry.Policy{
			MaxAttempts: 2,
			Backoff:     retry.Constant(time.Second),
			Logger:      logger,
		},
		ActionTimeout: defaultActionTime,
		Log:           logger,
	}
}

// Locate returns the first usable element any strategy resolves.
func (l *Locator) Locate(ctx context.Context, s Surface, spec ControlSpec) (Element, error) {
	var found Element
	err := l.Retry.Do(ctx, "locate "+spec.Name, func(ctx context.Context, attempt int) error {
		for _, st := range l.Strategies {
			el, err := st.TryLocate(ctx, s, spec)
			if err == nil {
				l.Log.Debug().Str("control", spec.Name).Str("strategy", st.Name()).Int("attempt", attempt).Msg("control located")
				found = el
				return nil
			}
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
		}
		return ErrControlNotFound
	})
	if err != nil {
		if errors.Is(err, ErrControlNotFound) {
			return nil, fmt.Errorf("%s: %w", spec.Name, ErrControlNotFound)
		}
		return nil, err
	}
	return found, nil
}

// Fill locates an input and replaces its value.
func (l *Locator) Fill(ctx context.Context, s Surface, spec ControlSpec, value string) error {
	el, err := l.Locate(ctx, s, spec)
	if err != nil {
		return err
	}
	if !usable(el) {
		return fmt.Errorf("fill %s: %w: %w", spec.Name, ErrControlNotFound, errNotInteractable)
	}
	if err := el.Fill(value, l.ActionTimeout); err != nil {
		return fmt.Errorf("fill %s: %w", spec.Name, err)
	}
	return nil
}

// Click locates a control and clicks it. A failed click is followed by a
// single Enter key press before giving up.
func (l *Locator) Click(ctx context.Context, s Surface, spec ControlSpec) error {
	el, err := l.Locate(ctx, s, spec)
	if err != nil {
		return err
	}
	return l.click(ctx, s, spec, el)
}

func (l *Locator) click(ctx context.Context, s Surface, spec ControlSpec, el Element) error {
	var clickErr error
	if usable(el) {
		clickErr = el.Click(l.ActionTimeout)
		if clickErr == nil {
			return nil
		}
	} else {
		clickErr = errNotInteractable
	}

	l.Log.Debug().Err(clickErr).Str("control", spec.Name).Msg("click failed, pressing Enter")
	if err := s.Press(ctx, "Enter"); err != nil {
		return fmt.Errorf("click %s: %w: %w", spec.Name, ErrControlNotFound, errors.Join(clickErr, err))
	}
	return nil
}

// SelectOption picks label in a native select control.
func (l *Locator) SelectOption(ctx context.Context, s Surface, spec ControlSpec, label string) error {
	el, err := l.Locate(ctx, s, spec)
	if err != nil {
		return err
	}
	if !usable(el) {
		return fmt.Errorf("select %s: %w: %w", spec.Name, ErrControlNotFound, errNotInteractable)
	}
	if err := el.SelectOption(label, l.ActionTimeout); err != nil {
		return fmt.Errorf("select %s: %w", spec.Name, err)
	}
	return nil
}

// ChooseOption opens a custom dropdown and clicks the option matching option.
func (l *Locator) ChooseOption(ctx context.Context, s Surface, trigger, option ControlSpec) error {
	if err := l.Click(ctx, s, trigger); err != nil {
		return err
	}
	el, err := l.Locate(ctx, s, option)
	if err != nil {
		return err
	}
	return l.click(ctx, s, option, el)
}
