// Package browsertest provides in-memory browser surfaces for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
)

// Page is a scripted browser.Session. Elements are registered per selector
// string; lookups match the selector text exactly.
type Page struct {
	mu sync.Mutex

	GotoErrs  []error
	SettleErr error
	HTML      string
	PressErr  error
	Heights   []int

	elements map[string][]*Element
	visited  []string
	pressed  []string
	scrolls  int
	closed   bool
	current  string
}

func NewPage() *Page {
	return &Page{elements: make(map[string][]*Element)}
}

// Add registers elements under selector, appending to existing ones.
func (p *Page) Add(selector string, els ...*Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = append(p.elements[selector], els...)
	return p
}

// Set replaces the elements registered under selector.
func (p *Page) Set(selector string, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = els
}

func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HTML = html
}

func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

func (p *Page) Pressed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pressed...)
}

func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Goto(ctx context.Context, url string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, url)
	if len(p.GotoErrs) > 0 {
		err := p.GotoErrs[0]
		p.GotoErrs = p.GotoErrs[1:]
		if err != nil {
			return err
		}
	}
	p.current = url
	return nil
}

func (p *Page) WaitSettled(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.SettleErr
}

func (p *Page) WaitFor(ctx context.Context, selector string, _ time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	els := p.elements[selector]
	p.mu.Unlock()
	for _, el := range els {
		if el.Visible() {
			return el, nil
		}
	}
	return nil, fmt.Errorf("wait for %q: %w", selector, browser.ErrTimeout)
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return toElements(p.elements[selector]), nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = append(p.pressed, key)
	return p.PressErr
}

// ScrollHeight pops the next scripted height; the last one repeats.
func (p *Page) ScrollHeight(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Heights) == 0 {
		return 0, nil
	}
	h := p.Heights[0]
	if len(p.Heights) > 1 {
		p.Heights = p.Heights[1:]
	}
	return h, nil
}

func (p *Page) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Element is a scripted browser.Element.
type Element struct {
	mu sync.Mutex

	Hidden   bool
	Disabled bool
	Label    string
	Attrs    map[string]string
	ClickErr error
	// OnClick runs after a successful click, e.g. to reveal more rows.
	OnClick func()

	children map[string][]*Element
	filled   []string
	selected []string
	clicks   int
}

// Text creates a visible element with the given inner text.
func Text(s string) *Element {
	return &Element{Label: s}
}

// WithAttr returns e with an attribute set.
func (e *Element) WithAttr(name, value string) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[name] = value
	return e
}

// With registers descendants under selector.
func (e *Element) With(selector string, els ...*Element) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.children == nil {
		e.children = make(map[string][]*Element)
	}
	e.children[selector] = append(e.children[selector], els...)
	return e
}

func (e *Element) Visible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Hidden
}

func (e *Element) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Disabled
}

func (e *Element) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Label
}

func (e *Element) Attr(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Attrs[name]
}

func (e *Element) QueryAll(selector string) ([]browser.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toElements(e.children[selector]), nil
}

func (e *Element) Fill(value string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Hidden || e.Disabled {
		return fmt.Errorf("fill: %w", browser.ErrTimeout)
	}
	e.filled = append(e.filled, value)
	return nil
}

func (e *Element) Click(_ time.Duration) error {
	e.mu.Lock()
	if e.ClickErr != nil {
		err := e.ClickErr
		e.mu.Unlock()
		return err
	}
	e.clicks++
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *Element) SelectOption(label string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = append(e.selected, label)
	return nil
}

func (e *Element) Filled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.filled...)
}

func (e *Element) Selected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.selected...)
}

func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func toElements(els []*Element) []browser.Element {
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out
}

// Opener hands out pages from a constructor and records how many were opened.
type Opener struct {
	mu     sync.Mutex
	New    func() *Page
	Err    error
	opened []*Page
}

func (o *Opener) Open(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	var p *Page
	if o.New != nil {
		p = o.New()
	} else {
		p = NewPage()
	}
	o.opened = append(o.opened, p)
	return p, nil
}

func (o *Opener) Opened() []*Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Page(nil), o.opened...)
}
