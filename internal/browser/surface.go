package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCapacityExceeded is returned by Pool.Acquire when every session slot is taken.
	ErrCapacityExceeded = errors.New("browser session capacity exceeded")
	// ErrChallengeDetected means the page shows an anti-bot challenge.
	ErrChallengeDetected = errors.New("anti-bot challenge detected")
	// ErrControlNotFound means no strategy resolved a usable control.
	ErrControlNotFound = errors.New("control not found")
	// ErrTimeout marks any browser wait that exceeded its bound.
	ErrTimeout = errors.New("browser operation timed out")
)

// Surface is the part of a browser page the scraping pipeline drives. Every
// blocking call takes an explicit upper bound.
type Surface interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	WaitSettled(ctx context.Context, timeout time.Duration) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Press(ctx context.Context, key string) error
	ScrollHeight(ctx context.Context) (int, error)
	ScrollToBottom(ctx context.Context) error
	URL() string
}

// Element is a handle to one matched node. State getters are evaluated live on
// every call, so a handle may report different values over time.
type Element interface {
	Visible() bool
	Enabled() bool
	Text() string
	Attr(name string) string
	QueryAll(selector string) ([]Element, error)
	Fill(value string, timeout time.Duration) error
	Click(timeout time.Duration) error
	SelectOption(label string, timeout time.Duration) error
}

// Session is one automated browser page owned by a pool lease.
type Session interface {
	Surface
	Close() error
}

// Opener creates sessions for the pool.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleep is the context-aware pause used between page interactions.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}
