package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
)

// Kind classifies every failure that leaves the pipeline.
type Kind string

const (
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindChallengeDetected Kind = "challenge_detected"
	KindControlNotFound   Kind = "control_not_found"
	KindNoDataFound       Kind = "no_data_found"
	KindNetworkTimeout    Kind = "network_timeout"
	KindMalformedInput    Kind = "malformed_input"
	KindInternal          Kind = "internal"
)

// ErrNoData is returned when every extraction strategy produced zero rows.
var ErrNoData = errors.New("no rows extracted")

// Error is the only error type the pipeline returns.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

// wrapErr converts a low-level failure into an *Error. Existing *Error values
// pass through unchanged.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, browser.ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, browser.ErrChallengeDetected):
		return KindChallengeDetected
	case errors.Is(err, browser.ErrControlNotFound):
		return KindControlNotFound
	case errors.Is(err, ErrNoData):
		return KindNoDataFound
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindNetworkTimeout
	default:
		return KindInternal
	}
}
