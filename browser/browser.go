// Package browser wraps headless browser engines behind a small page session
// contract: navigate, count matching elements, click a load-more control, and
// snapshot the rendered DOM.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ClickResult is the outcome of a ClickIfPresent attempt.
type ClickResult int

const (
	NotFound ClickResult = iota
	Clicked
	// ClickFailed covers detached or non-interactable controls. It is
	// recoverable and never fatal.
	ClickFailed
)

func (r ClickResult) String() string {
	switch r {
	case Clicked:
		return "clicked"
	case NotFound:
		return "not_found"
	case ClickFailed:
		return "click_failed"
	default:
		return fmt.Sprintf("click_result(%d)", int(r))
	}
}

// WaitCondition describes when a navigation counts as ready.
type WaitCondition struct {
	// NetworkIdle waits for the engine's network-quiescent signal.
	NetworkIdle bool
	// Selector, when set, waits until at least one element matches.
	Selector string
}

// Session owns one browser tab for the lifetime of one page scrape.
type Session interface {
	Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error
	CountMatches(ctx context.Context, selector string) (int, error)
	// ClickIfPresent clicks the first selector with a match. The error is
	// only set alongside ClickFailed.
	ClickIfPresent(ctx context.Context, selectors []string) (ClickResult, error)
	SnapshotHTML(ctx context.Context) (string, error)
	Close() error
}

// Engine owns a browser process and hands out isolated sessions.
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Options configures an engine.
type Options struct {
	Headless     bool
	UserAgent    string
	ScrollDelay  time.Duration
	ClickTimeout time.Duration
}

func (o Options) clickTimeout() time.Duration {
	if o.ClickTimeout <= 0 {
		return 10 * time.Second
	}
	return o.ClickTimeout
}

func countScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
}

func existsScript(selector string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
