package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodEngine drives Chrome through go-rod.
type RodEngine struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewRodEngine launches a browser and connects to it.
func NewRodEngine(opts Options) (*RodEngine, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	return &RodEngine{opts: opts, launcher: l, browser: b}, nil
}

// NewSession opens a blank page.
func (e *RodEngine) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := e.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if e.opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: e.opts.UserAgent}); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	return &rodSession{page: p, opts: e.opts}, nil
}

// Close shuts the browser down and removes its profile directory.
func (e *RodEngine) Close() error {
	err := e.browser.Close()
	e.launcher.Kill()
	e.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type rodSession struct {
	page *rod.Page
	opts Options

	mu     sync.Mutex
	closed bool
}

func (s *rodSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *rodSession) Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error {
	if s.isClosed() {
		return NewNavigationError(url, ErrSessionClosed)
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := s.page.Context(runCtx)

	var waitIdle func()
	if wait.NetworkIdle {
		waitIdle = p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	}
	if err := p.Navigate(url); err != nil {
		return NewNavigationError(url, err)
	}
	if waitIdle != nil {
		waitIdle()
		if err := runCtx.Err(); err != nil {
			return NewNavigationError(url, fmt.Errorf("waiting for network idle: %w", err))
		}
	}
	if wait.Selector != "" {
		if _, err := p.Element(wait.Selector); err != nil {
			return NewNavigationError(url, fmt.Errorf("waiting for %q: %w", wait.Selector, err))
		}
	}
	return nil
}

func (s *rodSession) CountMatches(ctx context.Context, selector string) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}
	runCtx, cancel := context.WithTimeout(ctx, s.opts.clickTimeout())
	defer cancel()

	res, err := s.page.Context(runCtx).Eval(`(sel) => document.querySelectorAll(sel).length`, selector)
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

func (s *rodSession) ClickIfPresent(ctx context.Context, selectors []string) (ClickResult, error) {
	if s.isClosed() {
		return ClickFailed, ErrSessionClosed
	}
	runCtx, cancel := context.WithTimeout(ctx, s.opts.clickTimeout())
	defer cancel()
	p := s.page.Context(runCtx)

	for _, sel := range selectors {
		has, el, err := p.Has(sel)
		if err != nil {
			return ClickFailed, fmt.Errorf("query %q: %w", sel, err)
		}
		if !has {
			continue
		}
		if err := el.ScrollIntoView(); err != nil {
			return ClickFailed, fmt.Errorf("scroll %q: %w", sel, err)
		}
		if err := Sleep(runCtx, s.opts.ScrollDelay); err != nil {
			return ClickFailed, err
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return ClickFailed, fmt.Errorf("click %q: %w", sel, err)
		}
		return Clicked, nil
	}
	return NotFound, nil
}

func (s *rodSession) SnapshotHTML(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrSessionClosed
	}
	runCtx, cancel := context.WithTimeout(ctx, s.opts.clickTimeout())
	defer cancel()

	html, err := s.page.Context(runCtx).HTML()
	if err != nil {
		return "", fmt.Errorf("snapshot html: %w", err)
	}
	return html, nil
}

func (s *rodSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.page.Close(); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}
