package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
)

// script drives a fakeSession. Count and click slices are consumed in call
// order; the last count repeats and missing clicks are NotFound.
type script struct {
	navErrs       []error
	counts        []int
	countErrAt    int // 1-based CountMatches call that fails
	clicks        []browser.ClickResult
	alwaysClick   bool
	onClick       func(n int)
	html          string
	snapshotErr   error
	snapshotPanic bool
}

type fakeSession struct {
	engine *fakeEngine
	script *script

	mu         sync.Mutex
	navigated  []string
	navCalls   int
	countCalls int
	clickCalls int
	snapshots  int
	closed     int
}

func (s *fakeSession) Navigate(ctx context.Context, url string, _ browser.WaitCondition, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return browser.NewNavigationError(url, err)
	}
	s.navigated = append(s.navigated, url)
	if s.script == nil && s.engine != nil {
		s.script = s.engine.scripts[url]
	}
	if s.script == nil {
		return browser.NewNavigationError(url, errors.New("no route"))
	}
	i := s.navCalls
	s.navCalls++
	if i < len(s.script.navErrs) && s.script.navErrs[i] != nil {
		return browser.NewNavigationError(url, s.script.navErrs[i])
	}
	return nil
}

func (s *fakeSession) CountMatches(_ context.Context, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.countCalls++
	if s.script.countErrAt == s.countCalls {
		return 0, errors.New("evaluate: execution context destroyed")
	}
	if len(s.script.counts) == 0 {
		return 0, nil
	}
	i := s.countCalls - 1
	if i >= len(s.script.counts) {
		i = len(s.script.counts) - 1
	}
	return s.script.counts[i], nil
}

func (s *fakeSession) ClickIfPresent(_ context.Context, _ []string) (browser.ClickResult, error) {
	s.mu.Lock()
	s.clickCalls++
	n := s.clickCalls
	sc := s.script
	s.mu.Unlock()

	if sc.onClick != nil {
		sc.onClick(n)
	}
	if sc.alwaysClick {
		return browser.Clicked, nil
	}
	if n > len(sc.clicks) {
		return browser.NotFound, nil
	}
	r := sc.clicks[n-1]
	if r == browser.ClickFailed {
		return r, errors.New("node is detached from document")
	}
	return r, nil
}

func (s *fakeSession) SnapshotHTML(_ context.Context) (string, error) {
	s.mu.Lock()
	s.snapshots++
	sc := s.script
	s.mu.Unlock()

	if sc.snapshotPanic {
		panic("snapshot exploded")
	}
	return sc.html, sc.snapshotErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// fakeEngine hands out sessions that pick their script by navigated URL.
type fakeEngine struct {
	scripts map[string]*script
	newErr  error

	mu       sync.Mutex
	sessions []*fakeSession
}

func (e *fakeEngine) NewSession(_ context.Context) (browser.Session, error) {
	if e.newErr != nil {
		return nil, e.newErr
	}
	s := &fakeSession{engine: e}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) allClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed != 1 {
			return false
		}
	}
	return true
}

// singleEngine always returns the same session.
type singleEngine struct {
	session *fakeSession
}

func (e *singleEngine) NewSession(_ context.Context) (browser.Session, error) {
	return e.session, nil
}

func (e *singleEngine) Close() error { return nil }

type fakeRenderer struct {
	html  string
	err   error
	calls int
	ready string
}

func (r *fakeRenderer) Render(_ context.Context, _ string, readySelector string, _ time.Duration) (string, error) {
	r.calls++
	r.ready = readySelector
	return r.html, r.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://shop.test/"
	cfg.SettleDelay = 0
	cfg.ScrollDelay = 0
	cfg.ClickDelay = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	cfg.MaxRetries = 1
	return cfg
}

type item struct {
	slug  string
	name  string
	price string
}

// listing renders product containers the default selectors understand.
func listing(items ...item) string {
	var b strings.Builder
	b.WriteString("<html><body><section>")
	for _, it := range items {
		fmt.Fprintf(&b, `<div class="sp-pr-info"><a href="/details/%s/"><h5>%s</h5></a><strong class="price">%s</strong></div>`,
			it.slug, it.name, it.price)
	}
	b.WriteString("</section></body></html>")
	return b.String()
}

func homepage(segments ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><nav>")
	for _, seg := range segments {
		fmt.Fprintf(&b, `<a href="/products/%s/">%s</a>`, seg, seg)
	}
	b.WriteString("</nav></body></html>")
	return b.String()
}
