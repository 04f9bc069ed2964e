package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromedpEngine drives one Chrome process through the DevTools protocol.
type ChromedpEngine struct {
	opts          Options
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpEngine launches Chrome. The process lives until Close, so a
// cancelled run can still close its tabs cleanly.
func NewChromedpEngine(opts Options) (*ChromedpEngine, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(debugf))

	// The first Run on the browser context starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &ChromedpEngine{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewSession opens a new tab in the shared browser.
func (e *ChromedpEngine) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromedpSession{ctx: tabCtx, cancel: cancel, opts: e.opts}, nil
}

// Close shuts the browser down.
func (e *ChromedpEngine) Close() error {
	err := chromedp.Cancel(e.browserCtx)
	e.browserCancel()
	e.allocCancel()
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

type chromedpSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	closeOnce sync.Once
}

// scoped derives an action context from the tab that also ends when ctx ends.
func (s *chromedpSession) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromedpSession) isClosed() bool {
	return s.ctx.Err() != nil
}

func (s *chromedpSession) Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error {
	if s.isClosed() {
		return NewNavigationError(url, ErrSessionClosed)
	}
	runCtx, cancel := s.scoped(ctx, timeout)
	defer cancel()

	watcher := newIdleWatcher()
	actions := []chromedp.Action{}
	if wait.NetworkIdle {
		chromedp.ListenTarget(runCtx, watcher.handle)
		actions = append(actions,
			page.SetLifecycleEventsEnabled(true),
			chromedp.ActionFunc(func(ctx context.Context) error {
				tree, err := page.GetFrameTree().Do(ctx)
				if err != nil {
					return fmt.Errorf("frame tree: %w", err)
				}
				watcher.setFrame(tree.Frame.ID)
				return nil
			}),
		)
	}
	actions = append(actions, chromedp.Navigate(url))
	if wait.Selector != "" {
		actions = append(actions, chromedp.WaitReady(wait.Selector, chromedp.ByQuery))
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return NewNavigationError(url, err)
	}

	if wait.NetworkIdle {
		select {
		case <-watcher.idle():
		case <-runCtx.Done():
			return NewNavigationError(url, fmt.Errorf("waiting for network idle: %w", runCtx.Err()))
		}
	}
	return nil
}

func (s *chromedpSession) CountMatches(ctx context.Context, selector string) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}
	runCtx, cancel := s.scoped(ctx, s.opts.clickTimeout())
	defer cancel()

	var n int
	if err := chromedp.Run(runCtx, chromedp.Evaluate(countScript(selector), &n)); err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return n, nil
}

func (s *chromedpSession) ClickIfPresent(ctx context.Context, selectors []string) (ClickResult, error) {
	if s.isClosed() {
		return ClickFailed, ErrSessionClosed
	}
	runCtx, cancel := s.scoped(ctx, s.opts.clickTimeout())
	defer cancel()

	for _, sel := range selectors {
		var exists bool
		if err := chromedp.Run(runCtx, chromedp.Evaluate(existsScript(sel), &exists)); err != nil {
			return ClickFailed, fmt.Errorf("query %q: %w", sel, err)
		}
		if !exists {
			continue
		}
		err := chromedp.Run(runCtx,
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Sleep(s.opts.ScrollDelay),
			chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		)
		if err != nil {
			return ClickFailed, fmt.Errorf("click %q: %w", sel, err)
		}
		return Clicked, nil
	}
	return NotFound, nil
}

func (s *chromedpSession) SnapshotHTML(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrSessionClosed
	}
	runCtx, cancel := s.scoped(ctx, s.opts.clickTimeout())
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot html: %w", err)
	}
	return html, nil
}

func (s *chromedpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = chromedp.Cancel(s.ctx)
		s.cancel()
	})
	if err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

// idleWatcher waits for the main frame's networkIdle lifecycle event of the
// most recent document load.
type idleWatcher struct {
	mu     sync.Mutex
	frame  cdp.FrameID
	loader cdp.LoaderID
	fired  bool
	done   chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{done: make(chan struct{})}
}

func (w *idleWatcher) setFrame(id cdp.FrameID) {
	w.mu.Lock()
	w.frame = id
	w.mu.Unlock()
}

func (w *idleWatcher) handle(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.frame != "" && e.FrameID != w.frame {
		return
	}
	switch e.Name {
	case "init":
		if e.LoaderID != w.loader {
			w.loader = e.LoaderID
			w.fired = false
			w.done = make(chan struct{})
		}
	case "networkIdle":
		if e.LoaderID == w.loader && !w.fired {
			w.fired = true
			close(w.done)
		}
	}
}

func (w *idleWatcher) idle() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), slog.String("engine", "chromedp"))
}
