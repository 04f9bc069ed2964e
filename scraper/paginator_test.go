package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/extract"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

var hair = models.Category{Name: "HAIR", ID: "HAIR-456", URL: "https://shop.test/products/HAIR-456/"}

func newTestDriver(t *testing.T, maxClicks int) (*Driver, *Metrics) {
	t.Helper()
	cfg := testConfig()
	if maxClicks > 0 {
		cfg.MaxClicks = maxClicks
	}
	e, err := extract.New(cfg.Selectors, 64)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	m := NewMetrics()
	return NewDriver(cfg, e, m), m
}

func TestDriverOutcomes(t *testing.T) {
	page := listing(item{"rose-oil/1", "Rose Oil", "Rs. 199"}, item{"aloe-gel/2", "Aloe Gel", "Rs. 99"})

	tests := []struct {
		name       string
		maxClicks  int
		script     *script
		outcome    models.PaginationOutcome
		clicks     int
		loaded     int
		products   int
		clickCalls int
	}{
		{
			name:       "stalls after growth",
			script:     &script{counts: []int{5, 12, 12}, alwaysClick: true, html: page},
			outcome:    models.OutcomeSettled,
			clicks:     2,
			loaded:     12,
			products:   2,
			clickCalls: 2,
		},
		{
			name:       "slow batch ends as settled",
			script:     &script{counts: []int{10, 25, 25, 40}, alwaysClick: true, html: page},
			outcome:    models.OutcomeSettled,
			clicks:     2,
			loaded:     25,
			products:   2,
			clickCalls: 2,
		},
		{
			name:       "no control on first page",
			script:     &script{counts: []int{7}, html: page},
			outcome:    models.OutcomeSettled,
			clicks:     0,
			loaded:     7,
			products:   2,
			clickCalls: 1,
		},
		{
			name:       "control detached",
			script:     &script{counts: []int{5, 8}, clicks: []browser.ClickResult{browser.Clicked, browser.ClickFailed}, html: page},
			outcome:    models.OutcomeSettled,
			clicks:     1,
			loaded:     8,
			products:   2,
			clickCalls: 2,
		},
		{
			name:       "count fails after click",
			script:     &script{counts: []int{5}, countErrAt: 2, alwaysClick: true, html: page},
			outcome:    models.OutcomeSettled,
			clicks:     1,
			loaded:     5,
			products:   2,
			clickCalls: 1,
		},
		{
			name:       "click limit reached",
			maxClicks:  3,
			script:     &script{counts: []int{1, 2, 3, 4}, alwaysClick: true, html: page},
			outcome:    models.OutcomeExhausted,
			clicks:     3,
			loaded:     4,
			products:   2,
			clickCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, m := newTestDriver(t, tt.maxClicks)
			sess := &fakeSession{script: tt.script}

			res := d.Run(context.Background(), sess, hair)
			if res.Outcome != tt.outcome {
				t.Fatalf("outcome=%s, want %s (err=%v)", res.Outcome, tt.outcome, res.Err)
			}
			if res.Clicks != tt.clicks {
				t.Fatalf("clicks=%d, want %d", res.Clicks, tt.clicks)
			}
			if res.Loaded != tt.loaded {
				t.Fatalf("loaded=%d, want %d", res.Loaded, tt.loaded)
			}
			if len(res.Products) != tt.products {
				t.Fatalf("products=%d, want %d", len(res.Products), tt.products)
			}
			if sess.clickCalls != tt.clickCalls {
				t.Fatalf("click calls=%d, want %d", sess.clickCalls, tt.clickCalls)
			}
			if sess.snapshots != 1 {
				t.Fatalf("snapshots=%d, want exactly 1", sess.snapshots)
			}
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if got := testutil.ToFloat64(m.ClicksTotal); int(got) != tt.clicks {
				t.Fatalf("clicks metric=%v, want %d", got, tt.clicks)
			}
			if got := testutil.ToFloat64(m.CategoriesTotal.WithLabelValues(string(tt.outcome))); got != 1 {
				t.Fatalf("categories metric=%v, want 1", got)
			}
		})
	}
}

func TestDriverProductsCarryCategory(t *testing.T) {
	d, _ := newTestDriver(t, 0)
	sess := &fakeSession{script: &script{
		counts: []int{1},
		html:   listing(item{"rose-oil/1", "Rose Oil", "Rs. 199"}),
	}}

	res := d.Run(context.Background(), sess, hair)
	if len(res.Products) != 1 {
		t.Fatalf("products=%d, want 1", len(res.Products))
	}
	p := res.Products[0]
	if p.Category != "HAIR" || p.URL != "https://shop.test/details/rose-oil/1/" || p.Price != "Rs. 199" {
		t.Fatalf("unexpected product: %+v", p)
	}
}

func TestDriverNavigationFailure(t *testing.T) {
	d, m := newTestDriver(t, 0)
	sess := &fakeSession{script: &script{
		navErrs: []error{context.DeadlineExceeded, context.DeadlineExceeded},
		counts:  []int{5},
	}}

	res := d.Run(context.Background(), sess, hair)
	if !res.Failed() {
		t.Fatalf("outcome=%s, want failed", res.Outcome)
	}
	var nav *browser.NavigationError
	if !errors.As(res.Err, &nav) {
		t.Fatalf("err=%v, want NavigationError", res.Err)
	}
	if len(res.Products) != 0 {
		t.Fatalf("failed category must have no products")
	}
	if sess.navCalls != 2 {
		t.Fatalf("navigate calls=%d, want 2 (one retry)", sess.navCalls)
	}
	if sess.countCalls != 0 || sess.snapshots != 0 {
		t.Fatalf("no counting or extraction expected after failed load")
	}
	if got := testutil.ToFloat64(m.RetriesTotal); got != 1 {
		t.Fatalf("retries metric=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("timeout errors=%v, want 1", got)
	}
}

func TestDriverNavigationRetrySucceeds(t *testing.T) {
	d, _ := newTestDriver(t, 0)
	sess := &fakeSession{script: &script{
		navErrs: []error{errors.New("net::ERR_CONNECTION_RESET")},
		counts:  []int{3},
		html:    listing(item{"a/1", "A", ""}),
	}}

	res := d.Run(context.Background(), sess, hair)
	if res.Outcome != models.OutcomeSettled {
		t.Fatalf("outcome=%s, want settled (err=%v)", res.Outcome, res.Err)
	}
	if sess.navCalls != 2 {
		t.Fatalf("navigate calls=%d, want 2", sess.navCalls)
	}
}

func TestDriverInitialCountFailure(t *testing.T) {
	d, _ := newTestDriver(t, 0)
	sess := &fakeSession{script: &script{countErrAt: 1}}

	res := d.Run(context.Background(), sess, hair)
	if !res.Failed() || res.Err == nil {
		t.Fatalf("outcome=%s err=%v, want failed with error", res.Outcome, res.Err)
	}
	if sess.clickCalls != 0 {
		t.Fatalf("no clicks expected, got %d", sess.clickCalls)
	}
}

func TestDriverSnapshotFailure(t *testing.T) {
	d, _ := newTestDriver(t, 0)
	sess := &fakeSession{script: &script{counts: []int{3}, snapshotErr: errors.New("target closed")}}

	res := d.Run(context.Background(), sess, hair)
	if !res.Failed() {
		t.Fatalf("outcome=%s, want failed", res.Outcome)
	}
}

func TestDriverCancellation(t *testing.T) {
	d, _ := newTestDriver(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &script{counts: []int{1, 2, 3}, alwaysClick: true, html: listing(item{"a/1", "A", ""})}
	sc.onClick = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	engine := &fakeEngine{scripts: map[string]*script{hair.URL: sc}}

	res := d.Scrape(ctx, engine, hair)
	if !res.Failed() {
		t.Fatalf("outcome=%s, want failed", res.Outcome)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", res.Err)
	}
	if !engine.allClosed() {
		t.Fatalf("session not closed after cancellation")
	}
	if errorTypeLabel(res.Err) != "canceled" {
		t.Fatalf("label=%q, want canceled", errorTypeLabel(res.Err))
	}
}

func TestDriverScrapeClosesSession(t *testing.T) {
	tests := []struct {
		name   string
		script *script
	}{
		{name: "settled", script: &script{counts: []int{2}, html: listing(item{"a/1", "A", ""})}},
		{name: "navigation failure", script: &script{navErrs: []error{errors.New("boom"), errors.New("boom")}}},
		{name: "count failure", script: &script{countErrAt: 1}},
		{name: "exhausted", script: &script{counts: []int{1, 2, 3, 4, 5}, alwaysClick: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDriver(t, 3)
			engine := &fakeEngine{scripts: map[string]*script{hair.URL: tt.script}}

			d.Scrape(context.Background(), engine, hair)
			if len(engine.sessions) != 1 {
				t.Fatalf("sessions=%d, want 1", len(engine.sessions))
			}
			if !engine.allClosed() {
				t.Fatalf("session closed %d times, want 1", engine.sessions[0].closed)
			}
		})
	}
}

func TestDriverScrapeClosesSessionOnPanic(t *testing.T) {
	d, _ := newTestDriver(t, 0)
	sess := &fakeSession{script: &script{counts: []int{1}, snapshotPanic: true}}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		d.Scrape(context.Background(), &singleEngine{session: sess}, hair)
	}()

	if sess.closed != 1 {
		t.Fatalf("closed=%d, want 1", sess.closed)
	}
}

func TestDriverSessionOpenFailure(t *testing.T) {
	d, _ := newTestDriver(t, 0)
	engine := &fakeEngine{newErr: errors.New("browser crashed")}

	res := d.Scrape(context.Background(), engine, hair)
	if !res.Failed() {
		t.Fatalf("outcome=%s, want failed", res.Outcome)
	}
	var nav *browser.NavigationError
	if !errors.As(res.Err, &nav) || nav.URL != hair.URL {
		t.Fatalf("err=%v, want NavigationError for %s", res.Err, hair.URL)
	}
}

func TestBackoffCapped(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 200 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 4, want: 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoff(200*time.Millisecond, 500*time.Millisecond, tt.attempt); got != tt.want {
			t.Fatalf("backoff(%d)=%v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := backoff(0, 0, 1); got != 100*time.Millisecond {
		t.Fatalf("default base backoff=%v, want 100ms", got)
	}
}
