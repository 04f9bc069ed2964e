package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/extract"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Driver loads one category listing by repeatedly triggering its load-more
// control until the product count stops growing, then extracts once.
type Driver struct {
	cfg       *config.Config
	extractor *extract.Extractor
	metrics   *Metrics
}

// NewDriver builds a driver. metrics may be nil.
func NewDriver(cfg *config.Config, extractor *extract.Extractor, metrics *Metrics) *Driver {
	return &Driver{cfg: cfg, extractor: extractor, metrics: metrics}
}

// Scrape opens a fresh session on engine, runs the category on it and
// closes the session on every exit path.
func (d *Driver) Scrape(ctx context.Context, engine browser.Engine, cat models.Category) *models.CategoryResult {
	start := time.Now()
	sess, err := engine.NewSession(ctx)
	if err != nil {
		res := &models.CategoryResult{Category: cat}
		d.fail(res, browser.NewNavigationError(cat.URL, err))
		res.Duration = time.Since(start)
		d.metrics.ObserveCategory(res.Outcome, res.Duration)
		return res
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.Debug("session close failed", slog.String("category", cat.Name), slog.Any("error", cerr))
		}
	}()
	return d.Run(ctx, sess, cat)
}

// Run drives sess through one category. It never returns an error: failures
// are reported through the result's Outcome and Err.
func (d *Driver) Run(ctx context.Context, sess browser.Session, cat models.Category) (res *models.CategoryResult) {
	start := time.Now()
	res = &models.CategoryResult{Category: cat}
	defer func() {
		res.Duration = time.Since(start)
		d.metrics.ObserveCategory(res.Outcome, res.Duration)
	}()

	log := slog.With(slog.String("category", cat.Name))
	sel := d.cfg.Selectors

	if err := d.load(ctx, sess, cat.URL, log); err != nil {
		return d.fail(res, err)
	}

	prev, err := sess.CountMatches(ctx, sel.ProductItemSelector)
	if err != nil {
		return d.fail(res, err)
	}
	res.Loaded = prev
	log.Debug("listing loaded", slog.Int("count", prev))

	res.Outcome = models.OutcomeExhausted
	for attempt := 1; attempt <= d.cfg.MaxClicks; attempt++ {
		click, err := sess.ClickIfPresent(ctx, sel.LoadMoreSelectors)
		if ctx.Err() != nil {
			return d.fail(res, ctx.Err())
		}
		if err != nil || click != browser.Clicked {
			log.Debug("load-more unavailable",
				slog.Int("attempt", attempt),
				slog.String("click", click.String()),
				slog.Any("error", err),
			)
			res.Outcome = models.OutcomeSettled
			break
		}
		res.Clicks++
		d.metrics.IncClicks()

		if err := browser.Sleep(ctx, d.cfg.ClickDelay); err != nil {
			return d.fail(res, err)
		}

		count, err := sess.CountMatches(ctx, sel.ProductItemSelector)
		if err != nil {
			if ctx.Err() != nil {
				return d.fail(res, ctx.Err())
			}
			log.Debug("count after click failed", slog.Int("attempt", attempt), slog.Any("error", err))
			res.Outcome = models.OutcomeSettled
			break
		}
		res.Loaded = count
		if count <= prev {
			log.Debug("listing stalled", slog.Int("attempt", attempt), slog.Int("count", count))
			res.Outcome = models.OutcomeSettled
			break
		}
		log.Debug("load-more grew listing",
			slog.Int("attempt", attempt),
			slog.Int("previous", prev),
			slog.Int("count", count),
		)
		prev = count
	}

	if res.Outcome == models.OutcomeExhausted {
		log.Warn("click limit reached, listing may be partial",
			slog.Int("max_clicks", d.cfg.MaxClicks),
			slog.Int("count", res.Loaded),
		)
	}

	markup, err := sess.SnapshotHTML(ctx)
	if err != nil {
		return d.fail(res, err)
	}
	res.Products = d.extractor.Products(markup, cat.URL, cat.Name)
	d.metrics.AddProducts(len(res.Products))
	return res
}

// load navigates with retries, then waits for late rendering to settle.
func (d *Driver) load(ctx context.Context, sess browser.Session, url string, log *slog.Logger) error {
	wait := browser.WaitCondition{NetworkIdle: true}

	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(d.cfg.RetryBackoff, d.cfg.RetryBackoffMax, attempt)
			d.metrics.IncRetries()
			log.Info("retrying navigation",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.Any("error", err),
			)
			if serr := browser.Sleep(ctx, delay); serr != nil {
				return serr
			}
		}

		err = sess.Navigate(ctx, url, wait, d.cfg.NavigationTimeout)
		if err == nil {
			return browser.Sleep(ctx, d.cfg.SettleDelay)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (d *Driver) fail(res *models.CategoryResult, err error) *models.CategoryResult {
	res.Outcome = models.OutcomeFailed
	res.Products = nil
	res.Err = err

	label := errorTypeLabel(err)
	d.metrics.IncError(label)
	slog.Warn("category skipped",
		slog.String("category", res.Category.Name),
		slog.String("error_type", label),
		slog.Any("error", err),
	)
	return res
}

// backoff returns the capped exponential delay before retry number attempt.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
