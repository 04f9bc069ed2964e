// Package scraper discovers categories, drives each category's load-more
// listing in a browser session, and assembles the run result.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/extract"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
)

// Scraper runs one full crawl: discovery, per-category pagination, merge.
type Scraper struct {
	cfg        *config.Config
	engine     browser.Engine
	discoverer *Discoverer
	driver     *Driver
	out        *pipeline.Output
	Metrics    *Metrics

	mu           sync.Mutex
	errorsByType map[string]int
}

// New builds a scraper. engine serves category sessions and renderer serves
// discovery; they may share the same browser.
func New(cfg *config.Config, engine browser.Engine, renderer Renderer, out *pipeline.Output) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if engine == nil || renderer == nil || out == nil {
		return nil, errors.New("engine, renderer and output are required")
	}
	extractor, err := extract.New(cfg.Selectors, cfg.ResolverCacheSize)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	return &Scraper{
		cfg:          cfg,
		engine:       engine,
		discoverer:   NewDiscoverer(cfg, renderer, extractor),
		driver:       NewDriver(cfg, extractor, metrics),
		out:          out,
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}, nil
}

// Run crawls every discovered category and writes the per-category and
// merged outputs. Only discovery failures abort the run. When ctx is
// canceled, categories already finished are still merged and written.
func (s *Scraper) Run(ctx context.Context) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &models.ScraperResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.ErrorsByType = s.snapshotErrors()
	}()

	categories, err := s.discoverer.Discover(ctx, s.cfg.BaseURL)
	if err != nil {
		s.recordError(err)
		s.Metrics.IncError(errorTypeLabel(err))
		return result, err
	}
	if len(categories) == 0 {
		return result, ErrNoCategories
	}
	if s.cfg.CategoryFilter != "" {
		categories = filterCategories(categories, s.cfg.CategoryFilter)
		if len(categories) == 0 {
			return result, fmt.Errorf("%w: %q", ErrCategoryNotFound, s.cfg.CategoryFilter)
		}
	}
	result.Categories = categories

	catalog := pipeline.NewCatalog()
	started := s.crawl(ctx, categories, catalog)

	results := catalog.Results()
	merged := pipeline.Merge(results)
	result.Results = results
	result.RawCount = merged.RawCount()
	result.UniqueCount = merged.UniqueCount()
	result.Interrupted = ctx.Err() != nil

	for _, r := range results {
		if r.Failed() {
			result.Skipped = append(result.Skipped, models.SkippedCategory{Name: r.Category.Name, Reason: r.Err.Error()})
		}
	}
	for _, c := range categories[started:] {
		result.Skipped = append(result.Skipped, models.SkippedCategory{Name: c.Name, Reason: "interrupted before start"})
	}
	for reason, n := range merged.Invalid {
		slog.Debug("records dropped during merge", slog.String("reason", reason), slog.Int("count", n))
	}

	paths, err := s.out.WriteMerged(s.cfg.MergedFile, merged.Unique)
	result.OutputFiles = s.out.Files()
	if err != nil {
		s.recordLabel("write")
		s.Metrics.IncError("write")
		return result, fmt.Errorf("write merged catalog: %w", err)
	}
	if len(paths) > 0 {
		result.MergedFile = paths[0]
	}
	return result, nil
}

// crawl runs categories with at most Parallelism in flight and returns how
// many were started. Results land in catalog at their discovery position.
func (s *Scraper) crawl(ctx context.Context, categories []models.Category, catalog *pipeline.Catalog) int {
	sem := make(chan struct{}, s.cfg.Parallelism)
	var (
		wg       sync.WaitGroup
		finished atomic.Int64
		started  int
	)
	total := len(categories)

loop:
	for i, cat := range categories {
		if ctx.Err() != nil {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		if ctx.Err() != nil {
			<-sem
			break
		}
		started++

		wg.Add(1)
		go func(pos int, cat models.Category) {
			defer wg.Done()
			defer func() { <-sem }()

			r := s.driver.Scrape(ctx, s.engine, cat)
			if r.Failed() {
				s.recordError(r.Err)
			} else {
				s.flush(r)
			}
			catalog.Add(pos, r)

			n := finished.Add(1)
			slog.Info("category complete",
				slog.String("category", cat.Name),
				slog.String("outcome", string(r.Outcome)),
				slog.Int("products", len(r.Products)),
				slog.Int("clicks", r.Clicks),
				slog.Duration("duration", r.Duration),
				slog.String("progress", fmt.Sprintf("%d/%d", n, total)),
			)
		}(i, cat)
	}

	wg.Wait()
	return started
}

// flush writes one category's own file as soon as it completes.
func (s *Scraper) flush(r *models.CategoryResult) {
	if len(r.Products) == 0 {
		return
	}
	if _, err := s.out.WriteCategory(r.Category.Name, r.Products); err != nil {
		s.recordLabel("write")
		s.Metrics.IncError("write")
		slog.Error("write category file failed",
			slog.String("category", r.Category.Name),
			slog.Any("error", err),
		)
	}
}

func (s *Scraper) recordError(err error) {
	if err == nil {
		return
	}
	s.recordLabel(errorTypeLabel(err))
}

func (s *Scraper) recordLabel(label string) {
	s.mu.Lock()
	s.errorsByType[label]++
	s.mu.Unlock()
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
