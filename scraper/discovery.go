package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/extract"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// Renderer produces the markup of a page once readySelector matches.
type Renderer interface {
	Render(ctx context.Context, url, readySelector string, timeout time.Duration) (string, error)
}

// BrowserRenderer renders pages in a fresh tab of a browser engine.
type BrowserRenderer struct {
	engine browser.Engine
}

// NewBrowserRenderer wraps engine as a Renderer.
func NewBrowserRenderer(engine browser.Engine) *BrowserRenderer {
	return &BrowserRenderer{engine: engine}
}

// Render implements Renderer.
func (r *BrowserRenderer) Render(ctx context.Context, url, readySelector string, timeout time.Duration) (string, error) {
	sess, err := r.engine.NewSession(ctx)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, url, browser.WaitCondition{Selector: readySelector}, timeout); err != nil {
		return "", err
	}
	return sess.SnapshotHTML(ctx)
}

// Discoverer finds the category catalog on the site homepage.
type Discoverer struct {
	cfg       *config.Config
	renderer  Renderer
	extractor *extract.Extractor
}

// NewDiscoverer builds a discoverer.
func NewDiscoverer(cfg *config.Config, renderer Renderer, extractor *extract.Extractor) *Discoverer {
	return &Discoverer{cfg: cfg, renderer: renderer, extractor: extractor}
}

// Discover renders baseURL and returns its category links in document
// order. A page without listing links yields an empty slice, not an error.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) ([]models.Category, error) {
	marker := strings.Trim(d.cfg.Selectors.ListingMarker, "/")
	ready := fmt.Sprintf(`a[href*="/%s/"]`, marker)

	markup, err := d.renderer.Render(ctx, baseURL, ready, d.cfg.DiscoveryTimeout)
	if err != nil {
		return nil, &FetchError{URL: baseURL, Err: err}
	}

	categories := d.extractor.Categories(markup, baseURL, d.cfg.IncludeSubcategories)
	slog.Info("categories discovered",
		slog.Int("count", len(categories)),
		slog.Bool("subcategories", d.cfg.IncludeSubcategories),
	)
	for _, c := range categories {
		slog.Debug("category", slog.String("name", c.Name), slog.String("url", c.URL))
	}
	return categories, nil
}

// filterCategories keeps the categories whose name matches filter.
func filterCategories(categories []models.Category, filter string) []models.Category {
	if filter == "" {
		return categories
	}
	var out []models.Category
	for _, c := range categories {
		if parser.MatchCategory(c.Name, filter) {
			out = append(out, c)
		}
	}
	return out
}
