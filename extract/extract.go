// Package extract turns rendered listing markup into categories and products.
//
// Extraction never fails: malformed markup or elements missing the expected
// structure simply yield fewer records.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// Extractor applies a selector rule set to page snapshots. It is safe for
// concurrent use.
type Extractor struct {
	sel      config.Selectors
	marker   string
	resolved *lru.Cache[string, string]
}

// New builds an extractor. cacheSize bounds the memo of resolved hrefs.
func New(sel config.Selectors, cacheSize int) (*Extractor, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolver cache: %w", err)
	}
	return &Extractor{
		sel:      sel,
		marker:   strings.Trim(sel.ListingMarker, "/"),
		resolved: cache,
	}, nil
}

// Selectors returns the rule set the extractor was built with.
func (e *Extractor) Selectors() config.Selectors {
	return e.sel
}

// Categories returns the category links found in markup, in document order.
// In top-level mode only /{marker}/{TOKEN}-{ID}/ links count and names are
// unique; with includeSub every deeper listing link is kept, unique by URL.
func (e *Extractor) Categories(markup, baseURL string, includeSub bool) []models.Category {
	doc, base, ok := load(markup, baseURL)
	if !ok {
		return nil
	}

	var out []models.Category
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "/"+e.marker+"/") && !strings.HasPrefix(href, e.marker+"/") {
			return
		}
		abs := e.resolve(base, href)
		if abs == "" || !sameHost(base, abs) {
			return
		}

		segments := parser.ListingSegments(href)
		if len(segments) < 2 || segments[0] != e.marker {
			return
		}
		name := parser.CategoryName(segments[1])
		if name == "" {
			return
		}

		if includeSub {
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			out = append(out, models.Category{
				Name: name,
				ID:   segments[len(segments)-1],
				URL:  abs,
			})
			return
		}

		if len(segments) != 2 {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, models.Category{
			Name: name,
			ID:   segments[1],
			URL:  e.resolve(base, "/"+e.marker+"/"+segments[1]+"/"),
		})
	})

	return out
}

// Products returns one record per product container, deduplicated by URL.
func (e *Extractor) Products(markup, baseURL, category string) []*models.Product {
	doc, base, ok := load(markup, baseURL)
	if !ok {
		return nil
	}

	var out []*models.Product
	seen := make(map[string]struct{})

	doc.Find(e.sel.ContainerSelector).Each(func(_ int, container *goquery.Selection) {
		link, href := e.detailLink(container)
		if link == nil {
			return
		}
		abs := e.resolve(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}

		name := e.productName(link, href)
		if name == "" {
			return
		}
		seen[abs] = struct{}{}

		price := ""
		if e.sel.PriceSelector != "" {
			price = parser.NormalizeText(container.Find(e.sel.PriceSelector).First().Text())
		}

		out = append(out, &models.Product{
			Name:     name,
			URL:      abs,
			Category: category,
			Price:    price,
		})
	})

	return out
}

func (e *Extractor) detailLink(container *goquery.Selection) (*goquery.Selection, string) {
	var (
		link *goquery.Selection
		href string
	)
	container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		candidate, _ := a.Attr("href")
		if strings.Contains(candidate, e.sel.DetailMarker) {
			link, href = a, candidate
			return false
		}
		return true
	})
	return link, href
}

func (e *Extractor) productName(link *goquery.Selection, href string) string {
	if e.sel.NameSelector != "" {
		if heading := link.Find(e.sel.NameSelector).First(); heading.Length() > 0 {
			if name := parser.NormalizeText(heading.Text()); name != "" {
				return name
			}
		}
	}
	if name := parser.NormalizeText(link.Text()); name != "" {
		return name
	}
	return parser.SlugName(parser.DetailSlug(href, e.sel.DetailMarker))
}

// resolve returns the canonical absolute form of href, without fragment.
func (e *Extractor) resolve(base *url.URL, href string) string {
	key := base.String() + "\x00" + href
	if abs, ok := e.resolved.Get(key); ok {
		return abs
	}

	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	if abs.Scheme == "" || abs.Host == "" {
		return ""
	}
	out := abs.String()
	e.resolved.Add(key, out)
	return out
}

func load(markup, baseURL string) (*goquery.Document, *url.URL, bool) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, nil, false
	}
	return doc, base, true
}

func sameHost(base *url.URL, abs string) bool {
	u, err := url.Parse(abs)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}
