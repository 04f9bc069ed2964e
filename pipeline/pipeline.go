// Package pipeline merges per-category results into the master catalog and
// writes CSV / JSONL outputs.
package pipeline

import (
	"slices"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// CategoryCount reports how many products one category contributed.
type CategoryCount struct {
	Name  string
	Count int
}

// MergeResult is the merged catalog.
type MergeResult struct {
	// Raw is every valid record in category order, then extraction order.
	Raw []*models.Product
	// Unique keeps the first record seen for each URL, in first-seen order.
	Unique      []*models.Product
	PerCategory []CategoryCount
	// Invalid counts records dropped by validation, by reason.
	Invalid map[string]int
}

// RawCount returns the number of records before URL dedup.
func (m *MergeResult) RawCount() int { return len(m.Raw) }

// UniqueCount returns the number of records after URL dedup.
func (m *MergeResult) UniqueCount() int { return len(m.Unique) }

// Merge concatenates results in the given order and deduplicates by URL,
// first seen wins. It does not modify its input, so merging the same
// results twice yields the same catalog.
func Merge(results []*models.CategoryResult) *MergeResult {
	m := &MergeResult{
		PerCategory: make([]CategoryCount, 0, len(results)),
		Invalid:     make(map[string]int),
	}
	seen := make(map[string]struct{})

	for _, r := range results {
		if r == nil {
			continue
		}
		count := 0
		for _, p := range r.Products {
			if err := parser.ValidateProduct(p); err != nil {
				m.Invalid["invalid_record"]++
				continue
			}
			count++
			m.Raw = append(m.Raw, p)
			if _, dup := seen[p.URL]; dup {
				m.Invalid["duplicate_url"]++
				continue
			}
			seen[p.URL] = struct{}{}
			m.Unique = append(m.Unique, p)
		}
		m.PerCategory = append(m.PerCategory, CategoryCount{Name: r.Category.Name, Count: count})
	}
	return m
}

// Catalog accumulates completed category results. A result is only added
// once its scrape has fully finished, so no partial category is visible.
type Catalog struct {
	mu      sync.Mutex
	results []*models.CategoryResult
	index   map[int]int
}

// NewCatalog builds an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[int]int)}
}

// Add records the result for the category at position pos in processing order.
func (c *Catalog) Add(pos int, r *models.CategoryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[pos]; ok {
		c.results[i] = r
		return
	}
	c.index[pos] = len(c.results)
	c.results = append(c.results, r)
}

// Results returns the results sorted by processing position.
func (c *Catalog) Results() []*models.CategoryResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make([]int, 0, len(c.index))
	for pos := range c.index {
		positions = append(positions, pos)
	}
	slices.Sort(positions)

	out := make([]*models.CategoryResult, 0, len(positions))
	for _, pos := range positions {
		out = append(out, c.results[c.index[pos]])
	}
	return out
}

// Merge merges the results collected so far.
func (c *Catalog) Merge() *MergeResult {
	return Merge(c.Results())
}
