package pipeline

import (
	"reflect"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func product(category, url, price string) *models.Product {
	return &models.Product{Name: "Item " + url, URL: url, Category: category, Price: price}
}

func result(name string, products ...*models.Product) *models.CategoryResult {
	return &models.CategoryResult{
		Category: models.Category{Name: name},
		Products: products,
		Outcome:  models.OutcomeSettled,
	}
}

func TestMergeFirstSeenWins(t *testing.T) {
	shared := "https://shop.test/details/rose-oil/1/"
	results := []*models.CategoryResult{
		result("HAIR",
			product("HAIR", shared, "199"),
			product("HAIR", "https://shop.test/details/a/2/", "10"),
		),
		result("SKIN",
			product("SKIN", shared, "249"),
			product("SKIN", "https://shop.test/details/b/3/", "20"),
		),
	}

	m := Merge(results)
	if m.RawCount() != 4 || m.UniqueCount() != 3 {
		t.Fatalf("raw=%d unique=%d, want 4/3", m.RawCount(), m.UniqueCount())
	}

	var kept *models.Product
	for _, p := range m.Unique {
		if p.URL == shared {
			if kept != nil {
				t.Fatalf("url %s appears twice in unique catalog", shared)
			}
			kept = p
		}
	}
	if kept == nil || kept.Price != "199" || kept.Category != "HAIR" {
		t.Fatalf("expected first category's record to win, got %+v", kept)
	}

	wantOrder := []string{shared, "https://shop.test/details/a/2/", "https://shop.test/details/b/3/"}
	for i, url := range wantOrder {
		if m.Unique[i].URL != url {
			t.Fatalf("unique[%d]=%s, want %s", i, m.Unique[i].URL, url)
		}
	}
	if m.Invalid["duplicate_url"] != 1 {
		t.Fatalf("duplicate_url=%d, want 1", m.Invalid["duplicate_url"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	results := []*models.CategoryResult{
		result("HAIR", product("HAIR", "https://shop.test/details/a/1/", "1"), product("HAIR", "https://shop.test/details/b/2/", "2")),
		result("SKIN", product("SKIN", "https://shop.test/details/b/2/", "3"), product("SKIN", "https://shop.test/details/c/3/", "4")),
	}

	first := Merge(results)
	second := Merge(results)
	if !reflect.DeepEqual(first.Unique, second.Unique) {
		t.Fatalf("merging twice changed the unique catalog")
	}
	if len(results[0].Products) != 2 || len(results[1].Products) != 2 {
		t.Fatalf("merge must not modify its input")
	}
}

func TestMergePerCategoryCounts(t *testing.T) {
	failed := &models.CategoryResult{Category: models.Category{Name: "MAKEUP"}, Outcome: models.OutcomeFailed}
	results := []*models.CategoryResult{
		result("HAIR", product("HAIR", "https://shop.test/details/a/1/", "")),
		failed,
		result("SKIN"),
		nil,
	}

	m := Merge(results)
	want := []CategoryCount{{Name: "HAIR", Count: 1}, {Name: "MAKEUP", Count: 0}, {Name: "SKIN", Count: 0}}
	if !reflect.DeepEqual(m.PerCategory, want) {
		t.Fatalf("per category=%v, want %v", m.PerCategory, want)
	}
}

func TestMergeDropsInvalidRecords(t *testing.T) {
	results := []*models.CategoryResult{
		result("HAIR",
			&models.Product{Name: "", URL: "https://shop.test/details/a/1/"},
			&models.Product{Name: "Relative", URL: "/details/b/2/"},
			nil,
			product("HAIR", "https://shop.test/details/c/3/", ""),
		),
	}

	m := Merge(results)
	if m.UniqueCount() != 1 {
		t.Fatalf("unique=%d, want 1", m.UniqueCount())
	}
	if m.Invalid["invalid_record"] != 3 {
		t.Fatalf("invalid_record=%d, want 3", m.Invalid["invalid_record"])
	}
}

func TestCatalogOrdersByPosition(t *testing.T) {
	c := NewCatalog()
	names := []string{"HAIR", "SKIN", "MAKEUP", "PERSONAL"}

	var wg sync.WaitGroup
	for i := len(names) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			c.Add(pos, result(names[pos]))
		}(i)
	}
	wg.Wait()

	got := c.Results()
	if len(got) != len(names) {
		t.Fatalf("results=%d, want %d", len(got), len(names))
	}
	for i, r := range got {
		if r.Category.Name != names[i] {
			t.Fatalf("result[%d]=%s, want %s", i, r.Category.Name, names[i])
		}
	}
}

func TestCatalogAddReplacesPosition(t *testing.T) {
	c := NewCatalog()
	c.Add(0, result("HAIR"))
	c.Add(0, result("HAIR", product("HAIR", "https://shop.test/details/a/1/", "")))

	m := c.Merge()
	if len(c.Results()) != 1 || m.UniqueCount() != 1 {
		t.Fatalf("expected one result with one product, got %d results / %d products", len(c.Results()), m.UniqueCount())
	}
}
