package scraper

import (
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry         *prometheus.Registry
	CategoriesTotal  *prometheus.CounterVec
	CategoryDuration prometheus.Histogram
	ClicksTotal      prometheus.Counter
	ProductsTotal    prometheus.Counter
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_categories_total",
			Help: "Categories processed, by terminal pagination state.",
		},
		[]string{"outcome"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_category_duration_seconds",
			Help:    "Wall time spent loading and extracting one category.",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	clicks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_load_more_clicks_total",
			Help: "Total load-more clicks that were dispatched.",
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_products_extracted_total",
			Help: "Total product records extracted before catalog dedup.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_navigation_retries_total",
			Help: "Total number of navigation retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(categories, duration, clicks, products, retries, errorsTotal)

	return &Metrics{
		Registry:         registry,
		CategoriesTotal:  categories,
		CategoryDuration: duration,
		ClicksTotal:      clicks,
		ProductsTotal:    products,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
	}
}

// ObserveCategory records the terminal state and duration of one category.
func (m *Metrics) ObserveCategory(outcome models.PaginationOutcome, d time.Duration) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(string(outcome)).Inc()
	m.CategoryDuration.Observe(d.Seconds())
}

// IncClicks increments the load-more clicks counter.
func (m *Metrics) IncClicks() {
	if m == nil {
		return
	}
	m.ClicksTotal.Inc()
}

// AddProducts adds n to the extracted products counter.
func (m *Metrics) AddProducts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
