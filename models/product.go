// Package models defines data structures for the scraper.
package models

import "time"

// Category is a top-level product grouping discovered from site navigation.
type Category struct {
	Name string `json:"name"`
	// ID is the raw listing segment the name was derived from, e.g. "HAIR-456".
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Product is one listing entry. URL is its identity key.
type Product struct {
	Name     string `csv:"name" json:"name"`
	URL      string `csv:"url" json:"url"`
	Category string `csv:"category" json:"category"`
	Price    string `csv:"price" json:"price"`
}

// PaginationOutcome is the terminal state of one category scrape.
type PaginationOutcome string

const (
	OutcomeSettled   PaginationOutcome = "settled"
	OutcomeExhausted PaginationOutcome = "exhausted"
	OutcomeFailed    PaginationOutcome = "failed"
)

// CategoryResult is what one category scrape produced.
type CategoryResult struct {
	Category Category
	Products []*Product
	Outcome  PaginationOutcome
	// Loaded is the last observed product element count.
	Loaded   int
	Clicks   int
	Err      error
	Duration time.Duration
}

// Failed reports whether the category was skipped.
func (r *CategoryResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// SkippedCategory names a category that produced no data and why.
type SkippedCategory struct {
	Name   string
	Reason string
}

// ScraperResult holds the overall result of a scraping run.
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Categories   []Category
	Results      []*CategoryResult
	Skipped      []SkippedCategory
	RawCount     int
	UniqueCount  int
	ErrorsByType map[string]int
	OutputFiles  []string
	MergedFile   string
	Interrupted  bool
}
