package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Supported browser engines for category pages.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
	// EngineStatic fetches markup over plain HTTP and is only valid for discovery.
	EngineStatic = "static"
)

// Selectors holds every site-specific string the scraper relies on.
type Selectors struct {
	// ListingMarker is the first path segment of category listing URLs.
	ListingMarker string
	// DetailMarker is the href substring identifying product detail links.
	DetailMarker        string
	ProductItemSelector string
	LoadMoreSelectors   []string
	ContainerSelector   string
	NameSelector        string
	PriceSelector       string
}

// DefaultSelectors returns the rule set for the reference storefront.
func DefaultSelectors() Selectors {
	return Selectors{
		ListingMarker:       "products",
		DetailMarker:        "/details/",
		ProductItemSelector: `a[href*="/details/"]`,
		LoadMoreSelectors:   []string{"._ilmPaging", ".view-more", `[class*="load-more"]`},
		ContainerSelector:   "div.sp-pr-info",
		NameSelector:        "h5",
		PriceSelector:       "strong.price",
	}
}

// Config holds scraper configuration.
type Config struct {
	BaseURL              string
	CategoryFilter       string
	IncludeSubcategories bool
	Engine               string
	DiscoveryEngine      string
	Parallelism          int

	DiscoveryTimeout  time.Duration
	NavigationTimeout time.Duration
	ClickTimeout      time.Duration
	SettleDelay       time.Duration
	ScrollDelay       time.Duration
	ClickDelay        time.Duration
	MaxClicks         int
	MaxRetries        int
	RetryBackoff      time.Duration
	RetryBackoffMax   time.Duration

	Selectors         Selectors
	ResolverCacheSize int

	OutputDir    string
	MergedFile   string
	OutputFormat string // csv, json, or dual
	UserAgent    string
	Headless     bool
	Verbose      bool
	MetricsAddr  string
}

// DefaultConfig returns conservative defaults for the reference storefront.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://www.sinorbeauty.com/",
		Engine:            EngineChromedp,
		DiscoveryEngine:   EngineChromedp,
		Parallelism:       1,
		DiscoveryTimeout:  20 * time.Second,
		NavigationTimeout: 30 * time.Second,
		ClickTimeout:      10 * time.Second,
		SettleDelay:       time.Second,
		ScrollDelay:       300 * time.Millisecond,
		ClickDelay:        1500 * time.Millisecond,
		MaxClicks:         100,
		MaxRetries:        1,
		RetryBackoff:      500 * time.Millisecond,
		RetryBackoffMax:   5 * time.Second,
		Selectors:         DefaultSelectors(),
		ResolverCacheSize: 4096,
		OutputDir:         "output",
		MergedFile:        "all_products",
		OutputFormat:      "csv",
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Headless:          true,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a scheme and host")
	}

	if c.Engine != EngineChromedp && c.Engine != EngineRod {
		return fmt.Errorf("engine must be chromedp or rod")
	}
	switch c.DiscoveryEngine {
	case EngineChromedp, EngineRod, EngineStatic:
	default:
		return fmt.Errorf("discovery engine must be chromedp, rod, or static")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery timeout must be positive")
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.ClickTimeout <= 0 {
		return fmt.Errorf("click timeout must be positive")
	}
	if c.SettleDelay < 0 || c.ScrollDelay < 0 || c.ClickDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if c.MaxClicks <= 0 {
		return fmt.Errorf("max clicks must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if err := c.Selectors.validate(); err != nil {
		return err
	}
	if c.ResolverCacheSize <= 0 {
		return fmt.Errorf("resolver cache size must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.MergedFile == "" {
		return fmt.Errorf("merged file name cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func (s Selectors) validate() error {
	if strings.Trim(s.ListingMarker, "/") == "" {
		return fmt.Errorf("selectors: listing marker cannot be empty")
	}
	if s.DetailMarker == "" {
		return fmt.Errorf("selectors: detail marker cannot be empty")
	}
	if s.ProductItemSelector == "" {
		return fmt.Errorf("selectors: product item selector cannot be empty")
	}
	if len(s.LoadMoreSelectors) == 0 {
		return fmt.Errorf("selectors: at least one load-more selector is required")
	}
	for _, sel := range s.LoadMoreSelectors {
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("selectors: load-more selector cannot be blank")
		}
	}
	if s.ContainerSelector == "" {
		return fmt.Errorf("selectors: container selector cannot be empty")
	}
	return nil
}
