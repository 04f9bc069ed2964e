package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// exitInterrupted is returned after a signal stopped the run early.
const exitInterrupted = 130

func main() {
	d := config.DefaultConfig()

	baseURL := flag.String("base-url", envString("SCRAPER_BASE_URL", d.BaseURL), "Storefront homepage to discover categories from")
	category := flag.String("category", envString("SCRAPER_CATEGORY", ""), "Only scrape the category with this name (case-insensitive)")
	subcategories := flag.Bool("subcategories", envBool("SCRAPER_SUBCATEGORIES", false), "Scrape every listing link, including subcategories")
	engine := flag.String("engine", envString("SCRAPER_ENGINE", d.Engine), "Browser engine for category pages: chromedp or rod")
	discoveryEngine := flag.String("discovery-engine", envString("SCRAPER_DISCOVERY_ENGINE", ""), "Discovery renderer: chromedp, rod, or static (default: same as -engine)")
	parallelism := flag.Int("parallel", envInt("SCRAPER_PARALLEL", d.Parallelism), "Number of categories scraped concurrently")
	discoveryTimeout := flag.Duration("discovery-timeout", envDuration("SCRAPER_DISCOVERY_TIMEOUT", d.DiscoveryTimeout), "Homepage readiness timeout")
	navTimeout := flag.Duration("nav-timeout", envDuration("SCRAPER_NAV_TIMEOUT", d.NavigationTimeout), "Category page load timeout")
	clickTimeout := flag.Duration("click-timeout", envDuration("SCRAPER_CLICK_TIMEOUT", d.ClickTimeout), "Timeout for a single load-more click")
	settleDelay := flag.Duration("settle-delay", envDuration("SCRAPER_SETTLE_DELAY", d.SettleDelay), "Wait after network idle before counting")
	scrollDelay := flag.Duration("scroll-delay", envDuration("SCRAPER_SCROLL_DELAY", d.ScrollDelay), "Wait after scrolling the control into view")
	clickDelay := flag.Duration("click-delay", envDuration("SCRAPER_CLICK_DELAY", d.ClickDelay), "Wait after each click before recounting")
	maxClicks := flag.Int("max-clicks", envInt("SCRAPER_MAX_CLICKS", d.MaxClicks), "Maximum load-more clicks per category")
	maxRetries := flag.Int("max-retries", envInt("SCRAPER_MAX_RETRIES", d.MaxRetries), "Navigation retries per category")
	retryBackoff := flag.Duration("retry-backoff", envDuration("SCRAPER_RETRY_BACKOFF", d.RetryBackoff), "Initial navigation retry backoff")
	retryBackoffMax := flag.Duration("retry-backoff-max", envDuration("SCRAPER_RETRY_BACKOFF_MAX", d.RetryBackoffMax), "Maximum navigation retry backoff")
	outputDir := flag.String("output", envString("SCRAPER_OUTPUT", d.OutputDir), "Output directory")
	outputFormat := flag.String("format", envString("SCRAPER_FORMAT", d.OutputFormat), "Output format: csv, json, or dual")
	headless := flag.Bool("headless", envBool("SCRAPER_HEADLESS", d.Headless), "Run the browser headless")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", envString("SCRAPER_METRICS_ADDR", d.MetricsAddr), "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.CategoryFilter = strings.TrimSpace(*category)
	cfg.IncludeSubcategories = *subcategories
	cfg.Engine = strings.ToLower(*engine)
	cfg.DiscoveryEngine = strings.ToLower(*discoveryEngine)
	if cfg.DiscoveryEngine == "" {
		cfg.DiscoveryEngine = cfg.Engine
	}
	cfg.Parallelism = *parallelism
	cfg.DiscoveryTimeout = *discoveryTimeout
	cfg.NavigationTimeout = *navTimeout
	cfg.ClickTimeout = *clickTimeout
	cfg.SettleDelay = *settleDelay
	cfg.ScrollDelay = *scrollDelay
	cfg.ClickDelay = *clickDelay
	cfg.MaxClicks = *maxClicks
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = *retryBackoff
	cfg.RetryBackoffMax = *retryBackoffMax
	cfg.OutputDir = *outputDir
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.Headless = *headless
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.String("engine", cfg.Engine),
		slog.String("discovery_engine", cfg.DiscoveryEngine),
		slog.Int("workers", cfg.Parallelism),
		slog.Int("max_clicks", cfg.MaxClicks),
	)

	opts := browser.Options{
		Headless:     cfg.Headless,
		UserAgent:    cfg.UserAgent,
		ScrollDelay:  cfg.ScrollDelay,
		ClickTimeout: cfg.ClickTimeout,
	}
	pageEngine, err := newEngine(cfg.Engine, opts)
	if err != nil {
		slog.Error("starting browser", slog.String("engine", cfg.Engine), slog.Any("error", err))
		os.Exit(1)
	}
	engines := []browser.Engine{pageEngine}

	var renderer scraper.Renderer
	switch cfg.DiscoveryEngine {
	case config.EngineStatic:
		renderer = scraper.NewStaticRenderer(cfg.UserAgent)
	case cfg.Engine:
		renderer = scraper.NewBrowserRenderer(pageEngine)
	default:
		discovery, err := newEngine(cfg.DiscoveryEngine, opts)
		if err != nil {
			closeEngines(engines)
			slog.Error("starting discovery browser", slog.String("engine", cfg.DiscoveryEngine), slog.Any("error", err))
			os.Exit(1)
		}
		engines = append(engines, discovery)
		renderer = scraper.NewBrowserRenderer(discovery)
	}

	code := run(cfg, pageEngine, renderer)
	closeEngines(engines)
	os.Exit(code)
}

func run(cfg *config.Config, engine browser.Engine, renderer scraper.Renderer) int {
	s, err := scraper.New(cfg, engine, renderer, pipeline.NewOutput(cfg.OutputDir, cfg.OutputFormat))
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing in-flight categories")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	result, err := s.Run(ctx)
	switch {
	case errors.Is(err, scraper.ErrNoCategories), errors.Is(err, scraper.ErrCategoryNotFound):
		slog.Info("nothing to scrape", slog.String("reason", err.Error()))
		fmt.Printf("Nothing to scrape: %v\n", err)
		return 0
	case err != nil:
		slog.Error("scraping failed", slog.Any("error", err))
		if result != nil && len(result.Results) > 0 {
			printSummary(result)
		}
		return 1
	}

	printSummary(result)
	if result.Interrupted {
		slog.Warn("run interrupted, catalog covers completed categories only")
		return exitInterrupted
	}
	return 0
}

func newEngine(name string, opts browser.Options) (browser.Engine, error) {
	switch name {
	case config.EngineRod:
		e, err := browser.NewRodEngine(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		e, err := browser.NewChromedpEngine(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

func closeEngines(engines []browser.Engine) {
	for _, e := range engines {
		if err := e.Close(); err != nil {
			slog.Debug("browser close failed", slog.Any("error", err))
		}
	}
}

func printSummary(result *models.ScraperResult) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Interrupted {
		fmt.Println("Scrape interrupted")
	} else {
		fmt.Println("Scrape complete")
	}

	fmt.Printf("  Categories:    %d\n", len(result.Categories))
	for _, r := range result.Results {
		line := fmt.Sprintf("    %-20s %5d  %s", r.Category.Name, len(r.Products), r.Outcome)
		if r.Clicks > 0 {
			line += fmt.Sprintf(" after %d clicks", r.Clicks)
		}
		fmt.Println(line)
	}
	fmt.Printf("  Raw products:  %d\n", result.RawCount)
	fmt.Printf("  Unique:        %d\n", result.UniqueCount)
	if len(result.Skipped) > 0 {
		fmt.Printf("  Skipped:       %d\n", len(result.Skipped))
		for _, sk := range result.Skipped {
			fmt.Printf("    %-20s %s\n", sk.Name, sk.Reason)
		}
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	if result.MergedFile != "" {
		fmt.Printf("  Merged file:   %s\n", result.MergedFile)
	}
	fmt.Printf("  Files written: %d\n", len(result.OutputFiles))
	fmt.Println(separator)
}

func envString(key, fallback string) string {
	if value, ok := config.EnvString(key); ok {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value, ok, err := config.EnvInt(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value, ok, err := config.EnvDuration(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value, ok, err := config.EnvBool(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
