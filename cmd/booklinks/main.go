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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/mizutanik/go-book-links/config"
	"github.com/mizutanik/go-book-links/hub"
	"github.com/mizutanik/go-book-links/models"
	"github.com/mizutanik/go-book-links/scrape"
	"github.com/mizutanik/go-book-links/selectors"
)

func main() {
	defaultCfg := config.DefaultConfig()
	concurrencyDefault := defaultCfg.MaxConcurrency
	if value, ok, err := config.EnvInt("BOOKLINKS_CONCURRENCY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid BOOKLINKS_CONCURRENCY: %v\n", err)
		os.Exit(1)
	} else if ok {
		concurrencyDefault = value
	}
	batchTimeoutDefault := defaultCfg.BatchTimeout
	if value, ok, err := config.EnvDuration("BOOKLINKS_BATCH_TIMEOUT"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid BOOKLINKS_BATCH_TIMEOUT: %v\n", err)
		os.Exit(1)
	} else if ok {
		batchTimeoutDefault = value
	}
	dbDefault := defaultCfg.DatabasePath
	if value, ok := config.EnvString("BOOKLINKS_DB"); ok {
		dbDefault = value
	}
	sitesDefault := defaultCfg.SitesFile
	if value, ok := config.EnvString("BOOKLINKS_SITES"); ok {
		sitesDefault = value
	}
	queriesDefault := defaultCfg.QueriesFile
	if value, ok := config.EnvString("BOOKLINKS_QUERIES"); ok {
		queriesDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("BOOKLINKS_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("BOOKLINKS_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	concurrency := flag.Int("concurrency", concurrencyDefault, "Maximum sites scraped in parallel")
	batchTimeout := flag.Duration("batch-timeout", batchTimeoutDefault, "Deadline for one query across all sites")
	requestTimeout := flag.Duration("request-timeout", defaultCfg.RequestTimeout, "Per-request timeout")
	maxAttempts := flag.Int("max-attempts", defaultCfg.MaxAttempts, "Maximum attempts per site per query")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Delay between requests to one site (milliseconds)")
	randomDelayMs := flag.Int("random-delay", int(defaultCfg.RandomDelay/time.Millisecond), "Random jitter added to delay (milliseconds)")
	threshold := flag.Float64("threshold", defaultCfg.MatchThreshold, "Title similarity threshold")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	dbPath := flag.String("db", dbDefault, "Selector database path")
	sitesFile := flag.String("sites", sitesDefault, "Site definitions YAML (empty for built-in defaults)")
	queriesFile := flag.String("queries", queriesDefault, "Query CSV path")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	validateMode := flag.Bool("validate", false, "Dry-run selector validation instead of scraping")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, _ := newLogger(*verbose)
	slog.SetDefault(logger)

	cfg := config.DefaultConfig()
	cfg.MaxConcurrency = *concurrency
	cfg.BatchTimeout = *batchTimeout
	cfg.RequestTimeout = *requestTimeout
	cfg.MaxAttempts = *maxAttempts
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
	cfg.MatchThreshold = *threshold
	cfg.RespectRobotsTxt = *respectRobots
	cfg.DatabasePath = *dbPath
	cfg.SitesFile = *sitesFile
	cfg.QueriesFile = *queriesFile
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	store, err := selectors.Open(cfg.DatabasePath, cfg.SuccessAlpha)
	if err != nil {
		slog.Error("opening selector store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	specs := config.DefaultSites()
	var validationQueries []string
	if cfg.SitesFile != "" {
		sf, err := config.LoadSites(cfg.SitesFile)
		if err != nil {
			slog.Error("loading site definitions", slog.Any("error", err))
			os.Exit(1)
		}
		specs = sf.Sites
		validationQueries = sf.ValidationQueries
	}

	for _, spec := range specs {
		if err := store.ImportSeeds(ctx, spec.SeedRules()); err != nil {
			slog.Error("importing seed selectors",
				slog.String("site", spec.Key),
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}

	scrapers := make(map[string]scrape.SiteScraper, len(specs))
	for _, spec := range specs {
		s, err := scrape.NewSiteScraper(spec, cfg)
		if err != nil {
			slog.Error("initialising site scraper",
				slog.String("site", spec.Key),
				slog.Any("error", err),
			)
			os.Exit(1)
		}
		scrapers[spec.Key] = s
	}

	if *validateMode {
		if err := runValidation(ctx, store, cfg, specs, scrapers, validationQueries); err != nil {
			slog.Error("validation failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	metrics := scrape.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	manager := scrape.NewManager(cfg, store, metrics)
	for _, spec := range specs {
		if err := manager.Register(scrapers[spec.Key]); err != nil {
			slog.Error("registering site", slog.String("site", spec.Key), slog.Any("error", err))
			os.Exit(1)
		}
	}

	h, err := hub.NewFileHub(cfg.QueriesFile, cfg.OutputFile, cfg.OutputFormat)
	if err != nil {
		slog.Error("initialising hub", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := h.Close(); err != nil {
			slog.Error("closing hub", slog.Any("error", err))
		}
	}()

	queries, err := h.PendingQueries(ctx)
	if err != nil {
		slog.Error("loading queries", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("starting link collection",
		slog.Int("queries", len(queries)),
		slog.Int("sites", len(specs)),
		slog.Int("concurrency", cfg.MaxConcurrency),
	)

	startTime := time.Now()
	var processed, found, notFound, failed int
	for _, query := range queries {
		if ctx.Err() != nil {
			slog.Warn("stopping early", slog.Int("remaining", len(queries)-processed))
			break
		}
		batch, err := manager.Dispatch(ctx, query)
		if err != nil {
			slog.Error("dispatch failed",
				slog.String("query_id", query.ID),
				slog.Any("error", err),
			)
			failed++
			continue
		}
		if err := h.RecordResults(ctx, query, batch.Results); err != nil {
			slog.Error("recording results",
				slog.String("query_id", query.ID),
				slog.Any("error", err),
			)
			os.Exit(1)
		}
		processed++
		for _, res := range batch.Results {
			switch res.Outcome {
			case models.OutcomeFound:
				found++
			case models.OutcomeNotFound:
				notFound++
			default:
				failed++
			}
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(processed, len(queries), found, notFound, failed, time.Since(startTime), cfg.OutputFile)
}

// runValidation dry-runs the configured validation queries through every
// site's active rules and prints the health report.
func runValidation(ctx context.Context, store *selectors.Store, cfg *config.Config, specs []config.SiteConfig, scrapers map[string]scrape.SiteScraper, queries []string) error {
	if len(queries) == 0 {
		return fmt.Errorf("no validation queries configured (add validation_queries to the sites file)")
	}

	interval := cfg.Delay
	if interval <= 0 {
		interval = time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	kinds := []models.RuleKind{models.RuleResultList, models.RuleTitleField, models.RuleLinkField}
	for _, spec := range specs {
		s := scrapers[spec.Key]
		for _, kind := range kinds {
			report, err := store.Validate(ctx, spec.Key, kind, queries, limiter, probeFor(store, s, kind))
			if err != nil {
				return fmt.Errorf("validate %s/%s: %w", spec.Key, kind, err)
			}
			fmt.Printf("%-20s %-14s %s\n", spec.Key, kind, report.Status)
			for _, check := range report.Checks {
				fmt.Printf("    rule %-4d %-50q %d/%d\n", check.RuleID, check.Value, check.Hits, check.Queries)
			}
		}
	}
	return nil
}

// probeFor builds a probe that swaps one rule into an otherwise healthy
// selection, so each rule is judged on its own.
func probeFor(store *selectors.Store, s scrape.SiteScraper, kind models.RuleKind) selectors.ProbeFunc {
	return func(ctx context.Context, query string, rule models.SelectorRule) (bool, error) {
		sel := make(scrape.RuleSelection)
		for _, k := range []models.RuleKind{models.RuleResultList, models.RuleTitleField, models.RuleLinkField} {
			rules, err := store.ActiveRules(ctx, s.Site(), k)
			if err != nil {
				return false, err
			}
			if len(rules) == 0 {
				return false, fmt.Errorf("no active %s rules for %s", k, s.Site())
			}
			sel[k] = rules[0]
		}
		sel[kind] = rule

		candidates, err := s.Search(ctx, query, sel)
		if err != nil {
			var missing scrape.ErrElementNotFound
			if errors.As(err, &missing) {
				return false, nil
			}
			return false, err
		}
		return len(candidates) > 0, nil
	}
}

func printSummary(processed, total, found, notFound, failed int, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Link collection complete")
	fmt.Printf("  Queries:       %d/%d\n", processed, total)
	fmt.Printf("  Links found:   %d\n", found)
	fmt.Printf("  Not found:     %d\n", notFound)
	fmt.Printf("  Errors:        %d\n", failed)
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
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
