package scrape

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraping engine.
type Metrics struct {
	Registry           *prometheus.Registry
	ScrapesTotal       *prometheus.CounterVec
	AttemptsTotal      *prometheus.CounterVec
	RetriesTotal       *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	ScrapeDuration     *prometheus.HistogramVec
	CandidatesObserved *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	scrapes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklinks_scrapes_total",
			Help: "Completed site scrapes by outcome.",
		},
		[]string{"site", "outcome"},
	)
	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklinks_attempts_total",
			Help: "Search attempts issued against sites.",
		},
		[]string{"site"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklinks_retries_total",
			Help: "Backoff retries scheduled after transient failures.",
		},
		[]string{"site"},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklinks_selector_fallbacks_total",
			Help: "Selector fallback transitions by rule kind.",
		},
		[]string{"site", "kind"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklinks_errors_total",
			Help: "Scrape errors by classified kind.",
		},
		[]string{"site", "error_kind"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booklinks_scrape_duration_seconds",
			Help:    "Wall-clock duration of one site scrape.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"site"},
	)
	candidates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklinks_candidates_total",
			Help: "Candidate pages extracted from search results.",
		},
		[]string{"site"},
	)

	registry.MustRegister(scrapes, attempts, retries, fallbacks, errorsTotal, duration, candidates)

	return &Metrics{
		Registry:           registry,
		ScrapesTotal:       scrapes,
		AttemptsTotal:      attempts,
		RetriesTotal:       retries,
		FallbacksTotal:     fallbacks,
		ErrorsTotal:        errorsTotal,
		ScrapeDuration:     duration,
		CandidatesObserved: candidates,
	}
}

// ObserveScrape records a finished site scrape.
func (m *Metrics) ObserveScrape(site, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapesTotal.WithLabelValues(site, outcome).Inc()
	m.ScrapeDuration.WithLabelValues(site).Observe(d.Seconds())
}

// IncAttempt counts one search attempt against a site.
func (m *Metrics) IncAttempt(site string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(site).Inc()
}

// IncRetry counts a scheduled backoff retry.
func (m *Metrics) IncRetry(site string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(site).Inc()
}

// IncFallback counts a selector fallback transition.
func (m *Metrics) IncFallback(site, kind string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(site, kind).Inc()
}

// IncError counts a classified scrape error.
func (m *Metrics) IncError(site, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(site, kind).Inc()
}

// AddCandidates counts extracted candidate pages.
func (m *Metrics) AddCandidates(site string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CandidatesObserved.WithLabelValues(site).Add(float64(n))
}
