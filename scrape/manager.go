package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mizutanik/go-book-links/config"
	"github.com/mizutanik/go-book-links/models"
	"github.com/mizutanik/go-book-links/selectors"
)

// BatchResult aggregates one query's scrape across every registered site.
// Results holds exactly one entry per registered site, in registration order.
type BatchResult struct {
	Query   models.BookQuery
	Results []models.SiteResult
}

// BySite returns the result for one site key.
func (b *BatchResult) BySite(site string) (models.SiteResult, bool) {
	for _, res := range b.Results {
		if res.Site == site {
			return res, true
		}
	}
	return models.SiteResult{}, false
}

// Found returns the results that carry a purchase link.
func (b *BatchResult) Found() []models.SiteResult {
	var found []models.SiteResult
	for _, res := range b.Results {
		if res.Outcome == models.OutcomeFound {
			found = append(found, res)
		}
	}
	return found
}

// Manager fans one query out across all registered sites with bounded
// concurrency. One slow or broken site never blocks the others past the
// batch timeout, and every dispatch yields a complete result set.
type Manager struct {
	cfg      *config.Config
	store    *selectors.Store
	metrics  *Metrics
	runner   *Runner
	scrapers []SiteScraper
	sites    map[string]struct{}
}

// NewManager builds an empty manager; sites attach through Register.
func NewManager(cfg *config.Config, store *selectors.Store, metrics *Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		runner:  NewRunner(store, cfg, metrics),
		sites:   make(map[string]struct{}),
	}
}

// Register adds a site scraper. Registration order is the order results come
// back in. Registering the same site key twice is a programming error.
func (m *Manager) Register(s SiteScraper) error {
	site := s.Site()
	if site == "" {
		return fmt.Errorf("site scraper has an empty site key")
	}
	if _, dup := m.sites[site]; dup {
		return fmt.Errorf("site %s is already registered", site)
	}
	m.sites[site] = struct{}{}
	m.scrapers = append(m.scrapers, s)
	return nil
}

// Sites returns the registered site keys in registration order.
func (m *Manager) Sites() []string {
	keys := make([]string, len(m.scrapers))
	for i, s := range m.scrapers {
		keys[i] = s.Site()
	}
	return keys
}

// Dispatch scrapes every registered site for one query. It blocks until all
// sites finish or the batch timeout elapses; sites still running at the
// deadline surface as timeout errors in their slot. The returned batch always
// has one result per registered site.
func (m *Manager) Dispatch(ctx context.Context, query models.BookQuery) (*BatchResult, error) {
	if query.ID == "" {
		return nil, fmt.Errorf("query id cannot be empty")
	}
	if query.Title == "" {
		return nil, fmt.Errorf("query %s: title cannot be empty", query.ID)
	}
	if len(m.scrapers) == 0 {
		return nil, fmt.Errorf("no sites registered")
	}

	batchCtx, cancel := context.WithTimeout(ctx, m.cfg.BatchTimeout)
	defer cancel()

	slog.Info("dispatching query",
		slog.String("query_id", query.ID),
		slog.String("title", query.Title),
		slog.Int("sites", len(m.scrapers)),
	)

	results := make([]models.SiteResult, len(m.scrapers))
	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(m.cfg.MaxConcurrency)

	for i, s := range m.scrapers {
		i, s := i, s
		g.Go(func() error {
			results[i] = m.scrapeSite(gctx, s, query)
			return nil
		})
	}
	// Workers never return errors; failures live in their result slots.
	_ = g.Wait()

	for i, s := range m.scrapers {
		if results[i].Site == "" {
			// Slot never ran (queued behind the limit when the deadline hit).
			results[i] = models.SiteResult{
				Site:        s.Site(),
				Outcome:     models.OutcomeError,
				ErrorKind:   "timeout",
				ErrorDetail: "batch deadline elapsed before site started",
			}
		}
	}

	batch := &BatchResult{Query: query, Results: results}
	slog.Info("query complete",
		slog.String("query_id", query.ID),
		slog.Int("found", len(batch.Found())),
		slog.Int("sites", len(results)),
	)
	return batch, nil
}

// scrapeSite runs one site and persists its rule observations. A panic in a
// site adapter is contained to that site's slot.
func (m *Manager) scrapeSite(ctx context.Context, s SiteScraper, query models.BookQuery) (res models.SiteResult) {
	site := s.Site()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("site scraper panicked",
				slog.String("site", site),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			res = models.SiteResult{
				Site:        site,
				Outcome:     models.OutcomeError,
				ErrorKind:   "other",
				ErrorDetail: fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	start := time.Now()
	res, outcomes := m.runner.Run(ctx, s, query)

	// Observations are written even when the batch deadline already fired;
	// the success rates should reflect what actually happened.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, outcome := range outcomes {
		if err := m.store.RecordOutcome(recordCtx, outcome.RuleID, outcome.Success); err != nil {
			slog.Warn("recording rule outcome failed",
				slog.String("site", site),
				slog.Int64("rule_id", outcome.RuleID),
				slog.Any("error", err),
			)
		}
	}

	slog.Debug("site finished",
		slog.String("site", site),
		slog.String("query_id", query.ID),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("attempts", res.Attempts),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res
}
