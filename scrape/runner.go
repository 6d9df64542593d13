package scrape

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/mizutanik/go-book-links/config"
	"github.com/mizutanik/go-book-links/models"
	"github.com/mizutanik/go-book-links/selectors"
	"github.com/mizutanik/go-book-links/title"
)

// Detail pages are only fetched for the best few matches; anything past
// that is markup noise, not a plausible winner.
const maxDetailChecks = 3

// searchKinds are the rule kinds every search attempt needs resolved.
var searchKinds = []models.RuleKind{
	models.RuleResultList,
	models.RuleTitleField,
	models.RuleLinkField,
}

// Runner drives one site scrape through its attempt state machine:
// Idle -> Searching -> Matching -> {Found | NotFound | Error}. The matching
// state re-enters searching only through selector fallback, bounded by the
// number of active rules per kind. Retry, backoff and error classification
// are shared across all sites; adapters only search and extract.
type Runner struct {
	store   *selectors.Store
	cfg     *config.Config
	metrics *Metrics
}

// NewRunner builds the shared per-site scrape driver.
func NewRunner(store *selectors.Store, cfg *config.Config, metrics *Metrics) *Runner {
	return &Runner{store: store, cfg: cfg, metrics: metrics}
}

// Run scrapes one site for one query. It never returns an error: every
// failure mode is folded into the SiteResult. The returned rule outcomes
// are the per-rule success observations for the selector store.
func (r *Runner) Run(ctx context.Context, s SiteScraper, query models.BookQuery) (models.SiteResult, []models.RuleOutcome) {
	start := time.Now()
	site := s.Site()
	res := models.SiteResult{Site: site, Outcome: models.OutcomeNotFound}
	var outcomes []models.RuleOutcome

	finish := func() (models.SiteResult, []models.RuleOutcome) {
		res.Elapsed = time.Since(start)
		r.metrics.ObserveScrape(site, string(res.Outcome), res.Elapsed)
		if res.Outcome == models.OutcomeError {
			r.metrics.IncError(site, res.ErrorKind)
		}
		return res, outcomes
	}
	fail := func(err error) (models.SiteResult, []models.RuleOutcome) {
		res.Outcome = models.OutcomeError
		res.ErrorKind = errorKindLabel(err)
		res.ErrorDetail = err.Error()
		return finish()
	}

	// Resolve the fallback chains up front. A missing chain is a
	// configuration problem that degrades to not-found; validation reports
	// are where operators find out, not scrape-time crashes.
	chains := make(map[models.RuleKind][]models.SelectorRule, len(searchKinds))
	for _, kind := range searchKinds {
		rules, err := r.store.ActiveRules(ctx, site, kind)
		if err != nil {
			slog.Error("selector lookup failed",
				slog.String("site", site),
				slog.String("kind", string(kind)),
				slog.Any("error", err),
			)
			r.metrics.IncError(site, "configuration")
			return finish()
		}
		if len(rules) == 0 {
			slog.Warn("no active selector rules",
				slog.String("site", site),
				slog.String("kind", string(kind)),
			)
			r.metrics.IncError(site, "configuration")
			return finish()
		}
		chains[kind] = rules
	}

	idx := make(map[models.RuleKind]int, len(chains))
	selection := func() RuleSelection {
		sel := make(RuleSelection, len(chains))
		for kind, rules := range chains {
			sel[kind] = rules[idx[kind]]
		}
		return sel
	}

	threshold := s.Threshold()
	if threshold <= 0 {
		threshold = r.cfg.MatchThreshold
	}

variants:
	for _, term := range title.Variants(query.Title) {
		attempt := 0
		for {
			// Cancellation is cooperative: checked at every retry boundary
			// and before every navigation.
			if ctx.Err() != nil {
				return fail(ErrTimeout{Err: ctx.Err()})
			}

			res.Attempts++
			r.metrics.IncAttempt(site)
			sel := selection()

			candidates, err := s.Search(ctx, term, sel)
			if err == nil {
				for kind, rule := range sel {
					outcomes = append(outcomes, models.RuleOutcome{RuleID: rule.ID, Kind: kind, Success: true})
				}
				r.metrics.AddCandidates(site, len(candidates))

				winner, werr := r.pickWinner(ctx, s, sel, query, candidates, threshold)
				if werr != nil {
					return fail(werr)
				}
				if winner != nil {
					res.Outcome = models.OutcomeFound
					res.Page = winner
					return finish()
				}
				continue variants // no match for this term, try the next one
			}

			var missing ErrElementNotFound
			switch {
			case terminal(err):
				return fail(err)

			case errors.As(err, &missing):
				rule := chains[missing.Kind][idx[missing.Kind]]
				outcomes = append(outcomes, models.RuleOutcome{RuleID: rule.ID, Kind: missing.Kind, Success: false})
				if idx[missing.Kind]+1 < len(chains[missing.Kind]) {
					idx[missing.Kind]++
					r.metrics.IncFallback(site, string(missing.Kind))
					slog.Debug("selector fallback",
						slog.String("site", site),
						slog.String("kind", string(missing.Kind)),
						slog.String("next", chains[missing.Kind][idx[missing.Kind]].Value),
					)
					continue // same term, next-priority rule
				}
				// Chain exhausted: indistinguishable from a page with no
				// results, so this term yields nothing.
				continue variants

			case retryable(err):
				attempt++
				if attempt >= r.cfg.MaxAttempts {
					return fail(err)
				}
				r.metrics.IncRetry(site)
				delay := r.backoff(attempt)
				slog.Debug("retrying after transient error",
					slog.String("site", site),
					slog.Int("attempt", attempt),
					slog.Duration("delay", delay),
					slog.Any("error", err),
				)
				select {
				case <-ctx.Done():
					return fail(ErrTimeout{Err: ctx.Err()})
				case <-time.After(delay):
				}

			default:
				var parse ErrParse
				if errors.As(err, &parse) {
					// Unusable page, not a site failure.
					continue variants
				}
				var misconfigured ErrConfiguration
				if errors.As(err, &misconfigured) {
					r.metrics.IncError(site, "configuration")
					return finish()
				}
				return fail(err)
			}
		}
	}

	return finish()
}

// pickWinner scores the candidates, then walks the best matches through
// detail extraction and publisher verification. A publisher mismatch moves
// on to the next match; an unverifiable signal passes the candidate through.
func (r *Runner) pickWinner(ctx context.Context, s SiteScraper, sel RuleSelection, query models.BookQuery, candidates []models.CandidatePage, threshold float64) (*models.CandidatePage, error) {
	var matched []models.CandidatePage
	for _, cand := range candidates {
		cand.Similarity = title.Similarity(query.Title, cand.Title)
		if title.IsMatch(query.Title, cand.Title, threshold) {
			matched = append(matched, cand)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Similarity > matched[j].Similarity
	})
	if len(matched) > maxDetailChecks {
		matched = matched[:maxDetailChecks]
	}

	for i := range matched {
		cand := matched[i]
		if ctx.Err() != nil {
			return nil, ErrTimeout{Err: ctx.Err()}
		}

		detail, err := s.ExtractDetail(ctx, cand.URL, sel)
		if err != nil {
			if terminal(err) {
				return nil, err
			}
			// The search hit itself is still a usable link; detail data is
			// a bonus, not a requirement.
			slog.Debug("detail extraction failed",
				slog.String("site", cand.Site),
				slog.String("url", cand.URL),
				slog.Any("error", err),
			)
			return &cand, nil
		}

		if detail.Price != "" {
			cand.Price = detail.Price
		}
		cand.Publisher = detail.Publisher

		verdict, err := s.VerifyPublisher(ctx, &cand)
		if err != nil {
			return &cand, nil
		}
		if verdict == VerifyMismatch {
			slog.Debug("publisher mismatch, trying next candidate",
				slog.String("site", cand.Site),
				slog.String("url", cand.URL),
			)
			continue
		}
		return &cand, nil
	}
	return nil, nil
}

func (r *Runner) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := r.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if max := r.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
