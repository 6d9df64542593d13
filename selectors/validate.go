package selectors

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/mizutanik/go-book-links/models"
)

// ValidationStatus summarises a dry-run health check.
type ValidationStatus string

const (
	ValidationPass    ValidationStatus = "pass"
	ValidationPartial ValidationStatus = "partial"
	ValidationFail    ValidationStatus = "fail"
)

// ProbeFunc runs one dry search with a specific rule and reports whether it
// produced a usable result.
type ProbeFunc func(ctx context.Context, query string, rule models.SelectorRule) (bool, error)

// RuleCheck is the per-rule tally of a validation run.
type RuleCheck struct {
	RuleID  int64
	Value   string
	Queries int
	Hits    int
}

// ValidationReport is the outcome of Validate for one (site, kind).
type ValidationReport struct {
	Site   string
	Kind   models.RuleKind
	Status ValidationStatus
	Checks []RuleCheck
}

// Validate dry-runs known-good queries against the live rules for
// (site, kind) to catch silent breakage before it reaches production
// batches. Probe failures are tallied, not propagated; the only errors
// returned are context cancellation and database faults. Probes are paced
// by the limiter when one is supplied.
func (s *Store) Validate(ctx context.Context, site string, kind models.RuleKind, testQueries []string, limiter *rate.Limiter, probe ProbeFunc) (*ValidationReport, error) {
	report := &ValidationReport{Site: site, Kind: kind, Status: ValidationFail}

	rules, err := s.ActiveRules(ctx, site, kind)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 || len(testQueries) == 0 {
		return report, nil
	}

	totalHits := 0
	for _, rule := range rules {
		check := RuleCheck{RuleID: rule.ID, Value: rule.Value, Queries: len(testQueries)}
		for _, q := range testQueries {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil, fmt.Errorf("validation pacing: %w", err)
				}
			}
			ok, err := probe(ctx, q, rule)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if ok {
				check.Hits++
				totalHits++
			}
		}
		report.Checks = append(report.Checks, check)
	}

	switch {
	case totalHits == len(rules)*len(testQueries):
		report.Status = ValidationPass
	case totalHits > 0:
		report.Status = ValidationPartial
	}
	return report, nil
}
