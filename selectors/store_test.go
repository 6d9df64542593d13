package selectors

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"golang.org/x/time/rate"

	"github.com/mizutanik/go-book-links/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "selectors.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRule(t *testing.T, store *Store, site string, kind models.RuleKind, value string, priority int) int64 {
	t.Helper()
	id, err := store.UpsertRule(context.Background(), models.SelectorRule{
		Site:     site,
		Kind:     kind,
		Value:    value,
		Priority: priority,
	}, "test seed")
	if err != nil {
		t.Fatalf("upsert %s/%s[%d]: %v", site, kind, priority, err)
	}
	return id
}

func TestActiveRulesPriorityOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seedRule(t, store, "bookwalker", models.RuleResultList, ".m-tile", 2)
	seedRule(t, store, "bookwalker", models.RuleResultList, ".o-card-list li", 1)
	seedRule(t, store, "bookwalker", models.RuleResultList, "li.book-item", 3)
	seedRule(t, store, "bookwalker", models.RuleTitleField, "h2.title", 1)
	seedRule(t, store, "honto", models.RuleResultList, ".stProduct", 1)

	rules, err := store.ActiveRules(ctx, "bookwalker", models.RuleResultList)
	if err != nil {
		t.Fatalf("active rules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}
	for i, want := range []string{".o-card-list li", ".m-tile", "li.book-item"} {
		if rules[i].Value != want {
			t.Fatalf("rules[%d].Value = %q, want %q", i, rules[i].Value, want)
		}
	}
}

func TestFallbackOrderingAfterDeactivation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := seedRule(t, store, "honto", models.RuleLinkField, "a.primary", 1)
	seedRule(t, store, "honto", models.RuleLinkField, "a.secondary", 2)
	seedRule(t, store, "honto", models.RuleLinkField, "a.tertiary", 3)

	if err := store.DeactivateRule(ctx, first, "markup changed 2026-08"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	rules, err := store.ActiveRules(ctx, "honto", models.RuleLinkField)
	if err != nil {
		t.Fatalf("active rules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Value != "a.secondary" || rules[1].Value != "a.tertiary" {
		t.Fatalf("fallback order = [%q %q], want [a.secondary a.tertiary]", rules[0].Value, rules[1].Value)
	}
}

func TestRecordOutcomeMovingAverage(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id := seedRule(t, store, "ebookjapan", models.RuleTitleField, ".book-title", 1)

	steps := []struct {
		success bool
		want    float64
	}{
		{success: true, want: 0.2},
		{success: true, want: 0.36},
		{success: false, want: 0.288},
	}
	for i, step := range steps {
		if err := store.RecordOutcome(ctx, id, step.success); err != nil {
			t.Fatalf("record outcome %d: %v", i, err)
		}
		rule, err := store.Rule(ctx, id)
		if err != nil {
			t.Fatalf("fetch rule: %v", err)
		}
		if math.Abs(rule.SuccessRate-step.want) > 1e-9 {
			t.Fatalf("step %d: success rate = %v, want %v", i, rule.SuccessRate, step.want)
		}
		if rule.SuccessRate < 0 || rule.SuccessRate > 1 {
			t.Fatalf("step %d: success rate %v out of [0,1]", i, rule.SuccessRate)
		}
		if rule.LastUsed.IsZero() {
			t.Fatalf("step %d: last_used not set", i)
		}
	}
}

func TestUpsertRuleRecordsHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id := seedRule(t, store, "kinoppy", models.RuleSearchInput, "#searchbox", 1)

	if _, err := store.UpsertRule(ctx, models.SelectorRule{
		Site:     "kinoppy",
		Kind:     models.RuleSearchInput,
		Value:    "input[name=q]",
		Priority: 1,
	}, "site redesign"); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	entries, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d history entries, want 2", len(entries))
	}
	if entries[0].OldValue != "" || entries[0].NewValue != "#searchbox" {
		t.Fatalf("seed entry = %+v", entries[0])
	}
	if entries[1].OldValue != "#searchbox" || entries[1].NewValue != "input[name=q]" || entries[1].Reason != "site redesign" {
		t.Fatalf("update entry = %+v", entries[1])
	}

	rule, err := store.Rule(ctx, id)
	if err != nil {
		t.Fatalf("fetch rule: %v", err)
	}
	if rule.Value != "input[name=q]" || !rule.Active {
		t.Fatalf("rule after update = %+v", rule)
	}
}

func TestUpsertRuleRejectsInvalid(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	cases := []models.SelectorRule{
		{Site: "", Kind: models.RuleTitleField, Value: "x"},
		{Site: "honto", Kind: models.RuleKind("bogus"), Value: "x"},
		{Site: "honto", Kind: models.RuleTitleField, Value: ""},
	}
	for i, rule := range cases {
		if _, err := store.UpsertRule(ctx, rule, "test"); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, rule)
		}
	}
}

func TestDeactivationKeepsHistoryResolvable(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id := seedRule(t, store, "booklive", models.RulePagination, "a.next", 1)
	if err := store.RecordOutcome(ctx, id, true); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if err := store.DeactivateRule(ctx, id, "pagination removed"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	// The row survives deactivation so history lookups keep working.
	rule, err := store.Rule(ctx, id)
	if err != nil {
		t.Fatalf("rule after deactivation: %v", err)
	}
	if rule.Active {
		t.Fatalf("rule still active after deactivation")
	}
	entries, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d history entries, want 2", len(entries))
	}
	if entries[1].OldValue != "a.next" || entries[1].Reason != "pagination removed" {
		t.Fatalf("deactivation entry = %+v", entries[1])
	}
}

func TestValidateStatuses(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	good := seedRule(t, store, "rakuten_kobo", models.RuleResultList, ".rbcomp__item", 1)
	seedRule(t, store, "rakuten_kobo", models.RuleResultList, ".old-item", 2)

	queries := []string{"転生したらスライムだった件④", "葬送のフリーレン"}
	limiter := rate.NewLimiter(rate.Inf, 1)

	t.Run("partial", func(t *testing.T) {
		report, err := store.Validate(ctx, "rakuten_kobo", models.RuleResultList, queries, limiter,
			func(_ context.Context, _ string, rule models.SelectorRule) (bool, error) {
				return rule.ID == good, nil
			})
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if report.Status != ValidationPartial {
			t.Fatalf("status = %s, want partial", report.Status)
		}
	})

	t.Run("pass", func(t *testing.T) {
		report, err := store.Validate(ctx, "rakuten_kobo", models.RuleResultList, queries, limiter,
			func(context.Context, string, models.SelectorRule) (bool, error) { return true, nil })
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if report.Status != ValidationPass {
			t.Fatalf("status = %s, want pass", report.Status)
		}
	})

	t.Run("fail on probe errors", func(t *testing.T) {
		report, err := store.Validate(ctx, "rakuten_kobo", models.RuleResultList, queries, limiter,
			func(context.Context, string, models.SelectorRule) (bool, error) {
				return false, errors.New("network down")
			})
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if report.Status != ValidationFail {
			t.Fatalf("status = %s, want fail", report.Status)
		}
	})

	t.Run("fail without rules", func(t *testing.T) {
		report, err := store.Validate(ctx, "no_such_site", models.RuleResultList, queries, limiter,
			func(context.Context, string, models.SelectorRule) (bool, error) { return true, nil })
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if report.Status != ValidationFail {
			t.Fatalf("status = %s, want fail", report.Status)
		}
	})
}

func TestConcurrentRecordOutcome(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id := seedRule(t, store, "reader_store", models.RuleLinkField, "a.item-link", 1)

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(success bool) {
			done <- store.RecordOutcome(ctx, id, success)
		}(i%2 == 0)
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent record outcome: %v", err)
		}
	}

	rule, err := store.Rule(ctx, id)
	if err != nil {
		t.Fatalf("fetch rule: %v", err)
	}
	if rule.SuccessRate < 0 || rule.SuccessRate > 1 {
		t.Fatalf("success rate %v out of [0,1]", rule.SuccessRate)
	}
}
