// Package selectors is the single source of truth for which extraction rule
// each site scraper should try, in what order. Rules carry a priority chain
// for fallback and a moving-average success rate fed back from live scrapes.
package selectors

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/mizutanik/go-book-links/models"

	_ "modernc.org/sqlite"
)

// DefaultAlpha is the smoothing factor for the success-rate moving average.
const DefaultAlpha = 0.2

const schema = `
CREATE TABLE IF NOT EXISTS selector_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site TEXT NOT NULL,
	kind TEXT NOT NULL CHECK (kind IN ('search_input', 'result_list', 'title_field', 'link_field', 'pagination')),
	value TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	success_rate REAL NOT NULL DEFAULT 0,
	last_used TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (site, kind, priority)
);

CREATE TABLE IF NOT EXISTS selector_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL REFERENCES selector_rules(id),
	old_value TEXT NOT NULL DEFAULT '',
	new_value TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL,
	changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rules_site_kind ON selector_rules(site, kind, priority);
CREATE INDEX IF NOT EXISTS idx_changes_rule ON selector_changes(rule_id);
`

// Store persists selector rules and their change history in SQLite.
// Reads may run concurrently; writes are serialized per site so the
// moving-average update stays race-free without a global lock.
type Store struct {
	db    *sql.DB
	alpha float64

	mu     sync.Mutex
	siteMu map[string]*sync.Mutex
}

// Open opens (creating if needed) the rule database at path. An alpha of 0
// selects DefaultAlpha.
func Open(path string, alpha float64) (*Store, error) {
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha must be in [0,1], got %v", alpha)
	}
	if alpha == 0 {
		alpha = DefaultAlpha
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rule database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise rule schema: %w", err)
	}

	return &Store{
		db:     db,
		alpha:  alpha,
		siteMu: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) siteLock(site string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.siteMu[site]
	if !ok {
		m = &sync.Mutex{}
		s.siteMu[site] = m
	}
	return m
}

// ActiveRules returns the active rules for (site, kind) ordered by priority,
// lowest first. An empty slice is a valid answer; callers degrade to a
// not-found outcome rather than failing.
func (s *Store) ActiveRules(ctx context.Context, site string, kind models.RuleKind) ([]models.SelectorRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site, kind, value, priority, active, success_rate, COALESCE(last_used, '')
		FROM selector_rules
		WHERE site = ? AND kind = ? AND active = 1
		ORDER BY priority ASC`,
		site, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}
	defer rows.Close()

	var rules []models.SelectorRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Rule fetches a single rule by id, active or not.
func (s *Store) Rule(ctx context.Context, id int64) (models.SelectorRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site, kind, value, priority, active, success_rate, COALESCE(last_used, '')
		FROM selector_rules WHERE id = ?`, id)
	return scanRule(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(r rowScanner) (models.SelectorRule, error) {
	var rule models.SelectorRule
	var kind string
	var active int
	var lastUsed string
	if err := r.Scan(&rule.ID, &rule.Site, &kind, &rule.Value, &rule.Priority, &active, &rule.SuccessRate, &lastUsed); err != nil {
		return models.SelectorRule{}, fmt.Errorf("scan rule: %w", err)
	}
	rule.Kind = models.RuleKind(kind)
	rule.Active = active != 0
	if lastUsed != "" {
		if ts, err := time.Parse(time.RFC3339, lastUsed); err == nil {
			rule.LastUsed = ts
		}
	}
	return rule, nil
}

// RecordOutcome folds one observed success or failure into the rule's
// moving average: rate' = alpha*x + (1-alpha)*rate. It never reorders
// priorities; that stays an operator decision.
func (s *Store) RecordOutcome(ctx context.Context, ruleID int64, success bool) error {
	rule, err := s.Rule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("record outcome for rule %d: %w", ruleID, err)
	}

	lock := s.siteLock(rule.Site)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so concurrent updates fold in order.
	rule, err = s.Rule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("record outcome for rule %d: %w", ruleID, err)
	}

	x := 0.0
	if success {
		x = 1.0
	}
	rate := s.alpha*x + (1-s.alpha)*rule.SuccessRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE selector_rules
		SET success_rate = ?, last_used = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		rate, time.Now().UTC().Format(time.RFC3339), ruleID,
	)
	if err != nil {
		return fmt.Errorf("update success rate: %w", err)
	}
	return nil
}

// UpsertRule inserts the rule, or updates the value and active flag of the
// existing rule at the same (site, kind, priority) slot. Every mutation
// appends a change entry capturing the before/after value and reason.
func (s *Store) UpsertRule(ctx context.Context, rule models.SelectorRule, reason string) (int64, error) {
	if rule.Site == "" {
		return 0, fmt.Errorf("rule site cannot be empty")
	}
	if !rule.Kind.Valid() {
		return 0, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
	if rule.Value == "" {
		return 0, fmt.Errorf("rule value cannot be empty")
	}

	lock := s.siteLock(rule.Site)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var oldValue string
	err = tx.QueryRowContext(ctx, `
		SELECT id, value FROM selector_rules
		WHERE site = ? AND kind = ? AND priority = ?`,
		rule.Site, string(rule.Kind), rule.Priority,
	).Scan(&id, &oldValue)

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO selector_rules (site, kind, value, priority, active, success_rate)
			VALUES (?, ?, ?, ?, 1, 0)`,
			rule.Site, string(rule.Kind), rule.Value, rule.Priority,
		)
		if err != nil {
			return 0, fmt.Errorf("insert rule: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("rule id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("lookup rule slot: %w", err)
	default:
		if oldValue == rule.Value {
			// Reactivation still needs an audit trail.
			var active int
			if err := tx.QueryRowContext(ctx, `SELECT active FROM selector_rules WHERE id = ?`, id).Scan(&active); err != nil {
				return 0, fmt.Errorf("lookup rule state: %w", err)
			}
			if active != 0 {
				return id, tx.Commit()
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE selector_rules
			SET value = ?, active = 1, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			rule.Value, id,
		); err != nil {
			return 0, fmt.Errorf("update rule: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO selector_changes (rule_id, old_value, new_value, reason)
		VALUES (?, ?, ?, ?)`,
		id, oldValue, rule.Value, reason,
	); err != nil {
		return 0, fmt.Errorf("append change entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return id, nil
}

// DeactivateRule takes the rule out of the fallback rotation. The row is
// kept; change history must stay resolvable.
func (s *Store) DeactivateRule(ctx context.Context, ruleID int64, reason string) error {
	rule, err := s.Rule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("deactivate rule %d: %w", ruleID, err)
	}

	lock := s.siteLock(rule.Site)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE selector_rules SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		ruleID,
	); err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO selector_changes (rule_id, old_value, new_value, reason)
		VALUES (?, ?, '', ?)`,
		ruleID, rule.Value, reason,
	); err != nil {
		return fmt.Errorf("append change entry: %w", err)
	}
	return tx.Commit()
}

// History returns the append-only change log for a rule, oldest first.
func (s *Store) History(ctx context.Context, ruleID int64) ([]models.SelectorChangeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, old_value, new_value, reason, changed_at
		FROM selector_changes WHERE rule_id = ? ORDER BY id ASC`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.SelectorChangeEntry
	for rows.Next() {
		var e models.SelectorChangeEntry
		var changedAt string
		if err := rows.Scan(&e.ID, &e.RuleID, &e.OldValue, &e.NewValue, &e.Reason, &changedAt); err != nil {
			return nil, fmt.Errorf("scan change entry: %w", err)
		}
		if ts, err := time.Parse("2006-01-02 15:04:05", changedAt); err == nil {
			e.ChangedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImportSeeds upserts configuration-supplied rules, typically at startup.
func (s *Store) ImportSeeds(ctx context.Context, seeds []models.SelectorRule) error {
	for _, seed := range seeds {
		if _, err := s.UpsertRule(ctx, seed, "config import"); err != nil {
			return fmt.Errorf("import seed %s/%s[%d]: %w", seed.Site, seed.Kind, seed.Priority, err)
		}
	}
	return nil
}
