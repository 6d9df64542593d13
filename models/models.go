// Package models defines the data structures shared across the engine.
package models

import "time"

// RuleKind identifies which page element a selector rule locates.
type RuleKind string

const (
	RuleSearchInput RuleKind = "search_input"
	RuleResultList  RuleKind = "result_list"
	RuleTitleField  RuleKind = "title_field"
	RuleLinkField   RuleKind = "link_field"
	RulePagination  RuleKind = "pagination"
)

// RuleKinds lists every kind in a stable order.
var RuleKinds = []RuleKind{
	RuleSearchInput,
	RuleResultList,
	RuleTitleField,
	RuleLinkField,
	RulePagination,
}

// Valid reports whether k is a known rule kind.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleSearchInput, RuleResultList, RuleTitleField, RuleLinkField, RulePagination:
		return true
	}
	return false
}

// Outcome classifies the end state of one site scrape.
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
)

// BookQuery is one book lookup issued by the data hub. Immutable once issued.
type BookQuery struct {
	ID     string
	Title  string
	Author string
}

// CandidatePage is a single search hit produced during one attempt. Only the
// winning candidate outlives the matching decision.
type CandidatePage struct {
	Site       string
	URL        string
	Title      string
	Price      string
	Author     string
	Publisher  string
	Similarity float64
}

// SiteResult is the final outcome of scraping one site for one query.
// Immutable once returned by a scraper.
type SiteResult struct {
	Site        string
	Outcome     Outcome
	Page        *CandidatePage
	ErrorKind   string
	ErrorDetail string
	Attempts    int
	Elapsed     time.Duration
}

// RuleOutcome reports whether one selector rule produced a usable result
// during a scrape. The manager feeds these back into the selector store.
type RuleOutcome struct {
	RuleID  int64
	Kind    RuleKind
	Success bool
}

// SelectorRule is one site-specific extraction instruction. The value is
// opaque to the engine; priority orders the fallback chain (lower first).
type SelectorRule struct {
	ID          int64
	Site        string
	Kind        RuleKind
	Value       string
	Priority    int
	Active      bool
	SuccessRate float64
	LastUsed    time.Time
}

// SelectorChangeEntry is an append-only audit record for a rule mutation.
type SelectorChangeEntry struct {
	ID        int64
	RuleID    int64
	OldValue  string
	NewValue  string
	Reason    string
	ChangedAt time.Time
}
