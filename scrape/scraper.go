// Package scrape implements the per-site scraping contract and the manager
// that fans one book query out across every registered site.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mizutanik/go-book-links/config"
	"github.com/mizutanik/go-book-links/models"
)

// RuleSelection is the concrete rule chosen per kind for a single attempt.
// The runner swaps individual entries when a rule triggers fallback.
type RuleSelection map[models.RuleKind]models.SelectorRule

// Verification is the outcome of a publisher check. Sites that expose no
// publisher signal yield VerifyUnverifiable, which is not a failure.
type Verification int

const (
	VerifyUnverifiable Verification = iota
	VerifyConfirmed
	VerifyMismatch
)

// SiteScraper is the capability contract one storefront adapter implements.
// Retry, fallback and matching logic live in the shared runner, not here.
type SiteScraper interface {
	// Site returns the stable site key used in results, rules and metrics.
	Site() string
	// Threshold returns the site's similarity cutoff, or 0 to use the
	// engine default.
	Threshold() float64
	// Search runs one site search and extracts candidate pages using the
	// given rules. An empty slice is a valid, non-error outcome only in the
	// sense that zero *usable* rows surface as ErrElementNotFound so the
	// caller can try a fallback rule.
	Search(ctx context.Context, term string, rules RuleSelection) ([]models.CandidatePage, error)
	// ExtractDetail fetches and parses one result page.
	ExtractDetail(ctx context.Context, pageURL string, rules RuleSelection) (*models.CandidatePage, error)
	// VerifyPublisher confirms the page belongs to the expected imprint
	// where the site exposes that signal.
	VerifyPublisher(ctx context.Context, page *models.CandidatePage) (Verification, error)
}

// siteScraper is the shared adapter implementation. The eleven supported
// sites differ only in their SiteConfig (endpoints, quirks, default
// selectors), never in retry or matching behaviour.
type siteScraper struct {
	spec       config.SiteConfig
	fetcher    *fetcher
	cache      *lru.Cache[string, models.CandidatePage]
	searchTerm func(term string) string
}

// NewSiteScraper builds the adapter for one configured site.
func NewSiteScraper(spec config.SiteConfig, cfg *config.Config) (SiteScraper, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	f, err := newFetcher(spec.Key, spec.BaseURL, cfg)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, models.CandidatePage](cfg.DetailCacheSize)
	if err != nil {
		return nil, fmt.Errorf("detail cache for %s: %w", spec.Key, err)
	}

	s := &siteScraper{spec: spec, fetcher: f, cache: cache}
	s.searchTerm = func(term string) string { return term }
	// Amazon search ranks far better with the imprint quoted alongside the
	// title; the other stores choke on the extra tokens.
	if strings.HasPrefix(spec.Key, "amazon") && spec.Publisher != "" {
		publisher := spec.Publisher
		s.searchTerm = func(term string) string {
			return fmt.Sprintf("%q %s", term, publisher)
		}
	}
	return s, nil
}

func (s *siteScraper) Site() string { return s.spec.Key }

func (s *siteScraper) Threshold() float64 { return s.spec.Threshold }

func (s *siteScraper) searchURL(term string) string {
	return s.buildSearchURL(s.searchTerm(term))
}

func (s *siteScraper) buildSearchURL(term string) string {
	if strings.Contains(s.spec.SearchURL, "%s") {
		return fmt.Sprintf(s.spec.SearchURL, url.PathEscape(term))
	}
	u, err := url.Parse(s.spec.SearchURL)
	if err != nil {
		return s.spec.SearchURL
	}
	q := u.Query()
	if s.spec.QueryParam != "" {
		q.Set(s.spec.QueryParam, term)
	}
	for k, v := range s.spec.ExtraParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *siteScraper) absoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, err := url.Parse(s.spec.BaseURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func (s *siteScraper) Search(ctx context.Context, term string, rules RuleSelection) ([]models.CandidatePage, error) {
	listRule, ok := rules[models.RuleResultList]
	if !ok {
		return nil, ErrConfiguration{Site: s.spec.Key, Kind: models.RuleResultList}
	}
	titleRule, ok := rules[models.RuleTitleField]
	if !ok {
		return nil, ErrConfiguration{Site: s.spec.Key, Kind: models.RuleTitleField}
	}
	linkRule, ok := rules[models.RuleLinkField]
	if !ok {
		return nil, ErrConfiguration{Site: s.spec.Key, Kind: models.RuleLinkField}
	}

	body, err := s.fetcher.Fetch(ctx, s.searchURL(term))
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ErrParse{Field: "document", Err: err}
	}

	items := doc.Find(listRule.Value)
	if items.Length() == 0 && s.searchTerm(term) != term {
		// A publisher-qualified query can over-constrain the search; one
		// plain retry before declaring the selector empty.
		body, err = s.fetcher.Fetch(ctx, s.buildSearchURL(term))
		if err != nil {
			return nil, err
		}
		doc, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, ErrParse{Field: "document", Err: err}
		}
		items = doc.Find(listRule.Value)
	}
	if items.Length() == 0 {
		return nil, ErrElementNotFound{Kind: models.RuleResultList, Selector: listRule.Value}
	}

	var candidates []models.CandidatePage
	sawTitle := false
	sawLink := false
	items.Each(func(_ int, item *goquery.Selection) {
		titleText := strings.TrimSpace(item.Find(titleRule.Value).First().Text())
		if titleText == "" {
			return
		}
		sawTitle = true

		href, ok := item.Find(linkRule.Value).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			// Some layouts make the result item itself the anchor.
			href, ok = item.Attr("href")
			if !ok {
				return
			}
		}
		pageURL := s.absoluteURL(href)
		if pageURL == "" {
			return
		}
		sawLink = true

		cand := models.CandidatePage{
			Site:  s.spec.Key,
			URL:   pageURL,
			Title: titleText,
		}
		if s.spec.PriceSelector != "" {
			cand.Price = strings.TrimSpace(item.Find(s.spec.PriceSelector).First().Text())
		}
		candidates = append(candidates, cand)
	})

	if !sawTitle {
		return nil, ErrElementNotFound{Kind: models.RuleTitleField, Selector: titleRule.Value}
	}
	if !sawLink {
		return nil, ErrElementNotFound{Kind: models.RuleLinkField, Selector: linkRule.Value}
	}
	return candidates, nil
}

func (s *siteScraper) ExtractDetail(ctx context.Context, pageURL string, rules RuleSelection) (*models.CandidatePage, error) {
	if cached, ok := s.cache.Get(pageURL); ok {
		page := cached
		return &page, nil
	}

	body, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ErrParse{Field: "document", Err: err}
	}

	title := ""
	titleSelector := "h1"
	if rule, ok := rules[models.RuleTitleField]; ok {
		titleSelector = rule.Value
		title = strings.TrimSpace(doc.Find(rule.Value).First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		return nil, ErrElementNotFound{Kind: models.RuleTitleField, Selector: titleSelector}
	}

	page := models.CandidatePage{
		Site:  s.spec.Key,
		URL:   pageURL,
		Title: title,
	}
	if s.spec.PriceSelector != "" {
		page.Price = strings.TrimSpace(doc.Find(s.spec.PriceSelector).First().Text())
	}
	if s.spec.PublisherSelector != "" {
		page.Publisher = strings.TrimSpace(doc.Find(s.spec.PublisherSelector).First().Text())
	}

	s.cache.Add(pageURL, page)
	result := page
	return &result, nil
}

func (s *siteScraper) VerifyPublisher(_ context.Context, page *models.CandidatePage) (Verification, error) {
	if s.spec.Publisher == "" || page == nil || page.Publisher == "" {
		return VerifyUnverifiable, nil
	}
	if strings.Contains(page.Publisher, s.spec.Publisher) {
		return VerifyConfirmed, nil
	}
	return VerifyMismatch, nil
}
