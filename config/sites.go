package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mizutanik/go-book-links/models"
)

// SelectorSeed is one configuration-supplied selector rule value.
type SelectorSeed struct {
	Value    string `yaml:"value"`
	Priority int    `yaml:"priority"`
}

// SiteConfig describes one storefront: where to search and which seed
// selectors to import. Selector values are opaque data here; only the
// selector store and goquery ever interpret them.
type SiteConfig struct {
	Key               string                    `yaml:"key"`
	Name              string                    `yaml:"name"`
	BaseURL           string                    `yaml:"base_url"`
	SearchURL         string                    `yaml:"search_url"` // %s for path-style terms
	QueryParam        string                    `yaml:"query_param"`
	ExtraParams       map[string]string         `yaml:"extra_params"`
	Publisher         string                    `yaml:"publisher"`
	PublisherSelector string                    `yaml:"publisher_selector"`
	PriceSelector     string                    `yaml:"price_selector"`
	Threshold         float64                   `yaml:"threshold"`
	Selectors         map[string][]SelectorSeed `yaml:"selectors"`
}

// SitesFile is the parsed site definitions document.
type SitesFile struct {
	ValidationQueries []string     `yaml:"validation_queries"`
	Sites             []SiteConfig `yaml:"sites"`
}

// LoadSites parses a YAML site definitions file.
func LoadSites(path string) (*SitesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	var sf SitesFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	for i := range sf.Sites {
		if err := sf.Sites[i].Validate(); err != nil {
			return nil, fmt.Errorf("site %d: %w", i, err)
		}
	}
	return &sf, nil
}

// Validate checks the site definition is usable.
func (sc *SiteConfig) Validate() error {
	if sc.Key == "" {
		return fmt.Errorf("site key cannot be empty")
	}
	if sc.BaseURL == "" {
		return fmt.Errorf("site %s: base URL cannot be empty", sc.Key)
	}
	if sc.SearchURL == "" {
		return fmt.Errorf("site %s: search URL cannot be empty", sc.Key)
	}
	if sc.Threshold < 0 || sc.Threshold > 1 {
		return fmt.Errorf("site %s: threshold must be in [0,1]", sc.Key)
	}
	for kind := range sc.Selectors {
		if !models.RuleKind(kind).Valid() {
			return fmt.Errorf("site %s: unknown selector kind %q", sc.Key, kind)
		}
	}
	return nil
}

// SeedRules flattens the site's configured selectors into store rules,
// ordered deterministically.
func (sc *SiteConfig) SeedRules() []models.SelectorRule {
	kinds := make([]string, 0, len(sc.Selectors))
	for kind := range sc.Selectors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var rules []models.SelectorRule
	for _, kind := range kinds {
		for _, seed := range sc.Selectors[kind] {
			rules = append(rules, models.SelectorRule{
				Site:     sc.Key,
				Kind:     models.RuleKind(kind),
				Value:    seed.Value,
				Priority: seed.Priority,
				Active:   true,
			})
		}
	}
	return rules
}

// DefaultSites returns the built-in definitions for the eleven supported
// storefronts, used when no sites file is given. Ten e-book stores plus the
// print-on-demand Amazon listing.
func DefaultSites() []SiteConfig {
	return []SiteConfig{
		{
			Key:               "amazon_kindle",
			Name:              "Amazon Kindle",
			BaseURL:           "https://www.amazon.co.jp",
			SearchURL:         "https://www.amazon.co.jp/s",
			QueryParam:        "k",
			ExtraParams:       map[string]string{"i": "digital-text"},
			PublisherSelector: "#detailBullets_feature_div",
			PriceSelector:     ".a-price .a-offscreen",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: "div[data-component-type=s-search-result]", Priority: 1},
					{Value: "div.s-result-item", Priority: 2},
				},
				"title_field": {
					{Value: "h2 a span", Priority: 1},
					{Value: "h2 span", Priority: 2},
				},
				"link_field": {
					{Value: "h2 a", Priority: 1},
					{Value: "a.a-link-normal.s-no-outline", Priority: 2},
				},
				"pagination": {
					{Value: "a.s-pagination-next", Priority: 1},
				},
			},
		},
		{
			Key:               "amazon_pod",
			Name:              "Amazon POD",
			BaseURL:           "https://www.amazon.co.jp",
			SearchURL:         "https://www.amazon.co.jp/s",
			QueryParam:        "k",
			ExtraParams:       map[string]string{"i": "stripbooks"},
			PublisherSelector: "#detailBullets_feature_div",
			PriceSelector:     ".a-price .a-offscreen",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: "div[data-component-type=s-search-result]", Priority: 1},
				},
				"title_field": {
					{Value: "h2 a span", Priority: 1},
				},
				"link_field": {
					{Value: "h2 a", Priority: 1},
				},
			},
		},
		{
			Key:           "bookwalker",
			Name:          "BOOK☆WALKER",
			BaseURL:       "https://bookwalker.jp",
			SearchURL:     "https://bookwalker.jp/search/",
			QueryParam:    "word",
			PriceSelector: ".m-book-item__price",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".m-tile", Priority: 1},
					{Value: ".o-contents-section__body li", Priority: 2},
				},
				"title_field": {
					{Value: ".m-book-item__title", Priority: 1},
					{Value: "h2.a-tile-ttl", Priority: 2},
				},
				"link_field": {
					{Value: "a.m-tile-link", Priority: 1},
					{Value: "a", Priority: 2},
				},
				"pagination": {
					{Value: "a.a-pager__next", Priority: 1},
				},
			},
		},
		{
			Key:           "ebookjapan",
			Name:          "ebookjapan",
			BaseURL:       "https://ebookjapan.yahoo.co.jp",
			SearchURL:     "https://ebookjapan.yahoo.co.jp/search/",
			QueryParam:    "keyword",
			PriceSelector: ".price",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".book-item", Priority: 1},
					{Value: "li.item", Priority: 2},
				},
				"title_field": {
					{Value: ".book-title", Priority: 1},
					{Value: ".title", Priority: 2},
				},
				"link_field": {
					{Value: "a.book-link", Priority: 1},
					{Value: "a", Priority: 2},
				},
			},
		},
		{
			Key:           "rakuten_kobo",
			Name:          "楽天Kobo",
			BaseURL:       "https://books.rakuten.co.jp",
			SearchURL:     "https://books.rakuten.co.jp/search",
			QueryParam:    "sitem",
			ExtraParams:   map[string]string{"g": "101"},
			PriceSelector: ".rbcomp__price",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".rbcomp__item-list__item", Priority: 1},
					{Value: ".rb-items li", Priority: 2},
				},
				"title_field": {
					{Value: ".rbcomp__item-list__item__title", Priority: 1},
					{Value: "h3 a", Priority: 2},
				},
				"link_field": {
					{Value: ".rbcomp__item-list__item__title a", Priority: 1},
					{Value: "h3 a", Priority: 2},
				},
			},
		},
		{
			Key:           "booklive",
			Name:          "BookLive",
			BaseURL:       "https://booklive.jp",
			SearchURL:     "https://booklive.jp/search/keyword/keyword/%s",
			PriceSelector: ".product_price",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".product_display_box", Priority: 1},
					{Value: "#search_result_box li", Priority: 2},
				},
				"title_field": {
					{Value: ".product_display_box_title", Priority: 1},
					{Value: ".book_title", Priority: 2},
				},
				"link_field": {
					{Value: "a.product_display_box_img", Priority: 1},
					{Value: "a", Priority: 2},
				},
			},
		},
		{
			Key:           "honto",
			Name:          "honto",
			BaseURL:       "https://honto.jp",
			SearchURL:     "https://honto.jp/netstore/search.html",
			QueryParam:    "k",
			ExtraParams:   map[string]string{"srchf": "1"},
			PriceSelector: ".stPrice",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".stProduct02", Priority: 1},
					{Value: ".stProduct", Priority: 2},
				},
				"title_field": {
					{Value: ".stTitle a", Priority: 1},
					{Value: "h3 a", Priority: 2},
				},
				"link_field": {
					{Value: ".stTitle a", Priority: 1},
					{Value: "h3 a", Priority: 2},
				},
			},
		},
		{
			Key:           "kinoppy",
			Name:          "紀伊國屋書店 Kinoppy",
			BaseURL:       "https://www.kinokuniya.co.jp",
			SearchURL:     "https://www.kinokuniya.co.jp/disp/CSfDispListPage_001.jsp",
			QueryParam:    "qs",
			PriceSelector: ".sell_price",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".list_area_wrap", Priority: 1},
					{Value: ".searchDetailBox", Priority: 2},
				},
				"title_field": {
					{Value: ".listTitle a", Priority: 1},
					{Value: "h3 a", Priority: 2},
				},
				"link_field": {
					{Value: ".listTitle a", Priority: 1},
					{Value: "h3 a", Priority: 2},
				},
			},
		},
		{
			Key:           "apple_books",
			Name:          "Apple Books",
			BaseURL:       "https://books.apple.com",
			SearchURL:     "https://books.apple.com/jp/search",
			QueryParam:    "term",
			PriceSelector: ".product-lockup__price",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".product-lockup", Priority: 1},
					{Value: "li.grid-item", Priority: 2},
				},
				"title_field": {
					{Value: ".product-lockup__title", Priority: 1},
					{Value: "h2", Priority: 2},
				},
				"link_field": {
					{Value: "a.product-lockup__link", Priority: 1},
					{Value: "a", Priority: 2},
				},
			},
		},
		{
			Key:           "google_play_books",
			Name:          "Google Play Books",
			BaseURL:       "https://play.google.com",
			SearchURL:     "https://play.google.com/store/search",
			QueryParam:    "q",
			ExtraParams:   map[string]string{"c": "books"},
			PriceSelector: ".VfPpfd",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: "div[role=listitem]", Priority: 1},
					{Value: ".ULeU3b", Priority: 2},
				},
				"title_field": {
					{Value: ".Epkrse", Priority: 1},
					{Value: ".DdYX5", Priority: 2},
				},
				"link_field": {
					{Value: "a.Si6A0c", Priority: 1},
					{Value: "a", Priority: 2},
				},
			},
		},
		{
			Key:           "reader_store",
			Name:          "Reader Store",
			BaseURL:       "https://ebookstore.sony.jp",
			SearchURL:     "https://ebookstore.sony.jp/search/",
			QueryParam:    "keyword",
			PriceSelector: ".item-price",
			Selectors: map[string][]SelectorSeed{
				"result_list": {
					{Value: ".book-item", Priority: 1},
					{Value: "li.search-result-item", Priority: 2},
				},
				"title_field": {
					{Value: ".book-item-title", Priority: 1},
					{Value: ".item-title", Priority: 2},
				},
				"link_field": {
					{Value: "a.book-item-link", Priority: 1},
					{Value: "a", Priority: 2},
				},
			},
		},
	}
}
