package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mizutanik/go-book-links/models"
)

func TestLoadSites(t *testing.T) {
	content := `
validation_queries:
  - ダンジョン飯
  - 薬屋のひとりごと
sites:
  - key: testbooks
    name: Test Books
    base_url: https://books.example.com
    search_url: https://books.example.com/search
    query_param: q
    publisher: KADOKAWA
    threshold: 0.8
    selectors:
      result_list:
        - value: li.item
          priority: 1
        - value: div.result
          priority: 2
      title_field:
        - value: h3 a
          priority: 1
      link_field:
        - value: h3 a
          priority: 1
`
	path := filepath.Join(t.TempDir(), "sites.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sites file: %v", err)
	}

	sf, err := LoadSites(path)
	if err != nil {
		t.Fatalf("load sites: %v", err)
	}
	if len(sf.ValidationQueries) != 2 {
		t.Errorf("validation queries = %d, want 2", len(sf.ValidationQueries))
	}
	if len(sf.Sites) != 1 {
		t.Fatalf("sites = %d, want 1", len(sf.Sites))
	}

	site := sf.Sites[0]
	if site.Key != "testbooks" || site.Publisher != "KADOKAWA" {
		t.Errorf("site = %+v", site)
	}
	if site.Threshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", site.Threshold)
	}
	if len(site.Selectors["result_list"]) != 2 {
		t.Errorf("result_list seeds = %d, want 2", len(site.Selectors["result_list"]))
	}
}

func TestLoadSitesRejectsUnknownKind(t *testing.T) {
	content := `
sites:
  - key: testbooks
    base_url: https://books.example.com
    search_url: https://books.example.com/search
    selectors:
      mystery_kind:
        - value: .x
          priority: 1
`
	path := filepath.Join(t.TempDir(), "sites.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sites file: %v", err)
	}
	if _, err := LoadSites(path); err == nil {
		t.Fatal("LoadSites accepted an unknown selector kind")
	}
}

func TestSiteConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SiteConfig)
		wantErr bool
	}{
		{"valid", func(*SiteConfig) {}, false},
		{"empty key", func(sc *SiteConfig) { sc.Key = "" }, true},
		{"empty base url", func(sc *SiteConfig) { sc.BaseURL = "" }, true},
		{"empty search url", func(sc *SiteConfig) { sc.SearchURL = "" }, true},
		{"threshold out of range", func(sc *SiteConfig) { sc.Threshold = 1.5 }, true},
		{"zero threshold means default", func(sc *SiteConfig) { sc.Threshold = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := SiteConfig{
				Key:       "testbooks",
				BaseURL:   "https://books.example.com",
				SearchURL: "https://books.example.com/search",
				Threshold: 0.8,
			}
			tt.mutate(&sc)
			err := sc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeedRules(t *testing.T) {
	sc := SiteConfig{
		Key:       "testbooks",
		BaseURL:   "https://books.example.com",
		SearchURL: "https://books.example.com/search",
		Selectors: map[string][]SelectorSeed{
			"result_list": {{Value: "li.item", Priority: 1}, {Value: "div.result", Priority: 2}},
			"link_field":  {{Value: "a", Priority: 1}},
		},
	}

	rules := sc.SeedRules()
	if len(rules) != 3 {
		t.Fatalf("rules = %d, want 3", len(rules))
	}
	// Kinds come out alphabetically, priorities in listed order.
	if rules[0].Kind != models.RuleLinkField {
		t.Errorf("rules[0].Kind = %s, want link_field", rules[0].Kind)
	}
	if rules[1].Kind != models.RuleResultList || rules[1].Priority != 1 {
		t.Errorf("rules[1] = %+v", rules[1])
	}
	for _, rule := range rules {
		if rule.Site != "testbooks" || !rule.Active {
			t.Errorf("rule = %+v, want active testbooks rule", rule)
		}
	}
}

func TestDefaultSitesComplete(t *testing.T) {
	sites := DefaultSites()
	if len(sites) != 11 {
		t.Fatalf("default sites = %d, want 11", len(sites))
	}

	wantKeys := []string{
		"amazon_kindle", "amazon_pod", "bookwalker", "ebookjapan", "rakuten_kobo",
		"booklive", "honto", "kinoppy", "apple_books", "google_play_books", "reader_store",
	}
	seen := make(map[string]bool)
	for _, site := range sites {
		if err := site.Validate(); err != nil {
			t.Errorf("site %s invalid: %v", site.Key, err)
		}
		if seen[site.Key] {
			t.Errorf("duplicate site key %s", site.Key)
		}
		seen[site.Key] = true

		for _, kind := range []string{"result_list", "title_field", "link_field"} {
			if len(site.Selectors[kind]) == 0 {
				t.Errorf("site %s has no %s seeds", site.Key, kind)
			}
		}
	}
	for _, key := range wantKeys {
		if !seen[key] {
			t.Errorf("missing default site %s", key)
		}
	}
}
