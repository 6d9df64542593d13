package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }, true},
		{"negative concurrency", func(c *Config) { c.MaxConcurrency = -1 }, true},
		{"zero batch timeout", func(c *Config) { c.BatchTimeout = 0 }, true},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"negative backoff", func(c *Config) { c.RetryBackoff = -time.Second }, true},
		{"backoff above cap", func(c *Config) {
			c.RetryBackoff = 10 * time.Second
			c.RetryBackoffMax = time.Second
		}, true},
		{"negative delay", func(c *Config) { c.Delay = -time.Second }, true},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, true},
		{"threshold zero", func(c *Config) { c.MatchThreshold = 0 }, true},
		{"threshold above one", func(c *Config) { c.MatchThreshold = 1.5 }, true},
		{"alpha zero", func(c *Config) { c.SuccessAlpha = 0 }, true},
		{"alpha above one", func(c *Config) { c.SuccessAlpha = 1.1 }, true},
		{"zero cache size", func(c *Config) { c.DetailCacheSize = 0 }, true},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"empty output file", func(c *Config) { c.OutputFile = "" }, true},
		{"bad output format", func(c *Config) { c.OutputFormat = "xml" }, true},
		{"json output format", func(c *Config) { c.OutputFormat = "json" }, false},
		{"dual output format", func(c *Config) { c.OutputFormat = "dual" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvString(t *testing.T) {
	t.Setenv("BOOKLINKS_TEST_STR", "value")
	if v, ok := EnvString("BOOKLINKS_TEST_STR"); !ok || v != "value" {
		t.Errorf("EnvString = %q, %v", v, ok)
	}
	if _, ok := EnvString("BOOKLINKS_TEST_STR_MISSING"); ok {
		t.Error("EnvString found a missing variable")
	}
	t.Setenv("BOOKLINKS_TEST_EMPTY", "")
	if _, ok := EnvString("BOOKLINKS_TEST_EMPTY"); ok {
		t.Error("EnvString treated empty as set")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("BOOKLINKS_TEST_INT", "42")
	n, ok, err := EnvInt("BOOKLINKS_TEST_INT")
	if err != nil || !ok || n != 42 {
		t.Errorf("EnvInt = %d, %v, %v", n, ok, err)
	}
	t.Setenv("BOOKLINKS_TEST_INT", "not-a-number")
	if _, _, err := EnvInt("BOOKLINKS_TEST_INT"); err == nil {
		t.Error("EnvInt parsed garbage without error")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("BOOKLINKS_TEST_DUR", "90s")
	d, ok, err := EnvDuration("BOOKLINKS_TEST_DUR")
	if err != nil || !ok || d != 90*time.Second {
		t.Errorf("EnvDuration = %v, %v, %v", d, ok, err)
	}
	t.Setenv("BOOKLINKS_TEST_DUR", "ninety")
	if _, _, err := EnvDuration("BOOKLINKS_TEST_DUR"); err == nil {
		t.Error("EnvDuration parsed garbage without error")
	}
}
