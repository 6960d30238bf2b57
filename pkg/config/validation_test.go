package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		DatabaseURL:         "user:pass@tcp(localhost:3306)/catalog",
		MatchNameThreshold:  0.90,
		MatchExactThreshold: 0.99,
		AutoMergeConfidence: 0.95,
		DBMaxOpenConns:      25,
		DBMaxIdleConns:      10,
		ScrapeRPS:           2,
		LogFormat:           "json",
		Env:                 "development",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestValidateThresholdRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"name threshold above 1", func(c *Config) { c.MatchNameThreshold = 1.5 }},
		{"exact threshold negative", func(c *Config) { c.MatchExactThreshold = -0.1 }},
		{"exact below name", func(c *Config) { c.MatchExactThreshold = 0.80 }},
		{"auto merge above 1", func(c *Config) { c.AutoMergeConfidence = 2.0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.ScrapeRPS = 0
	cfg.LogFormat = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"DATABASE_URL", "SCRAPE_RPS", "LOG_FORMAT"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error missing field %s: %v", field, err)
		}
	}
}
