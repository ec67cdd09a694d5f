package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		APIBaseURL:         "http://localhost:8000/api/v1",
		HTTPTimeoutSeconds: 30,
		SearchDebounceMS:   500,
		SearchLimit:        10,
		TokenPath:          "/tmp/session.json",
		RateLimitRPS:       10,
		RateLimitBurst:     20,
		Port:               "8000",
		Env:                "development",
		JWTSecret:          "dev-secret",
		SessionTTLMinutes:  720,
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SearchDebounceMS != 500 {
		t.Errorf("expected default debounce 500, got %d", cfg.SearchDebounceMS)
	}
	if cfg.SearchLimit != 10 {
		t.Errorf("expected default search limit 10, got %d", cfg.SearchLimit)
	}
	if cfg.TokenPath == "" {
		t.Error("expected a resolved token path")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing base url", func(c *Config) { c.APIBaseURL = "" }, "API_BASE_URL"},
		{"zero timeout", func(c *Config) { c.HTTPTimeoutSeconds = 0 }, "HTTP_TIMEOUT_SECONDS"},
		{"zero debounce", func(c *Config) { c.SearchDebounceMS = 0 }, "SEARCH_DEBOUNCE_MS"},
		{"zero search limit", func(c *Config) { c.SearchLimit = 0 }, "SEARCH_LIMIT"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPS = 0 }, "RATE_LIMIT"},
		{"zero session ttl", func(c *Config) { c.SessionTTLMinutes = 0 }, "SESSION_TTL_MINUTES"},
		{"dev secret in production", func(c *Config) { c.Env = "production" }, "JWT_SECRET"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error mentioning %s, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestProductionWithRealSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "a-real-secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
