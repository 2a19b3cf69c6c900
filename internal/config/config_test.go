package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Retrieval.KeywordWeight != 0.3 || cfg.Retrieval.TopK != 5 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if cfg.Drilldown.CategoryDepth != 3 || cfg.Drilldown.MaxArticlesPerPage != 10 {
		t.Errorf("drilldown defaults = %+v", cfg.Drilldown)
	}
	if cfg.RateLimit.PerMinute != 20 || cfg.RateLimit.PerDay != 500 || cfg.RateLimit.PerWeek != 2000 {
		t.Errorf("rate-limit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Session.TTL != 24*time.Hour || cfg.Session.MaxHistoryMessages != 20 {
		t.Errorf("session defaults = %+v", cfg.Session)
	}
	if cfg.Language != "es" {
		t.Errorf("language = %q, want es", cfg.Language)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
retrieval:
  keyword_weight: 0.5
rate_limit:
  per_minute: 5
language: en
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Retrieval.KeywordWeight != 0.5 {
		t.Errorf("keyword_weight = %v", cfg.Retrieval.KeywordWeight)
	}
	if cfg.RateLimit.PerMinute != 5 {
		t.Errorf("per_minute = %d", cfg.RateLimit.PerMinute)
	}
	if cfg.Language != "en" {
		t.Errorf("language = %q", cfg.Language)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load succeeded for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, ErrInvalidAddr},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, ErrInvalidRedisAddr},
		{"empty postgres host", func(c *Config) { c.Postgres.Host = "" }, ErrInvalidPostgresHost},
		{"postgres port too high", func(c *Config) { c.Postgres.Port = 70000 }, ErrInvalidPostgresPort},
		{"keyword weight above one", func(c *Config) { c.Retrieval.KeywordWeight = 1.2 }, ErrInvalidKeywordWeight},
		{"negative keyword weight", func(c *Config) { c.Retrieval.KeywordWeight = -0.1 }, ErrInvalidKeywordWeight},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }, ErrInvalidTopK},
		{"category depth too deep", func(c *Config) { c.Drilldown.CategoryDepth = 7 }, ErrInvalidCategoryDepth},
		{"zero minute quota", func(c *Config) { c.RateLimit.PerMinute = 0 }, ErrInvalidQuota},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }, ErrInvalidSessionTTL},
		{"unsupported language", func(c *Config) { c.Language = "fr" }, ErrInvalidLanguage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate = %v, want %v", err, tc.wantErr)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	var nilCfg *Config
	if err := nilCfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("nil config = %v, want ErrConfigNil", err)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Password = "redis-secret"
	cfg.Postgres.Password = "pg-secret"
	cfg.Completion.APIKey = "sk-completion"
	cfg.Embedder.APIKey = "sk-embedder"
	cfg.Validator.APIKey = "sk-validator"
	cfg.Catalog.APIKey = "sk-catalog"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(data)
	for _, secret := range []string{"redis-secret", "pg-secret", "sk-completion", "sk-embedder", "sk-validator", "sk-catalog"} {
		if strings.Contains(out, secret) {
			t.Errorf("marshaled config leaks %q", secret)
		}
	}
	if !strings.Contains(out, ":8080") {
		t.Errorf("non-sensitive fields missing: %s", out)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Addr: ":8080"},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Postgres:  PostgresConfig{Host: "localhost", Port: 5432},
		Retrieval: RetrievalConfig{KeywordWeight: 0.3, TopK: 5, MaxContextChars: 6000},
		Drilldown: DrilldownConfig{CategoryDepth: 3, StepTimeout: 8 * time.Second, MaxArticlesPerPage: 10},
		RateLimit: RateLimitConfig{PerMinute: 20, PerDay: 500, PerWeek: 2000},
		Session:   SessionConfig{TTL: 24 * time.Hour, MaxHistoryMessages: 20},
		Language:  "es",
	}
}
