// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (PARTSFLOW_ prefix)
//  2. Config file (~/.partsflow/config.yaml, or --config override)
//  3. Defaults
//
// Sensitive fields (passwords, API keys) are masked in MarshalJSON and must
// never be logged. Validation uses sentinel errors so callers can branch with
// errors.Is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidAddr indicates the listen address is invalid.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrInvalidRedisAddr indicates the Redis address is invalid.
	ErrInvalidRedisAddr = errors.New("invalid redis address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidKeywordWeight indicates the hybrid keyword weight is out of [0, 1].
	ErrInvalidKeywordWeight = errors.New("invalid keyword weight")

	// ErrInvalidTopK indicates the retrieval result count is out of range.
	ErrInvalidTopK = errors.New("invalid top K")

	// ErrInvalidCategoryDepth indicates the drill-down category depth is out of range.
	ErrInvalidCategoryDepth = errors.New("invalid category depth")

	// ErrInvalidQuota indicates a rate-limit quota is not positive.
	ErrInvalidQuota = errors.New("invalid rate-limit quota")

	// ErrInvalidSessionTTL indicates the session TTL is not positive.
	ErrInvalidSessionTTL = errors.New("invalid session TTL")

	// ErrInvalidLanguage indicates the default language is unsupported.
	ErrInvalidLanguage = errors.New("invalid default language")
)

// ServerConfig holds the HTTP listen settings.
type ServerConfig struct {
	Addr       string `mapstructure:"addr" json:"addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`
}

// RedisConfig holds session store and rate-limit counter settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db" json:"db"`
}

// PostgresConfig holds the document/inventory database settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Database string `mapstructure:"database" json:"database"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"-"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

// RetrievalConfig tunes hybrid search and grounding assembly.
type RetrievalConfig struct {
	// KeywordWeight is w in: score = vector*(1-w) + keyword*w.
	KeywordWeight float64 `mapstructure:"keyword_weight" json:"keyword_weight"`
	// TopK is the number of merged results kept.
	TopK int `mapstructure:"top_k" json:"top_k"`
	// MaxContextChars bounds the assembled grounding context.
	MaxContextChars int `mapstructure:"max_context_chars" json:"max_context_chars"`
}

// DrilldownConfig tunes the catalog drill-down coordinator.
type DrilldownConfig struct {
	// CategoryDepth is the number of category levels to resolve before
	// article lookup becomes available.
	CategoryDepth int `mapstructure:"category_depth" json:"category_depth"`
	// StepTimeout bounds each catalog step call.
	StepTimeout time.Duration `mapstructure:"step_timeout" json:"step_timeout"`
	// MaxArticlesPerPage bounds article listings.
	MaxArticlesPerPage int `mapstructure:"max_articles_per_page" json:"max_articles_per_page"`
}

// RateLimitConfig holds per-customer quotas for each window.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute" json:"per_minute"`
	PerDay    int `mapstructure:"per_day" json:"per_day"`
	PerWeek   int `mapstructure:"per_week" json:"per_week"`
}

// CompletionConfig holds the completion-provider client settings.
type CompletionConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"-"`
	Model   string        `mapstructure:"model" json:"model"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// EmbedderConfig holds the embedding-provider client settings.
type EmbedderConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"-"`
	Model   string        `mapstructure:"model" json:"model"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// ValidatorConfig holds the safety-validator client settings.
type ValidatorConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"-"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// CatalogConfig holds the catalog collaborator client settings.
type CatalogConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"-"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// RequestsPerSecond paces outbound catalog calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl" json:"ttl"`
	// MaxHistoryMessages bounds per-session chat history.
	MaxHistoryMessages int `mapstructure:"max_history_messages" json:"max_history_messages"`
}

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Redis      RedisConfig      `mapstructure:"redis" json:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres" json:"postgres"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval" json:"retrieval"`
	Drilldown  DrilldownConfig  `mapstructure:"drilldown" json:"drilldown"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" json:"rate_limit"`
	Completion CompletionConfig `mapstructure:"completion" json:"completion"`
	Embedder   EmbedderConfig   `mapstructure:"embedder" json:"embedder"`
	Validator  ValidatorConfig  `mapstructure:"validator" json:"validator"`
	Catalog    CatalogConfig    `mapstructure:"catalog" json:"catalog"`
	Session    SessionConfig    `mapstructure:"session" json:"session"`
	// Language is the default session language tag ("es" or "en").
	Language string `mapstructure:"language" json:"language"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// supportedLanguages are the language tags the message catalogs cover.
var supportedLanguages = map[string]bool{"es": true, "en": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "partsflow")
	v.SetDefault("postgres.user", "partsflow")
	v.SetDefault("postgres.sslmode", "prefer")
	v.SetDefault("retrieval.keyword_weight", 0.3)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.max_context_chars", 6000)
	v.SetDefault("drilldown.category_depth", 3)
	v.SetDefault("drilldown.step_timeout", 8*time.Second)
	v.SetDefault("drilldown.max_articles_per_page", 10)
	v.SetDefault("rate_limit.per_minute", 20)
	v.SetDefault("rate_limit.per_day", 500)
	v.SetDefault("rate_limit.per_week", 2000)
	v.SetDefault("completion.model", "assistant-v1")
	v.SetDefault("completion.timeout", 30*time.Second)
	v.SetDefault("embedder.model", "embed-multilingual-v1")
	v.SetDefault("embedder.timeout", 10*time.Second)
	v.SetDefault("validator.timeout", 10*time.Second)
	v.SetDefault("catalog.timeout", 8*time.Second)
	v.SetDefault("catalog.requests_per_second", 10.0)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.max_history_messages", 20)
	v.SetDefault("language", "es")
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from file (optional) and environment.
// path may be empty, in which case ~/.partsflow/config.yaml is tried.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PARTSFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".partsflow"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			// Missing default config file is fine; defaults apply.
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and returns the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddr)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRedisAddr)
	}
	if c.Postgres.Host == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresHost)
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Postgres.Port)
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.KeywordWeight > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidKeywordWeight, c.Retrieval.KeywordWeight)
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, c.Retrieval.TopK)
	}
	if c.Drilldown.CategoryDepth < 1 || c.Drilldown.CategoryDepth > 6 {
		return fmt.Errorf("%w: %d", ErrInvalidCategoryDepth, c.Drilldown.CategoryDepth)
	}
	if c.RateLimit.PerMinute < 1 || c.RateLimit.PerDay < 1 || c.RateLimit.PerWeek < 1 {
		return fmt.Errorf("%w: minute=%d day=%d week=%d",
			ErrInvalidQuota, c.RateLimit.PerMinute, c.RateLimit.PerDay, c.RateLimit.PerWeek)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSessionTTL, c.Session.TTL)
	}
	if !supportedLanguages[c.Language] {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, c.Language)
	}
	return nil
}

// MarshalJSON masks sensitive fields. The struct tags on password/API-key
// fields already use json:"-"; this wrapper exists so future additions fail
// closed through the alias type.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	return json.Marshal(alias(c))
}
