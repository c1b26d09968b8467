// Package config loads application settings from config.yaml, .env and
// EXHIBIT_* environment variables, and installs the global logger.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig               `yaml:"store" mapstructure:"store"`
	Log       LogConfig                 `yaml:"log" mapstructure:"log"`
	Server    ServerConfig              `yaml:"server" mapstructure:"server"`
	Timezone  string                    `yaml:"timezone" mapstructure:"timezone"`
	Sync      SyncConfig                `yaml:"sync" mapstructure:"sync"`
	Extract   ExtractConfig             `yaml:"extract" mapstructure:"extract"`
	Providers map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Repair    RepairConfig              `yaml:"repair" mapstructure:"repair"`
	Scheduler SchedulerConfig           `yaml:"scheduler" mapstructure:"scheduler"`
	Culture   CultureConfig             `yaml:"culture" mapstructure:"culture"`
	Naver     NaverConfig               `yaml:"naver" mapstructure:"naver"`
	Kakao     KakaoConfig               `yaml:"kakao" mapstructure:"kakao"`
	Anthropic AnthropicConfig           `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaConfig                `yaml:"jina" mapstructure:"jina"`
	Venue     VenueConfig               `yaml:"venue" mapstructure:"venue"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// SyncConfig configures a sync cycle.
type SyncConfig struct {
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxNewInserts int `yaml:"max_new_inserts" mapstructure:"max_new_inserts"`
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ExtractConfig tunes the period extractor.
type ExtractConfig struct {
	GraceDays   int `yaml:"grace_days" mapstructure:"grace_days"`
	WindowRunes int `yaml:"window_runes" mapstructure:"window_runes"`
}

// ProviderConfig is the budget and merge policy of one provider. Lower
// Priority values merge first and shadow later providers. Entries without
// an adapter (kakao, repair) are budgets only.
type ProviderConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	PerRun             int     `yaml:"per_run" mapstructure:"per_run"`
	PerDay             int     `yaml:"per_day" mapstructure:"per_day"`
	Priority           int     `yaml:"priority" mapstructure:"priority"`
	AllowUnknownPeriod bool    `yaml:"allow_unknown_period" mapstructure:"allow_unknown_period"`
	OwnsVenues         bool    `yaml:"owns_venues" mapstructure:"owns_venues"`
	RPS                float64 `yaml:"rps" mapstructure:"rps"`
	Burst              int     `yaml:"burst" mapstructure:"burst"`
}

// RepairConfig configures the period repair pass.
type RepairConfig struct {
	Limit        int      `yaml:"limit" mapstructure:"limit"`
	Provider     string   `yaml:"provider" mapstructure:"provider"`
	CooldownDays int      `yaml:"cooldown_days" mapstructure:"cooldown_days"`
	Lookups      []string `yaml:"lookups" mapstructure:"lookups"`
}

// JobConfig is one scheduled job.
type JobConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	At       string `yaml:"at" mapstructure:"at"`
	DailyCap int    `yaml:"daily_cap" mapstructure:"daily_cap"`
}

// SchedulerConfig configures the daemon.
type SchedulerConfig struct {
	TickSecs int         `yaml:"tick_secs" mapstructure:"tick_secs"`
	LockPath string      `yaml:"lock_path" mapstructure:"lock_path"`
	Jobs     []JobConfig `yaml:"jobs" mapstructure:"jobs"`
}

// CultureConfig holds the public exhibition feed settings.
type CultureConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	PerPage  int    `yaml:"per_page" mapstructure:"per_page"`
	MaxPages int    `yaml:"max_pages" mapstructure:"max_pages"`
}

// NaverConfig holds Naver Search API credentials.
type NaverConfig struct {
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	Kind         string   `yaml:"kind" mapstructure:"kind"`
	Display      int      `yaml:"display" mapstructure:"display"`
	Venues       []string `yaml:"venues" mapstructure:"venues"`
}

// KakaoConfig holds Kakao Local API settings.
type KakaoConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key    string   `yaml:"key" mapstructure:"key"`
	Model  string   `yaml:"model" mapstructure:"model"`
	Venues []string `yaml:"venues" mapstructure:"venues"`
}

// JinaConfig holds Jina AI Search settings used by period repair.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// VenueConfig configures the venue resolver.
type VenueConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
	CacheSize int    `yaml:"cache_size" mapstructure:"cache_size"`
}

// Location loads Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

// SyncTimeout is the per-call deadline for provider requests.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSecs) * time.Second
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EXHIBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "exhibitions.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("timezone", "Asia/Seoul")
	v.SetDefault("sync.timeout_secs", 30)
	v.SetDefault("sync.max_new_inserts", 200)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("extract.grace_days", 3)
	v.SetDefault("extract.window_runes", 30)
	v.SetDefault("providers", map[string]any{
		"culture": map[string]any{"enabled": true, "per_run": 20, "per_day": 200, "priority": 1, "rps": 5, "burst": 1, "owns_venues": true},
		"naver":   map[string]any{"enabled": true, "per_run": 50, "per_day": 2000, "priority": 2, "rps": 8, "burst": 2},
		"llm":     map[string]any{"enabled": false, "per_run": 10, "per_day": 50, "priority": 3, "rps": 1, "burst": 1},
		"kakao":   map[string]any{"enabled": true, "per_run": 100, "per_day": 3000, "priority": 9, "rps": 10, "burst": 2},
		"jina":    map[string]any{"enabled": true, "per_run": 30, "per_day": 200, "priority": 9},
		"repair":  map[string]any{"enabled": true, "per_run": 30, "per_day": 100, "priority": 9},
	})
	v.SetDefault("repair.limit", 50)
	v.SetDefault("repair.provider", "repair")
	v.SetDefault("repair.cooldown_days", 7)
	v.SetDefault("repair.lookups", []string{"naver", "jina", "llm"})
	v.SetDefault("scheduler.tick_secs", 60)
	v.SetDefault("scheduler.lock_path", "exhibit-daemon.lock")
	v.SetDefault("scheduler.jobs", []map[string]any{
		{"name": "sync", "at": "06:00", "daily_cap": 1},
		{"name": "repair", "at": "07:30", "daily_cap": 1},
	})
	v.SetDefault("culture.key", "")
	v.SetDefault("naver.client_id", "")
	v.SetDefault("naver.client_secret", "")
	v.SetDefault("naver.venues", []string{})
	v.SetDefault("kakao.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.venues", []string{})
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://s.jina.ai")
	v.SetDefault("venue.rules_path", "")
	v.SetDefault("culture.base_url", "https://api.kcisa.kr/openapi")
	v.SetDefault("culture.per_page", 100)
	v.SetDefault("culture.max_pages", 10)
	v.SetDefault("naver.base_url", "https://openapi.naver.com")
	v.SetDefault("naver.kind", "news")
	v.SetDefault("naver.display", 20)
	v.SetDefault("kakao.base_url", "https://dapi.kakao.com")
	v.SetDefault("anthropic.model", "claude-haiku-4-5")
	v.SetDefault("venue.cache_size", 4096)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs: "sync", "repair",
// "daemon" or "serve". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is invalid", c.Timezone))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Sync.TimeoutSecs <= 0 {
		errs = append(errs, "sync.timeout_secs must be > 0")
	}
	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 32 {
		errs = append(errs, "sync.concurrency must be between 1 and 32")
	}

	switch mode {
	case "sync":
		if len(c.enabledProviders()) == 0 {
			errs = append(errs, "at least one provider must be enabled")
		}
	case "repair":
		if c.Repair.Provider != "" {
			if _, ok := c.Providers[c.Repair.Provider]; !ok {
				errs = append(errs, fmt.Sprintf("repair.provider %q has no providers entry", c.Repair.Provider))
			}
		}
	case "daemon":
		seen := make(map[string]bool, len(c.Scheduler.Jobs))
		for _, j := range c.Scheduler.Jobs {
			if seen[j.Name] {
				errs = append(errs, fmt.Sprintf("scheduler job %q is duplicated", j.Name))
			}
			seen[j.Name] = true
		}
		if c.Scheduler.LockPath == "" {
			errs = append(errs, "scheduler.lock_path is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) enabledProviders() []string {
	var out []string
	for id, p := range c.Providers {
		if p.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
