// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs worker pool and crawl pipeline behavior.
type CrawlerConfig struct {
	StartURL       string   `mapstructure:"start_url"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	Concurrency    int      `mapstructure:"concurrency"`
	UserAgent      string   `mapstructure:"user_agent"`
	DelaySeconds   int      `mapstructure:"delay_seconds"`
	MaxDepth       int      `mapstructure:"max_depth"`
}

// SchedulerConfig controls directory-priority scheduling.
type SchedulerConfig struct {
	PriorityEnabled bool `mapstructure:"priority_enabled"`
	PollIntervalMs  int  `mapstructure:"poll_interval_ms"`
	IdleShutdownSec int  `mapstructure:"idle_shutdown_seconds"`
}

// HTTPConfig configures HTTP client behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinHTMLBytes  int  `mapstructure:"min_html_bytes"`
}

// StorageConfig sets providers and paths for persistence.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"` // memory, local, gcs
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider        string `mapstructure:"provider"` // memory, postgres
	DSN             string `mapstructure:"dsn"`
	CategoriesTable string `mapstructure:"categories_table"`
	ProductsTable   string `mapstructure:"products_table"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"` // memory, pubsub
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VIVBLISS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.start_url", "https://vivbliss.com")
	v.SetDefault("crawler.allowed_domains", []string{"vivbliss.com"})
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "vivbliss-catalog-bot/0.1")
	v.SetDefault("crawler.delay_seconds", 1)
	v.SetDefault("crawler.max_depth", 4)
	v.SetDefault("scheduler.priority_enabled", true)
	v.SetDefault("scheduler.poll_interval_ms", 100)
	v.SetDefault("scheduler.idle_shutdown_seconds", 30)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_html_bytes", 2000)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.categories_table", "categories")
	v.SetDefault("db.products_table", "products")
	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.StartURL == "" {
		return fmt.Errorf("crawler.start_url is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Scheduler.PollIntervalMs <= 0 {
		return fmt.Errorf("scheduler.poll_interval_ms must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Storage.Provider == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
	}
	if c.PubSub.Provider == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is pubsub")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PollInterval converts the scheduler poll cadence into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalMs) * time.Millisecond
}

// IdleShutdown converts the idle shutdown window into a duration.
func (c Config) IdleShutdown() time.Duration {
	return time.Duration(c.Scheduler.IdleShutdownSec) * time.Second
}
