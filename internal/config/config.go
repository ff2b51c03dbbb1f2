// Package config loads and validates service configuration via Viper.
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
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Renderer  RendererConfig  `mapstructure:"renderer"`
	Sitemap   SitemapConfig   `mapstructure:"sitemap"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Output    OutputConfig    `mapstructure:"output"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication. An empty token runs the API in open
// mode with no authentication at all.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// SchedulerConfig governs the task worker pool.
type SchedulerConfig struct {
	MaxConcurrentTasks int    `mapstructure:"max_concurrent_tasks"`
	QueueDepth         int    `mapstructure:"queue_depth"`
	SnapshotPrefix     string `mapstructure:"snapshot_prefix"`
}

// RendererConfig selects and tunes the page renderer.
type RendererConfig struct {
	// Engine is "chromedp" for headless Chrome, "colly" for plain HTTP, or
	// "auto" to fetch statically and promote to Chrome when the page looks
	// client-rendered.
	Engine            string  `mapstructure:"engine"`
	UserAgent         string  `mapstructure:"user_agent"`
	MaxParallel       int     `mapstructure:"max_parallel"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
}

// SitemapConfig tunes sitemap discovery.
type SitemapConfig struct {
	// IndexMode is "strict" or "mixed"; see the sitemap package.
	IndexMode      string `mapstructure:"index_mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BatchConfig governs whole-site crawls.
type BatchConfig struct {
	MaxConcurrent      int    `mapstructure:"max_concurrent"`
	BatchDelaySeconds  int    `mapstructure:"batch_delay_seconds"`
	PageTimeoutSeconds int    `mapstructure:"page_timeout_seconds"`
	WaitFor            string `mapstructure:"wait_for"`
}

// OutputConfig sets where batch crawl runs write their JSONL files.
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StorageConfig selects the blob backend for raw page snapshots.
type StorageConfig struct {
	// Backend is "none", "memory", "local" or "gcs".
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls the optional Postgres result archive. An empty DSN
// disables archiving.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications. An empty project
// ID disables publishing.
type PubSubConfig struct {
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
	v.SetEnvPrefix("CRAWLSERVE")
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
	v.SetDefault("scheduler.max_concurrent_tasks", 5)
	v.SetDefault("scheduler.queue_depth", 64)
	v.SetDefault("scheduler.snapshot_prefix", "pages")
	v.SetDefault("renderer.engine", "chromedp")
	v.SetDefault("renderer.user_agent", "crawlserve/1.0")
	v.SetDefault("renderer.max_parallel", 5)
	v.SetDefault("renderer.nav_timeout_seconds", 45)
	v.SetDefault("renderer.domain_qps", 0)
	v.SetDefault("sitemap.index_mode", "strict")
	v.SetDefault("sitemap.timeout_seconds", 15)
	v.SetDefault("batch.max_concurrent", 3)
	v.SetDefault("batch.batch_delay_seconds", 1)
	v.SetDefault("batch.page_timeout_seconds", 30)
	v.SetDefault("batch.wait_for", "domcontentloaded")
	v.SetDefault("output.base_dir", "crawl_output")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be > 0")
	}
	if c.Scheduler.QueueDepth <= 0 {
		return fmt.Errorf("scheduler.queue_depth must be > 0")
	}
	switch c.Renderer.Engine {
	case "chromedp", "colly", "auto":
	default:
		return fmt.Errorf("renderer.engine must be chromedp, colly, or auto")
	}
	switch c.Sitemap.IndexMode {
	case "strict", "mixed":
	default:
		return fmt.Errorf("sitemap.index_mode must be strict or mixed")
	}
	if c.Batch.MaxConcurrent <= 0 {
		return fmt.Errorf("batch.max_concurrent must be > 0")
	}
	switch c.Storage.Backend {
	case "none", "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be none, memory, local or gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set for the local backend")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// NavTimeout converts the renderer timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Renderer.NavTimeoutSeconds) * time.Second
}

// SitemapTimeout converts the sitemap fetch timeout into a duration.
func (c Config) SitemapTimeout() time.Duration {
	return time.Duration(c.Sitemap.TimeoutSeconds) * time.Second
}

// BatchDelay converts the inter-wave delay into a duration.
func (c Config) BatchDelay() time.Duration {
	return time.Duration(c.Batch.BatchDelaySeconds) * time.Second
}

// PageTimeout converts the batch page timeout into a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Batch.PageTimeoutSeconds) * time.Second
}
