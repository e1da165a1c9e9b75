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
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Index    IndexConfig    `mapstructure:"index"`
	Search   SearchConfig   `mapstructure:"search"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs crawl pacing and per-source limits.
type CrawlerConfig struct {
	DelaySeconds   int    `mapstructure:"delay_seconds"`
	CooldownHours  int    `mapstructure:"cooldown_hours"`
	MaxPerSource   int    `mapstructure:"max_per_source"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	YahooQuery     string `mapstructure:"yahoo_query"`
	FlickrQuery    string `mapstructure:"flickr_query"`
	WikimediaQuery string `mapstructure:"wikimedia_query"`
	LedgerPath     string `mapstructure:"ledger_path"`
}

// IndexConfig locates the vector index and its metadata records.
type IndexConfig struct {
	Dimension   int    `mapstructure:"dimension"`
	VectorsPath string `mapstructure:"vectors_path"`
	RecordsPath string `mapstructure:"records_path"`
	// Records selects the metadata store backend: "file" or "postgres".
	Records string `mapstructure:"records"`
}

// SearchConfig tunes the retrieval pipeline.
type SearchConfig struct {
	TopK              int     `mapstructure:"top_k"`
	IdentityThreshold float64 `mapstructure:"identity_threshold"`
	ExactThreshold    int     `mapstructure:"exact_threshold"`
	PageSize          int     `mapstructure:"page_size"`
	PageSizeMax       int     `mapstructure:"page_size_max"`
	MaxUploadBytes    int64   `mapstructure:"max_upload_bytes"`
}

// EmbedConfig points at the face-model inference server.
type EmbedConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	EnforceSingle  bool   `mapstructure:"enforce_single_face"`
}

// StorageConfig sets the blob store used for downloaded images.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig controls the optional Postgres metadata backend.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for crawl-event notifications.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FACESEARCH")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.delay_seconds", 8)
	v.SetDefault("crawler.cooldown_hours", 3)
	v.SetDefault("crawler.max_per_source", 50)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.yahoo_query", "face portrait")
	v.SetDefault("crawler.flickr_query", "portrait")
	v.SetDefault("crawler.wikimedia_query", "portrait photograph")
	v.SetDefault("crawler.ledger_path", "data/ledger.txt")
	v.SetDefault("index.dimension", 512)
	v.SetDefault("index.vectors_path", "data/faces.idx")
	v.SetDefault("index.records_path", "data/faces.json")
	v.SetDefault("index.records", "file")
	v.SetDefault("search.top_k", 50)
	v.SetDefault("search.identity_threshold", 60.0)
	v.SetDefault("search.exact_threshold", 5)
	v.SetDefault("search.page_size", 10)
	v.SetDefault("search.page_size_max", 100)
	v.SetDefault("search.max_upload_bytes", 16<<20)
	v.SetDefault("embed.endpoint", "http://localhost:9090/embed")
	v.SetDefault("embed.timeout_seconds", 30)
	v.SetDefault("embed.enforce_single_face", false)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "data/images")
	v.SetDefault("storage.prefix", "images")
	v.SetDefault("database.table", "face_records")
	v.SetDefault("pubsub.provider", "memory")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if c.Crawler.CooldownHours <= 0 {
		return fmt.Errorf("crawler.cooldown_hours must be > 0")
	}
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index.dimension must be > 0")
	}
	if c.Index.Records != "file" && c.Index.Records != "postgres" {
		return fmt.Errorf("index.records must be file or postgres, got %q", c.Index.Records)
	}
	if c.Index.Records == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set when index.records is postgres")
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be > 0")
	}
	if c.Search.IdentityThreshold < 0 || c.Search.IdentityThreshold > 100 {
		return fmt.Errorf("search.identity_threshold must be in [0,100]")
	}
	if c.Search.PageSize <= 0 || c.Search.PageSize > c.Search.PageSizeMax {
		return fmt.Errorf("search.page_size must be in (0, page_size_max]")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.PubSub.Provider == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is pubsub")
	}
	return nil
}

// Delay converts the crawl delay config into a duration.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

// Cooldown converts the post-CAPTCHA cooldown config into a duration.
func (c CrawlerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours) * time.Hour
}

// Timeout converts the per-request timeout config into a duration.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout converts the inference request timeout config into a duration.
func (e EmbedConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}
