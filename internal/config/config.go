// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/igo-publications-crawler/internal/adapter"
	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	pkgconfig "github.com/JakeFAU/igo-publications-crawler/pkg/config"
)

// DefaultUserAgent is the desktop browser identity sent by default.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig     `mapstructure:"logging"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Storage   StorageConfig     `mapstructure:"storage"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Pipeline  PipelineConfig    `mapstructure:"pipeline"`
	Download  DownloadConfig    `mapstructure:"download"`
	Headless  HeadlessConfig    `mapstructure:"headless"`
	Server    ServerConfig      `mapstructure:"server"`
	Schedule  ScheduleConfig    `mapstructure:"schedule"`
	Catalog   CatalogConfig     `mapstructure:"catalog"`
	Languages crawler.Languages `mapstructure:"languages"`
	Adapters  []adapter.Spec    `mapstructure:"adapters"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig sets where downloaded payloads go.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	DownloadDir string `mapstructure:"download_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for download notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HTTPConfig configures retrieval timeouts and the 429 backoff budget.
type HTTPConfig struct {
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	MaxAttempts    int               `mapstructure:"max_attempts"`
	MaxWaitSeconds int               `mapstructure:"max_wait_seconds"`
	VerifyTLS      bool              `mapstructure:"verify_tls"`
	DefaultHeaders map[string]string `mapstructure:"default_headers"`
	// RequestsPerSecondPerHost caps the request rate to any single host; 0 disables it.
	RequestsPerSecondPerHost float64 `mapstructure:"requests_per_second_per_host"`
	BurstPerHost             int     `mapstructure:"burst_per_host"`
}

// PipelineConfig sizes the staging cursors.
type PipelineConfig struct {
	MaxPublicationURLsChunkSize int  `mapstructure:"max_publication_urls_chunk_size"`
	MaxDocumentLinksChunkSize   int  `mapstructure:"max_document_links_chunk_size"`
	StopOnFailure               bool `mapstructure:"stop_on_failure"`
}

// DownloadConfig governs the download engine.
type DownloadConfig struct {
	Parallel                   bool              `mapstructure:"parallel"`
	MaxConcurrent              int               `mapstructure:"max_concurrent"`
	FileTypes                  map[string]string `mapstructure:"file_types"`
	DownloadEvenIfExist        bool              `mapstructure:"download_even_if_exist"`
	RetryDownloadInNextSession bool              `mapstructure:"retry_download_in_next_session"`
	ValidatePDF                bool              `mapstructure:"validate_pdf"`
	UserAgent                  string            `mapstructure:"user_agent"`
	MaxBodyBytes               int               `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	// PromoteListings renders static listing pages that look like JavaScript shells.
	PromoteListings    bool `mapstructure:"promote_listings"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ScheduleConfig holds the cron expression used by the schedule command.
type ScheduleConfig struct {
	Spec string `mapstructure:"spec"`
}

// CatalogConfig points at the organizations catalog used by seed.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v, err := pkgconfig.NewViper(path)
	if err != nil {
		return Config{}, err
	}
	setDefaults(v)

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
	v.SetDefault("logging.development", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/sqlite/igo.db")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.download_dir", "data/downloads")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.max_wait_seconds", 60)
	v.SetDefault("http.verify_tls", true)
	v.SetDefault("http.requests_per_second_per_host", 0)
	v.SetDefault("http.burst_per_host", 1)
	v.SetDefault("http.default_headers", map[string]string{"user-agent": DefaultUserAgent})
	v.SetDefault("pipeline.max_publication_urls_chunk_size", 100)
	v.SetDefault("pipeline.max_document_links_chunk_size", 100)
	v.SetDefault("pipeline.stop_on_failure", false)
	v.SetDefault("download.parallel", false)
	v.SetDefault("download.max_concurrent", 4)
	v.SetDefault("download.file_types", map[string]string{
		"pdf":  "application/pdf",
		"doc":  "application/msword",
		"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	})
	v.SetDefault("download.download_even_if_exist", false)
	v.SetDefault("download.retry_download_in_next_session", true)
	v.SetDefault("download.validate_pdf", false)
	v.SetDefault("download.user_agent", DefaultUserAgent)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promote_listings", true)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("schedule.spec", "@daily")

	langs := crawler.DefaultLanguages()
	v.SetDefault("languages.names", langs.Names)
	v.SetDefault("languages.code2", langs.Code2)
	v.SetDefault("languages.code3", langs.Code3)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path must be set for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.Storage.Provider {
	case "local":
		if c.Storage.DownloadDir == "" {
			return fmt.Errorf("storage.download_dir must be set for local storage")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for gcs storage")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be local, gcs or memory, got %q", c.Storage.Provider)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts < 0 {
		return fmt.Errorf("http.max_attempts must be >= 0")
	}
	if c.HTTP.MaxWaitSeconds < 0 {
		return fmt.Errorf("http.max_wait_seconds must be >= 0")
	}
	if c.HTTP.RequestsPerSecondPerHost < 0 {
		return fmt.Errorf("http.requests_per_second_per_host must be >= 0")
	}
	if c.Pipeline.MaxPublicationURLsChunkSize <= 0 {
		return fmt.Errorf("pipeline.max_publication_urls_chunk_size must be > 0")
	}
	if c.Pipeline.MaxDocumentLinksChunkSize <= 0 {
		return fmt.Errorf("pipeline.max_document_links_chunk_size must be > 0")
	}
	if c.Download.Parallel && c.Download.MaxConcurrent <= 0 {
		return fmt.Errorf("download.max_concurrent must be > 0 when download.parallel is set")
	}
	if len(c.Download.FileTypes) == 0 {
		return fmt.Errorf("download.file_types must not be empty")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	for i, spec := range c.Adapters {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("adapters[%d]: %w", i, err)
		}
	}
	return nil
}

// HTTPTimeout returns the per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MaxWait returns the total 429 backoff budget.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.HTTP.MaxWaitSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// DefaultHeaders converts the configured header map. Viper lowercases keys,
// so names are canonicalized here.
func (c Config) DefaultHeaders() http.Header {
	h := http.Header{}
	for k, v := range c.HTTP.DefaultHeaders {
		h.Set(k, v)
	}
	return h
}
