// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/JakeFAU/newsletter-archiver/internal/pipeline"
)

// EnvPrefix prefixes every environment override, e.g. ARCHIVER_FETCH_MAX_CONCURRENT.
const EnvPrefix = "ARCHIVER"

var extensionPattern = regexp.MustCompile(`^\.?[A-Za-z0-9]+$`)

// Config captures all archiver configuration knobs loaded via Viper.
type Config struct {
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Input     InputConfig     `mapstructure:"input"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ArchiveConfig describes the on-disk archive layout.
type ArchiveConfig struct {
	BaseFolder        string `mapstructure:"base_folder"`
	PagesFolder       string `mapstructure:"pages_folder"`
	IndexFilename     string `mapstructure:"index_filename"`
	DocumentExtension string `mapstructure:"document_extension"`
	Title             string `mapstructure:"title"`
	Lock              bool   `mapstructure:"lock"`
}

// Validate checks the archive layout.
func (c *ArchiveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseFolder, validation.Required),
		validation.Field(&c.PagesFolder, validation.Required),
		validation.Field(&c.IndexFilename, validation.Required),
		validation.Field(&c.DocumentExtension, validation.Required, validation.Match(extensionPattern)),
	)
}

// FetchConfig governs the download workers.
type FetchConfig struct {
	MaxConcurrent  int     `mapstructure:"max_concurrent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	PerHostBurst   int     `mapstructure:"per_host_burst"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	// BlockedHosts are exact hosts or "*.suffix" patterns never downloaded.
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// Validate checks worker and politeness limits.
func (c *FetchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxConcurrent, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.TimeoutSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.PerHostRPS, validation.Min(0.0)),
		validation.Field(&c.PerHostBurst, validation.When(c.PerHostRPS > 0, validation.Required, validation.Min(1))),
	)
}

// Timeout is the per-request fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InputConfig locates and filters the record source.
type InputConfig struct {
	RecordsFile   string `mapstructure:"records_file"`
	DateLayout    string `mapstructure:"date_layout"`
	AlternateOnly bool   `mapstructure:"alternate_only"`
}

// Validate checks the record source settings.
func (c *InputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RecordsFile, validation.Required),
		validation.Field(&c.DateLayout, validation.Required),
	)
}

// DiscoveryConfig points the listing crawl at its source.
type DiscoveryConfig struct {
	StartURL   string `mapstructure:"start_url"`
	OutputFile string `mapstructure:"output_file"`
}

// ServerConfig controls the archive browser.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks the listen port.
func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig sets the mirror destination.
type StorageConfig struct {
	GCSBucket            string `mapstructure:"gcs_bucket"`
	Prefix               string `mapstructure:"prefix"`
	MaxConcurrentUploads int    `mapstructure:"max_concurrent_uploads"`
}

// Validate checks the mirror settings.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxConcurrentUploads, validation.Required, validation.Min(1)),
	)
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Validate requires a project once a topic is set.
func (c *PubSubConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ProjectID, validation.When(c.TopicName != "", validation.Required)),
	)
}

// DBConfig controls access to the run history database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Validate checks the log level name.
func (c *LoggingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
	)
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// Every key gets a default, even an empty one, so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.base_folder", "mailingwork")
	v.SetDefault("archive.pages_folder", pipeline.DefaultPagesFolder)
	v.SetDefault("archive.index_filename", pipeline.DefaultIndexFilename)
	v.SetDefault("archive.document_extension", "html")
	v.SetDefault("archive.title", "Mailingwork Archive")
	v.SetDefault("archive.lock", true)
	v.SetDefault("fetch.max_concurrent", pipeline.DefaultMaxConcurrentFetches)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", "newsletter-archiver/0.1")
	v.SetDefault("fetch.per_host_rps", 0)
	v.SetDefault("fetch.per_host_burst", 1)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.blocked_hosts", []string{})
	v.SetDefault("input.records_file", "data/output.json")
	v.SetDefault("input.date_layout", "02.01.2006")
	v.SetDefault("input.alternate_only", false)
	v.SetDefault("discovery.start_url", "")
	v.SetDefault("discovery.output_file", "data/output.json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "archive")
	v.SetDefault("storage.max_concurrent_uploads", 8)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Errors name the
// offending section.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"archive", &c.Archive},
		{"fetch", &c.Fetch},
		{"input", &c.Input},
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"pubsub", &c.PubSub},
		{"logging", &c.Logging},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Pipeline converts the archive and fetch sections into a pipeline.Config.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		BaseFolder:           c.Archive.BaseFolder,
		PagesFolder:          c.Archive.PagesFolder,
		IndexFilename:        c.Archive.IndexFilename,
		DocumentExt:          strings.TrimPrefix(c.Archive.DocumentExtension, "."),
		MaxConcurrentFetches: c.Fetch.MaxConcurrent,
		Title:                c.Archive.Title,
		Lock:                 c.Archive.Lock,
		Topic:                c.PubSub.TopicName,
	}
}
