package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Credentials CredentialsConfig
	Source      SourceConfig
	Target      TargetConfig
	Sync        SyncConfig
	Cache       CacheConfig
	Scheduler   SchedulerConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration for the trigger surface
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CredentialsConfig locates the on-disk credentials store
type CredentialsConfig struct {
	File string
}

// SourceConfig holds source-platform (POS) API settings. The OAuth client
// credentials are fixed per integration and authenticate the token
// exchange; the per-account business client id lives in the credential
// store.
type SourceConfig struct {
	TokenURL          string
	APIBaseURL        string
	OAuthClientID     string
	OAuthClientSecret string
	Language          string
	Timeout           time.Duration
	DaysBack          int
	WindowConcurrency int
}

// TargetConfig holds target-platform (invoicing) API settings
type TargetConfig struct {
	BaseURL         string
	DocType         string
	PageSize        int
	ContactPageSize int
	LookbackYears   int
	Timeout         time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// SyncConfig holds migration pipeline settings. The record budget and the
// epoch start date are deployment choices, not protocol requirements, so
// they live here rather than in code.
type SyncConfig struct {
	EpochStart         string // YYYY-MM-DD; fixed start of the migration range
	RecordBudget       time.Duration
	RecordDelay        time.Duration
	Simplified         bool
	GenericContactID   string
	GenericContactCode string
	PrefetchPadding    time.Duration
	PaymentMethods     map[string]string
}

// CacheConfig selects the contact-id cache backend
type CacheConfig struct {
	Backend  string // memory, redis
	TTL      time.Duration
	Host     string
	Port     int
	Password string
	DB       int
}

// SchedulerConfig holds the periodic trigger configuration
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BILLSYNC_ prefix (e.g., BILLSYNC_TARGET_BASE_URL)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("BILLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
		},
		Credentials: CredentialsConfig{
			File: v.GetString("credentials.file"),
		},
		Source: SourceConfig{
			TokenURL:          v.GetString("source.token_url"),
			APIBaseURL:        v.GetString("source.api_base_url"),
			OAuthClientID:     v.GetString("source.oauth_client_id"),
			OAuthClientSecret: v.GetString("source.oauth_client_secret"),
			Language:          v.GetString("source.language"),
			Timeout:           v.GetDuration("source.timeout"),
			DaysBack:          v.GetInt("source.days_back"),
			WindowConcurrency: v.GetInt("source.window_concurrency"),
		},
		Target: TargetConfig{
			BaseURL:         v.GetString("target.base_url"),
			DocType:         v.GetString("target.doc_type"),
			PageSize:        v.GetInt("target.page_size"),
			ContactPageSize: v.GetInt("target.contact_page_size"),
			LookbackYears:   v.GetInt("target.lookback_years"),
			Timeout:         v.GetDuration("target.timeout"),
			MaxRetries:      v.GetInt("target.max_retries"),
			RetryBaseDelay:  v.GetDuration("target.retry_base_delay"),
		},
		Sync: SyncConfig{
			EpochStart:         v.GetString("sync.epoch_start"),
			RecordBudget:       v.GetDuration("sync.record_budget"),
			RecordDelay:        v.GetDuration("sync.record_delay"),
			Simplified:         v.GetBool("sync.simplified"),
			GenericContactID:   v.GetString("sync.generic_contact_id"),
			GenericContactCode: v.GetString("sync.generic_contact_code"),
			PrefetchPadding:    v.GetDuration("sync.prefetch_padding"),
			PaymentMethods:     v.GetStringMapString("sync.payment_methods"),
		},
		Cache: CacheConfig{
			Backend:  v.GetString("cache.backend"),
			TTL:      v.GetDuration("cache.ttl"),
			Host:     v.GetString("cache.host"),
			Port:     v.GetInt("cache.port"),
			Password: v.GetString("cache.password"),
			DB:       v.GetInt("cache.db"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  v.GetBool("scheduler.enabled"),
			Interval: v.GetDuration("scheduler.interval"),
			Timeout:  v.GetDuration("scheduler.timeout"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "billsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.Credentials.File == "" {
		cfg.Credentials.File = "credentials.json"
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 30 * time.Second
	}
	if cfg.Source.DaysBack == 0 {
		cfg.Source.DaysBack = 365
	}
	if cfg.Source.WindowConcurrency == 0 {
		cfg.Source.WindowConcurrency = 10
	}
	if cfg.Source.Language == "" {
		cfg.Source.Language = "es"
	}
	if cfg.Source.OAuthClientID == "" {
		cfg.Source.OAuthClientID = "third-party"
	}
	if cfg.Target.DocType == "" {
		cfg.Target.DocType = "invoice"
	}
	if cfg.Target.PageSize == 0 {
		cfg.Target.PageSize = 200
	}
	if cfg.Target.ContactPageSize == 0 {
		cfg.Target.ContactPageSize = 500 // platform maximum
	}
	if cfg.Target.LookbackYears == 0 {
		cfg.Target.LookbackYears = 5
	}
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = 30 * time.Second
	}
	if cfg.Target.MaxRetries == 0 {
		cfg.Target.MaxRetries = 4
	}
	if cfg.Target.RetryBaseDelay == 0 {
		cfg.Target.RetryBaseDelay = 1500 * time.Millisecond
	}
	if cfg.Sync.EpochStart == "" {
		cfg.Sync.EpochStart = "2024-07-01"
	}
	if cfg.Sync.RecordBudget == 0 {
		cfg.Sync.RecordBudget = 8 * time.Minute
	}
	if cfg.Sync.RecordDelay == 0 {
		cfg.Sync.RecordDelay = 100 * time.Millisecond
	}
	if cfg.Sync.PrefetchPadding == 0 {
		cfg.Sync.PrefetchPadding = 24 * time.Hour
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.Host == "" {
		cfg.Cache.Host = "localhost"
	}
	if cfg.Cache.Port == 0 {
		cfg.Cache.Port = 6379
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 15 * time.Minute
	}
	if cfg.Scheduler.Timeout == 0 {
		cfg.Scheduler.Timeout = 10 * time.Minute
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if _, err := time.Parse("2006-01-02", c.Sync.EpochStart); err != nil {
		return fmt.Errorf("sync.epoch_start must be YYYY-MM-DD: %w", err)
	}
	if c.Sync.RecordBudget <= 0 {
		return fmt.Errorf("sync.record_budget must be positive")
	}
	if c.Source.WindowConcurrency <= 0 {
		return fmt.Errorf("source.window_concurrency must be positive")
	}
	if c.Target.MaxRetries <= 0 {
		return fmt.Errorf("target.max_retries must be positive")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be 'memory' or 'redis', got %q", c.Cache.Backend)
	}
	if c.App.Env == "production" {
		if c.Source.TokenURL == "" || c.Source.APIBaseURL == "" {
			return fmt.Errorf("source.token_url and source.api_base_url are required in production")
		}
		if c.Target.BaseURL == "" {
			return fmt.Errorf("target.base_url is required in production")
		}
	}
	return nil
}

// EpochStartTime returns the parsed fixed migration start date.
func (c *SyncConfig) EpochStartTime() time.Time {
	t, _ := time.Parse("2006-01-02", c.EpochStart)
	return t
}
