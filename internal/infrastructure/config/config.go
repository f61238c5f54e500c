package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Webhook   WebhookConfig
	Platform  PlatformConfig
	Publisher PublisherConfig
	Sync      SyncConfig
	Storage   StorageConfig
	Swagger   SwaggerConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings.
// An empty Host disables Redis and the in-memory idempotency store is used.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds settings for validating review UI bearer tokens
type JWTConfig struct {
	Secret string
	Issuer string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	APIRateLimit     float64 // per-client requests per second on /api/v1 (0 disables)
	APIRateBurst     int
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	Secret         string        // Shared HMAC secret (FITMARKET_WEBHOOK_SECRET)
	MaxBodySize    int64         // Deliveries above this size are rejected with 413
	DedupeTTL      time.Duration // TTL of the Redis fast-path dedupe keys
	Retention      time.Duration // Processed events older than this are purged
	ProcessTimeout time.Duration // Bound on dispatch once a delivery is admitted
	CleanupEnabled bool
	ArchiveEnabled bool // Archive raw deliveries to object storage
}

// PlatformConfig holds outbound commerce platform client settings
type PlatformConfig struct {
	BaseURL        string
	AccessToken    string
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second
	RateBurst      int
	MaxRetries     int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

// PublisherConfig holds composite-offering publisher settings
type PublisherConfig struct {
	Workers       int           // Size of the bounded worker pool
	QueueSize     int           // Buffered job queue size
	TickInterval  time.Duration // How often due operations are claimed
	StepTimeout   time.Duration // Timeout of a single submit/poll/finalize step
	LeaseDuration time.Duration // How long a claimed operation is hidden from other pollers
	PollInitial   time.Duration // First poll delay
	PollMax       time.Duration // Poll delay cap
	MaxWait       time.Duration // Upper bound on total polling time
	BatchSize     int           // Max operations claimed per tick
}

// SyncConfig holds orchestration settings
type SyncConfig struct {
	SuppressionWindow time.Duration // Echo suppression window after a push
	ManualWait        time.Duration // Max wait for ?wait=true manual syncs
	CatalogCron       string        // Cron expression for catalog reconciliation (empty disables)
	CatalogParallel   int           // Concurrent platform reads during catalog reconciliation
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// SwaggerConfig holds Swagger documentation endpoint configuration
type SwaggerConfig struct {
	Enabled     bool     // Whether to enable Swagger endpoint
	RequireAuth bool     // Require authentication to access Swagger
	AllowedIPs  []string // IP whitelist (empty = allow all)
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
}

// ProfilingConfig holds Pyroscope continuous profiling configuration
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	BasicAuthUser     string
	BasicAuthPassword string
	SpanProfiles      bool // Link profiles to trace spans
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with FITMARKET_ prefix (e.g., FITMARKET_WEBHOOK_SECRET)
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

	v.SetEnvPrefix("FITMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			APIRateLimit:     v.GetFloat64("http.api_rate_limit"),
			APIRateBurst:     v.GetInt("http.api_rate_burst"),
		},
		Webhook: WebhookConfig{
			Secret:         v.GetString("webhook.secret"),
			MaxBodySize:    v.GetInt64("webhook.max_body_size"),
			DedupeTTL:      v.GetDuration("webhook.dedupe_ttl"),
			Retention:      v.GetDuration("webhook.retention"),
			ProcessTimeout: v.GetDuration("webhook.process_timeout"),
			CleanupEnabled: v.GetBool("webhook.cleanup_enabled"),
			ArchiveEnabled: v.GetBool("webhook.archive_enabled"),
		},
		Platform: PlatformConfig{
			BaseURL:        v.GetString("platform.base_url"),
			AccessToken:    v.GetString("platform.access_token"),
			RequestTimeout: v.GetDuration("platform.request_timeout"),
			RateLimit:      v.GetFloat64("platform.rate_limit"),
			RateBurst:      v.GetInt("platform.rate_burst"),
			MaxRetries:     v.GetInt("platform.max_retries"),
			RetryInitial:   v.GetDuration("platform.retry_initial"),
			RetryMax:       v.GetDuration("platform.retry_max"),
		},
		Publisher: PublisherConfig{
			Workers:       v.GetInt("publisher.workers"),
			QueueSize:     v.GetInt("publisher.queue_size"),
			TickInterval:  v.GetDuration("publisher.tick_interval"),
			StepTimeout:   v.GetDuration("publisher.step_timeout"),
			LeaseDuration: v.GetDuration("publisher.lease_duration"),
			PollInitial:   v.GetDuration("publisher.poll_initial"),
			PollMax:       v.GetDuration("publisher.poll_max"),
			MaxWait:       v.GetDuration("publisher.max_wait"),
			BatchSize:     v.GetInt("publisher.batch_size"),
		},
		Sync: SyncConfig{
			SuppressionWindow: v.GetDuration("sync.suppression_window"),
			ManualWait:        v.GetDuration("sync.manual_wait"),
			CatalogCron:       v.GetString("sync.catalog_cron"),
			CatalogParallel:   v.GetInt("sync.catalog_parallel"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Swagger: SwaggerConfig{
			Enabled:     v.GetBool("swagger.enabled"),
			RequireAuth: v.GetBool("swagger.require_auth"),
			AllowedIPs:  v.GetStringSlice("swagger.allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			SpanProfiles:      v.GetBool("profiling.span_profiles"),
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
		cfg.App.Name = "fitmarket-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "fitmarket"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "fitmarket"
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
		// must exceed sync.manual_wait so awaited syncs can answer
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20 // 2MB
	}
	if cfg.HTTP.APIRateLimit > 0 && cfg.HTTP.APIRateBurst == 0 {
		cfg.HTTP.APIRateBurst = int(cfg.HTTP.APIRateLimit) + 1
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.Webhook.MaxBodySize == 0 {
		cfg.Webhook.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.Webhook.DedupeTTL == 0 {
		cfg.Webhook.DedupeTTL = 24 * time.Hour
	}
	if cfg.Webhook.Retention == 0 {
		cfg.Webhook.Retention = 30 * 24 * time.Hour
	}
	if cfg.Webhook.ProcessTimeout == 0 {
		cfg.Webhook.ProcessTimeout = 30 * time.Second
	}
	if cfg.Platform.RequestTimeout == 0 {
		cfg.Platform.RequestTimeout = 10 * time.Second
	}
	if cfg.Platform.RateLimit == 0 {
		cfg.Platform.RateLimit = 4
	}
	if cfg.Platform.RateBurst == 0 {
		cfg.Platform.RateBurst = 8
	}
	if cfg.Platform.MaxRetries == 0 {
		cfg.Platform.MaxRetries = 3
	}
	if cfg.Platform.RetryInitial == 0 {
		cfg.Platform.RetryInitial = 200 * time.Millisecond
	}
	if cfg.Platform.RetryMax == 0 {
		cfg.Platform.RetryMax = 2 * time.Second
	}
	if cfg.Publisher.Workers == 0 {
		cfg.Publisher.Workers = 4
	}
	if cfg.Publisher.QueueSize == 0 {
		cfg.Publisher.QueueSize = 64
	}
	if cfg.Publisher.TickInterval == 0 {
		cfg.Publisher.TickInterval = 500 * time.Millisecond
	}
	if cfg.Publisher.StepTimeout == 0 {
		cfg.Publisher.StepTimeout = 15 * time.Second
	}
	if cfg.Publisher.LeaseDuration == 0 {
		cfg.Publisher.LeaseDuration = 30 * time.Second
	}
	if cfg.Publisher.PollInitial == 0 {
		cfg.Publisher.PollInitial = time.Second
	}
	if cfg.Publisher.PollMax == 0 {
		cfg.Publisher.PollMax = 8 * time.Second
	}
	if cfg.Publisher.MaxWait == 0 {
		cfg.Publisher.MaxWait = 60 * time.Second
	}
	if cfg.Publisher.BatchSize == 0 {
		cfg.Publisher.BatchSize = 32
	}
	if cfg.Sync.SuppressionWindow == 0 {
		cfg.Sync.SuppressionWindow = 5 * time.Second
	}
	if cfg.Sync.ManualWait == 0 {
		cfg.Sync.ManualWait = 20 * time.Second
	}
	if cfg.Sync.CatalogParallel == 0 {
		cfg.Sync.CatalogParallel = 4
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "webhooks"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Publisher.Workers <= 0 {
		return fmt.Errorf("publisher.workers must be positive")
	}
	if c.Publisher.PollInitial > c.Publisher.PollMax {
		return fmt.Errorf("publisher.poll_initial (%s) cannot exceed publisher.poll_max (%s)",
			c.Publisher.PollInitial, c.Publisher.PollMax)
	}
	if c.Publisher.MaxWait < c.Publisher.PollInitial {
		return fmt.Errorf("publisher.max_wait must be at least publisher.poll_initial")
	}
	if c.Sync.SuppressionWindow < 0 {
		return fmt.Errorf("sync.suppression_window cannot be negative")
	}
	if c.Webhook.ArchiveEnabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when webhook.archive_enabled is true")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret is required in production")
		}
		if len(c.Webhook.Secret) < 32 {
			return fmt.Errorf("webhook.secret must be at least 32 characters in production")
		}
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Platform.BaseURL == "" {
			return fmt.Errorf("platform.base_url is required in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Swagger.Enabled {
			if !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0 {
				return fmt.Errorf("swagger endpoint must be disabled, require authentication, or have IP restriction in production")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis address, or "" when Redis is not configured
func (r *RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
