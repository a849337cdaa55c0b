package config

import (
	"time"

	"github.com/florinutz/deltashare/internal/s3client"
)

type Config struct {
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	Server          ServerConfig    `mapstructure:"server"`
	Registry        RegistryConfig  `mapstructure:"registry"`
	S3              s3client.Config `mapstructure:"s3"`
	Signing         SigningConfig   `mapstructure:"signing"`
	Cache           CacheConfig     `mapstructure:"cache"`
	Pagination      PagingConfig    `mapstructure:"pagination"`
	Snapshot        SnapshotConfig  `mapstructure:"snapshot"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	OTel            OTelConfig      `mapstructure:"otel"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// MetricsAddr serves /metrics on a separate listener when set.
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// InspectBuffer is the per-route size of the /debug/inspect request
	// trail. Zero disables it.
	InspectBuffer int `mapstructure:"inspect_buffer"`
}

// RegistryConfig selects where share definitions come from: a YAML shares
// file or a PostgreSQL database. Exactly one must be set.
type RegistryConfig struct {
	SharesFile  string `mapstructure:"shares_file"`
	Watch       bool   `mapstructure:"watch"`
	DatabaseURL string `mapstructure:"database_url"`
}

type SigningConfig struct {
	URLExpiry       time.Duration `mapstructure:"url_expiry"`
	Concurrency     int           `mapstructure:"concurrency"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	BreakerFailures int           `mapstructure:"breaker_failures"` // 0 disables the breaker
	BreakerReset    time.Duration `mapstructure:"breaker_reset"`
}

type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type PagingConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
	// TokenSecret keys continuation tokens. Empty generates a per-process
	// secret, so tokens do not survive restarts or cross replicas.
	TokenSecret string `mapstructure:"token_secret"`
}

type SnapshotConfig struct {
	ReadConcurrency int  `mapstructure:"read_concurrency"`
	UseCheckpoints  bool `mapstructure:"use_checkpoints"`
}

// RateLimitConfig throttles the query route. A zero rate disables it.
type RateLimitConfig struct {
	QueriesPerSecond float64 `mapstructure:"queries_per_second"`
	Burst            int     `mapstructure:"burst"`
}

type OTelConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func Default() Config {
	return Config{
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Registry: RegistryConfig{
			SharesFile: "shares.yaml",
			Watch:      true,
		},
		Signing: SigningConfig{
			URLExpiry:       15 * time.Minute,
			Concurrency:     16,
			MaxAttempts:     3,
			BackoffBase:     50 * time.Millisecond,
			BackoffCap:      time.Second,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Cache: CacheConfig{
			Size: 256,
			TTL:  10 * time.Minute,
		},
		Pagination: PagingConfig{
			DefaultPageSize: 1000,
			MaxPageSize:     10000,
		},
		Snapshot: SnapshotConfig{
			ReadConcurrency: 8,
			UseCheckpoints:  true,
		},
		OTel: OTelConfig{
			Exporter:    "none",
			SampleRatio: 1.0,
		},
	}
}
