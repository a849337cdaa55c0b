package config

import (
	"fmt"
	"strings"
	"time"
)

// maxURLExpiry is the longest lifetime S3 accepts for presigned URLs.
const maxURLExpiry = 7 * 24 * time.Hour

// minTokenSecret matches the pagination codec's minimum key material.
const minTokenSecret = 16

// Validate performs structural validation on the config.
func (c Config) Validate() error {
	var errs []string

	// --- Top-level ---
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be > 0")
	}

	checkDur := func(path string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0", path))
		}
	}
	checkPositive := func(path string, n int) {
		if n <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0, got %d", path, n))
		}
	}

	// --- Server ---
	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.MetricsAddr != "" && c.Server.MetricsAddr == c.Server.Addr {
		errs = append(errs, "server.metrics_addr must differ from server.addr")
	}
	checkDur("server.read_timeout", c.Server.ReadTimeout)
	checkDur("server.write_timeout", c.Server.WriteTimeout)
	checkDur("server.idle_timeout", c.Server.IdleTimeout)
	if c.Server.InspectBuffer < 0 {
		errs = append(errs, "server.inspect_buffer must be >= 0")
	}

	// --- Registry ---
	switch {
	case c.Registry.SharesFile == "" && c.Registry.DatabaseURL == "":
		errs = append(errs, "one of registry.shares_file or registry.database_url is required")
	case c.Registry.SharesFile != "" && c.Registry.DatabaseURL != "":
		errs = append(errs, "registry.shares_file and registry.database_url are mutually exclusive")
	}

	// --- Signing ---
	checkDur("signing.url_expiry", c.Signing.URLExpiry)
	if c.Signing.URLExpiry > maxURLExpiry {
		errs = append(errs, fmt.Sprintf("signing.url_expiry must be <= %s, got %s", maxURLExpiry, c.Signing.URLExpiry))
	}
	checkPositive("signing.concurrency", c.Signing.Concurrency)
	checkPositive("signing.max_attempts", c.Signing.MaxAttempts)
	checkDur("signing.backoff_base", c.Signing.BackoffBase)
	checkDur("signing.backoff_cap", c.Signing.BackoffCap)
	if c.Signing.BackoffCap < c.Signing.BackoffBase {
		errs = append(errs, "signing.backoff_cap must be >= signing.backoff_base")
	}
	if c.Signing.BreakerFailures < 0 {
		errs = append(errs, "signing.breaker_failures must be >= 0")
	}
	if c.Signing.BreakerFailures > 0 {
		checkDur("signing.breaker_reset", c.Signing.BreakerReset)
	}

	// --- Cache / pagination / snapshot ---
	checkPositive("cache.size", c.Cache.Size)
	checkDur("cache.ttl", c.Cache.TTL)
	checkPositive("pagination.default_page_size", c.Pagination.DefaultPageSize)
	checkPositive("pagination.max_page_size", c.Pagination.MaxPageSize)
	if c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		errs = append(errs, "pagination.default_page_size must be <= pagination.max_page_size")
	}
	if s := c.Pagination.TokenSecret; s != "" && len(s) < minTokenSecret {
		errs = append(errs, fmt.Sprintf("pagination.token_secret must be at least %d bytes", minTokenSecret))
	}
	checkPositive("snapshot.read_concurrency", c.Snapshot.ReadConcurrency)

	// --- Rate limit ---
	if c.RateLimit.QueriesPerSecond < 0 {
		errs = append(errs, "rate_limit.queries_per_second must be >= 0")
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit.burst must be >= 0")
	}

	// --- OTel ---
	switch c.OTel.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Sprintf("otel.exporter must be none, stdout or otlp, got %q", c.OTel.Exporter))
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("otel.sample_ratio must be in [0, 1], got %g", c.OTel.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(errs, "; "))
	}
	return nil
}
