// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

// Package config provides centralized configuration management for all
// Cartscope components: HTTP server, DuckDB event store, webhook intake,
// pixel intake, live broadcast, enrichment, retention and logging.
//
// Configuration loading order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config file: optional YAML config file (config.yaml)
//  3. Environment variables: override any setting
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Webhooks  WebhooksConfig  `koanf:"webhooks"`
	Pixel     PixelConfig     `koanf:"pixel"`
	Live      LiveConfig      `koanf:"live"`
	Bus       BusConfig       `koanf:"bus"`
	Enrich    EnrichConfig    `koanf:"enrich"`
	Retention RetentionConfig `koanf:"retention"`
	Identity  IdentityConfig  `koanf:"identity"`
	API       APIConfig       `koanf:"api"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment variables:
//   - HTTP_PORT: listen port (default: 8350)
//   - HTTP_HOST: bind address (default: 0.0.0.0)
//   - HTTP_TIMEOUT: read/write timeout (default: 30s)
//   - ENVIRONMENT: "development" or "production"
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings for the event store.
//
// Environment variables:
//   - DUCKDB_PATH: database file path, ":memory:" for ephemeral
//   - DUCKDB_MAX_MEMORY: DuckDB memory limit (default: 2GB)
//   - DUCKDB_THREADS: worker threads, 0 = runtime.NumCPU()
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// WebhooksConfig holds platform webhook intake settings. When Secret is set,
// every webhook request must carry a valid HMAC-SHA256 signature over the raw
// body; unsigned or mis-signed requests are rejected with 401.
type WebhooksConfig struct {
	Secret           string `koanf:"secret"`
	RequireSignature bool   `koanf:"require_signature"`
}

// PixelConfig holds storefront pixel intake settings. Pixel traffic is
// browser-originated and unauthenticated, so it gets its own rate limit.
type PixelConfig struct {
	Enabled         bool          `koanf:"enabled"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LiveConfig holds settings for the live dashboard broadcast hub.
//
// MaxConnectionsPerTenant bounds concurrent SSE viewers per store;
// SendBuffer is the per-connection outbound queue depth (a full queue
// drops the connection rather than blocking the broadcaster).
type LiveConfig struct {
	MaxConnectionsPerTenant int           `koanf:"max_connections_per_tenant"`
	SendBuffer              int           `koanf:"send_buffer"`
	KeepaliveInterval       time.Duration `koanf:"keepalive_interval"`
}

// BusConfig holds settings for the in-process event bus connecting
// reconciliation to the broadcast hub.
type BusConfig struct {
	BufferSize int `koanf:"buffer_size"`
}

// EnrichConfig holds product image enrichment settings. Lookups against the
// storefront origin are rate limited and guarded by a circuit breaker.
type EnrichConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Timeout          time.Duration `koanf:"timeout"`
	RatePerSecond    float64       `koanf:"rate_per_second"`
	Burst            int           `koanf:"burst"`
	CacheSize        int           `koanf:"cache_size"`
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

// RetentionConfig holds settings for the session retention purger.
type RetentionConfig struct {
	Enabled       bool          `koanf:"enabled"`
	CheckInterval time.Duration `koanf:"check_interval"`
	DefaultDays   int           `koanf:"default_days"`
}

// IdentityConfig controls how customer identity fields are merged when more
// than one source (checkout, order, pixel) supplies a value. NamePrecedence
// lists sources in priority order; a higher-priority source's value wins
// even if a lower-priority one arrived later.
type IdentityConfig struct {
	NamePrecedence []string `koanf:"name_precedence"`
}

// APIConfig holds dashboard read API pagination limits.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// SecurityConfig holds CORS and global rate limiting settings.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds log output settings.
//
// Environment variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json or console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// identitySources are the valid entries for identity.name_precedence.
var identitySources = map[string]bool{
	"checkout": true,
	"order":    true,
	"pixel":    true,
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateLive(); err != nil {
		return err
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("invalid server timeout: %s (must be positive)", c.Server.Timeout)
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("invalid environment: %q (must be development or production)", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("invalid database threads: %d (must be >= 0)", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateLive() error {
	if c.Live.MaxConnectionsPerTenant < 1 {
		return fmt.Errorf("invalid live max_connections_per_tenant: %d (must be >= 1)", c.Live.MaxConnectionsPerTenant)
	}
	if c.Live.SendBuffer < 1 {
		return fmt.Errorf("invalid live send_buffer: %d (must be >= 1)", c.Live.SendBuffer)
	}
	if c.Live.KeepaliveInterval <= 0 {
		return fmt.Errorf("invalid live keepalive_interval: %s (must be positive)", c.Live.KeepaliveInterval)
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if len(c.Identity.NamePrecedence) == 0 {
		return fmt.Errorf("identity name_precedence must list at least one source")
	}
	for _, src := range c.Identity.NamePrecedence {
		if !identitySources[src] {
			return fmt.Errorf("invalid identity source %q (must be one of: checkout, order, pixel)", src)
		}
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize < 1 {
		return fmt.Errorf("invalid api default_page_size: %d (must be >= 1)", c.API.DefaultPageSize)
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("invalid api max_page_size: %d (must be >= default_page_size)", c.API.MaxPageSize)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Logging.Format)
	}
	return nil
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
