// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cartscope/config.yaml",
	"/etc/cartscope/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8350,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:                   "/data/cartscope.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Webhooks: WebhooksConfig{
			Secret:           "",
			RequireSignature: true,
		},
		Pixel: PixelConfig{
			Enabled:         true,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Live: LiveConfig{
			MaxConnectionsPerTenant: 20,
			SendBuffer:              64,
			KeepaliveInterval:       25 * time.Second,
		},
		Bus: BusConfig{
			BufferSize: 256,
		},
		Enrich: EnrichConfig{
			Enabled:          true,
			Timeout:          5 * time.Second,
			RatePerSecond:    2,
			Burst:            4,
			CacheSize:        2048,
			BreakerThreshold: 5,
			BreakerCooldown:  60 * time.Second,
		},
		Retention: RetentionConfig{
			Enabled:       true,
			CheckInterval: time.Hour,
			DefaultDays:   30,
		},
		Identity: IdentityConfig{
			// Checkout-supplied identity wins over order, order over pixel.
			NamePrecedence: []string{"checkout", "order", "pixel"},
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Security: SecurityConfig{
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variable names map to koanf paths via the table below:
	// WEBHOOK_SECRET -> webhooks.secret, DUCKDB_PATH -> database.path, etc.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when supplied via env vars.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"identity.name_precedence",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config
// paths. Unmapped keys return empty string and are skipped, which prevents
// unrelated environment variables from polluting the config.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - WEBHOOK_SECRET -> webhooks.secret
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Webhook mappings
		"webhook_secret":            "webhooks.secret",
		"webhook_require_signature": "webhooks.require_signature",

		// Pixel mappings
		"pixel_enabled":           "pixel.enabled",
		"pixel_rate_limit":        "pixel.rate_limit_reqs",
		"pixel_rate_limit_window": "pixel.rate_limit_window",

		// Live broadcast mappings
		"live_max_connections":    "live.max_connections_per_tenant",
		"live_send_buffer":        "live.send_buffer",
		"live_keepalive_interval": "live.keepalive_interval",

		// Event bus mappings
		"bus_buffer_size": "bus.buffer_size",

		// Enrichment mappings
		"enrich_enabled":           "enrich.enabled",
		"enrich_timeout":           "enrich.timeout",
		"enrich_rate_per_second":   "enrich.rate_per_second",
		"enrich_burst":             "enrich.burst",
		"enrich_cache_size":        "enrich.cache_size",
		"enrich_breaker_threshold": "enrich.breaker_threshold",
		"enrich_breaker_cooldown":  "enrich.breaker_cooldown",

		// Retention mappings
		"retention_enabled":        "retention.enabled",
		"retention_check_interval": "retention.check_interval",
		"retention_default_days":   "retention.default_days",

		// Identity merge mappings
		"identity_name_precedence": "identity.name_precedence",

		// API mappings
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",

		// Security mappings
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
