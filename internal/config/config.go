package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultGatewayRPS  = 5
)

// Config holds the client configuration
type Config struct {
	APIBase     string
	StoreDSN    string
	HTTPTimeout time.Duration
	GatewayRPS  float64
	LogLevel    slog.Level
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTPTimeout: defaultHTTPTimeout,
		GatewayRPS:  defaultGatewayRPS,
		LogLevel:    slog.LevelInfo,
	}

	// Load API_BASE (required)
	apiBase := strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE")), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("API_BASE environment variable is required")
	}
	u, err := url.Parse(apiBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("API_BASE must be an http(s) URL, got %q", apiBase)
	}
	cfg.APIBase = apiBase

	// Load STORE_DSN (optional, defaults to a SQLite file in the user config dir)
	if dsn := os.Getenv("STORE_DSN"); dsn != "" {
		cfg.StoreDSN = dsn
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("STORE_DSN not set and no user config dir: %w", err)
		}
		cfg.StoreDSN = filepath.Join(dir, "lexconsult", "store.db")
	}

	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("HTTP_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.HTTPTimeout = d
	}

	// GATEWAY_RPS of 0 disables client-side limiting
	if v := os.Getenv("GATEWAY_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("GATEWAY_RPS must be a non-negative number, got %q", v)
		}
		cfg.GatewayRPS = rps
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}
