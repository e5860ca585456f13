package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AuditPageSize is the fixed page size of both log tabs
const AuditPageSize = 10

// Config is the console configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains web console listener settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// LoginRateLimit is the number of login attempts allowed per IP per minute
	LoginRateLimit int `yaml:"login_rate_limit"`
}

// BackendConfig points at the REST API the console consumes
type BackendConfig struct {
	BaseURL   string        `yaml:"base_url"`
	LoginPath string        `yaml:"login_path"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SessionConfig contains session persistence settings
type SessionConfig struct {
	Path       string        `yaml:"path"`        // bbolt file
	CookieName string        `yaml:"cookie_name"` // browser session cookie
	TTL        time.Duration `yaml:"ttl"`         // idle sessions older than this are purged
	Secure     bool          `yaml:"secure"`      // set the Secure cookie flag
}

// AuditConfig contains audit log viewer settings
type AuditConfig struct {
	PageSize          int           `yaml:"page_size"`
	LookupConcurrency int           `yaml:"lookup_concurrency"` // parallel admin lookups per detail view
	LookupWait        time.Duration `yaml:"lookup_wait"`        // how long a detail page waits for lookups
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // empty serves metrics on the console listener
	Path       string   `yaml:"path"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8090"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.LoginRateLimit == 0 {
		c.Server.LoginRateLimit = 10
	}

	if c.Backend.LoginPath == "" {
		c.Backend.LoginPath = "/api/admins/login"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}

	if c.Session.Path == "" {
		c.Session.Path = "/var/lib/backoffice/sessions.db"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "backoffice_session"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}

	if c.Audit.PageSize == 0 {
		c.Audit.PageSize = AuditPageSize
	}
	if c.Audit.LookupConcurrency == 0 {
		c.Audit.LookupConcurrency = 4
	}
	if c.Audit.LookupWait == 0 {
		c.Audit.LookupWait = 3 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) URL: %q", c.Backend.BaseURL)
	}

	if c.Audit.PageSize != AuditPageSize {
		return fmt.Errorf("audit.page_size is fixed at %d", AuditPageSize)
	}
	if c.Audit.LookupConcurrency < 1 {
		return fmt.Errorf("audit.lookup_concurrency must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
