package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Env      string `env:"GQ_ENV,required"`
	HTTPAddr string `env:"GQ_HTTP_ADDR" envDefault:":8080"`
	BaseURL  string `env:"GQ_BASE_URL,required"`

	DBDSN     string `env:"GQ_DB_DSN,required"`
	JWTSecret string `env:"GQ_JWT_SECRET,required"`

	LogLevel string `env:"GQ_LOG_LEVEL" envDefault:"info"`

	SessionDays     int `env:"GQ_SESSION_DAYS" envDefault:"7"`
	LoginRateLimit  int `env:"GQ_LOGIN_RATE_LIMIT" envDefault:"10"`
	AcceptRateLimit int `env:"GQ_ACCEPT_RATE_LIMIT" envDefault:"30"`

	MailRelayURL   string `env:"GQ_MAIL_RELAY_URL"`
	MailRelayToken string `env:"GQ_MAIL_RELAY_TOKEN"`
	MailFrom       string `env:"GQ_MAIL_FROM" envDefault:"Q <q@localhost>"`
	MailTimeoutMS  int    `env:"GQ_MAIL_TIMEOUT_MS" envDefault:"5000"`

	ModulesDir      string `env:"GQ_MODULES_DIR" envDefault:"modules"`
	ModuleCacheSize int    `env:"GQ_MODULE_CACHE_SIZE" envDefault:"256"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.Env = strings.TrimSpace(c.Env)
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("GQ_ENV must be one of: dev, prod (got: %s)", c.Env)
	}

	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return fmt.Errorf("GQ_BASE_URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("GQ_BASE_URL must start with http:// or https:// (got: %s)", c.BaseURL)
	}

	c.DBDSN = strings.TrimSpace(c.DBDSN)
	if c.DBDSN == "" {
		return fmt.Errorf("GQ_DB_DSN is required")
	}

	if c.Env == "prod" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("GQ_JWT_SECRET must be at least 32 characters (currently %d)", len(c.JWTSecret))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("GQ_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	if c.SessionDays <= 0 {
		return fmt.Errorf("GQ_SESSION_DAYS must be positive (got: %d)", c.SessionDays)
	}
	if c.LoginRateLimit <= 0 || c.AcceptRateLimit <= 0 {
		return fmt.Errorf("GQ_LOGIN_RATE_LIMIT and GQ_ACCEPT_RATE_LIMIT must be positive")
	}
	if c.MailTimeoutMS <= 0 || c.MailTimeoutMS > 30000 {
		return fmt.Errorf("GQ_MAIL_TIMEOUT_MS must be between 1 and 30000 (got: %d)", c.MailTimeoutMS)
	}
	if c.ModuleCacheSize <= 0 {
		return fmt.Errorf("GQ_MODULE_CACHE_SIZE must be positive (got: %d)", c.ModuleCacheSize)
	}

	c.MailRelayURL = strings.TrimSpace(c.MailRelayURL)
	if c.Env == "prod" && c.MailRelayURL == "" {
		return fmt.Errorf("GQ_MAIL_RELAY_URL is required in prod")
	}

	return nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	relayToken := ""
	if c.MailRelayToken != "" {
		relayToken = "[REDACTED]"
	}
	return map[string]string{
		"GQ_ENV":               c.Env,
		"GQ_HTTP_ADDR":         c.HTTPAddr,
		"GQ_BASE_URL":          c.BaseURL,
		"GQ_DB_DSN":            redactDSN(c.DBDSN),
		"GQ_JWT_SECRET":        "[REDACTED]",
		"GQ_LOG_LEVEL":         c.LogLevel,
		"GQ_SESSION_DAYS":      fmt.Sprintf("%d", c.SessionDays),
		"GQ_LOGIN_RATE_LIMIT":  fmt.Sprintf("%d", c.LoginRateLimit),
		"GQ_ACCEPT_RATE_LIMIT": fmt.Sprintf("%d", c.AcceptRateLimit),
		"GQ_MAIL_RELAY_URL":    c.MailRelayURL,
		"GQ_MAIL_RELAY_TOKEN":  relayToken,
		"GQ_MAIL_FROM":         c.MailFrom,
		"GQ_MAIL_TIMEOUT_MS":   fmt.Sprintf("%d", c.MailTimeoutMS),
		"GQ_MODULES_DIR":       c.ModulesDir,
		"GQ_MODULE_CACHE_SIZE": fmt.Sprintf("%d", c.ModuleCacheSize),
	}
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}
