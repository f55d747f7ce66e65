// Package config loads gateway configuration from a TOML file and
// environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	CRM       CRMConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AuthToken, when set, is required as a bearer token on every
	// non-health request.
	AuthToken string
}

// RedisConfig holds Redis connection settings for the record cache.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CRMConfig holds upstream CRM API settings.
type CRMConfig struct {
	BaseURL        string
	AccessToken    string
	MaxRetries     int
	RequestTimeout time.Duration
}

// RateLimitConfig holds sliding-window rate limiter settings.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// CacheConfig holds record cache settings.
type CacheConfig struct {
	TTL time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human-readable console output instead of JSON
}

// Load loads configuration from a TOML file and environment variables.
// Priority (highest to lowest):
//  1. Environment variables with CRM_ prefix (e.g., CRM_CRM_ACCESS_TOKEN)
//  2. config.toml
//  3. Built-in defaults
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

	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
			AuthToken:    v.GetString("server.auth_token"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		CRM: CRMConfig{
			BaseURL:        v.GetString("crm.base_url"),
			AccessToken:    v.GetString("crm.access_token"),
			MaxRetries:     v.GetInt("crm.max_retries"),
			RequestTimeout: v.GetDuration("crm.request_timeout"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: v.GetInt("rate_limit.max_requests"),
			Window:      v.GetDuration("rate_limit.window"),
		},
		Cache: CacheConfig{
			TTL: v.GetDuration("cache.ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.CRM.BaseURL == "" {
		cfg.CRM.BaseURL = "https://api.hubapi.com/crm/v3"
	}
	if cfg.CRM.MaxRetries == 0 {
		cfg.CRM.MaxRetries = 3
	}
	if cfg.CRM.RequestTimeout == 0 {
		cfg.CRM.RequestTimeout = 30 * time.Second
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 95
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 10 * time.Second
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 300 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// validate checks that the loaded configuration is usable.
func (c *Config) validate() error {
	parsed, err := url.Parse(c.CRM.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid crm.base_url %q", c.CRM.BaseURL)
	}
	if c.CRM.MaxRetries < 0 {
		return fmt.Errorf("crm.max_retries must not be negative, got %d", c.CRM.MaxRetries)
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be at least 1, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return nil
}

// RedisAddr returns the host:port address for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
