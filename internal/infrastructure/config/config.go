package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/nusapanel/panel/backend/internal/providers/filesystem"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Files     FilesConfig
	Auth      AuthConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// FilesConfig holds file manager limits and the tenant home layout.
type FilesConfig struct {
	HomeBase       string `envconfig:"FILES_HOME_BASE" default:"/home"`
	MaxReadSize    int64  `envconfig:"FILES_MAX_READ_SIZE" default:"10485760"`
	MaxUploadSize  int64  `envconfig:"FILES_MAX_UPLOAD_SIZE" default:"104857600"`
	MaxExtractSize int64  `envconfig:"FILES_MAX_EXTRACT_SIZE" default:"1073741824"`
	SearchLimit    int    `envconfig:"FILES_SEARCH_LIMIT" default:"50"`
	SearchMaxLimit int    `envconfig:"FILES_SEARCH_MAX_LIMIT" default:"1000"`
}

// Limits converts the file settings into filesystem limits
func (f FilesConfig) Limits() filesystem.Limits {
	return filesystem.Limits{
		MaxReadSize:    f.MaxReadSize,
		MaxUploadSize:  f.MaxUploadSize,
		MaxExtractSize: f.MaxExtractSize,
		SearchLimit:    f.SearchLimit,
		MaxSearchLimit: f.SearchMaxLimit,
	}
}

// AuthConfig holds bearer token verification settings.
// An empty secret disables authentication and the tenant header is trusted instead.
type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	JWTIssuer string `envconfig:"AUTH_JWT_ISSUER"`
}

// Enabled reports whether tokens are verified
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects limits that would make every request fail
func (c *Config) Validate() error {
	switch {
	case c.Files.HomeBase == "":
		return fmt.Errorf("invalid config: FILES_HOME_BASE is empty")
	case c.Files.MaxReadSize <= 0:
		return fmt.Errorf("invalid config: FILES_MAX_READ_SIZE must be positive")
	case c.Files.MaxUploadSize <= 0:
		return fmt.Errorf("invalid config: FILES_MAX_UPLOAD_SIZE must be positive")
	case c.Files.MaxExtractSize <= 0:
		return fmt.Errorf("invalid config: FILES_MAX_EXTRACT_SIZE must be positive")
	case c.Files.SearchLimit <= 0 || c.Files.SearchLimit > c.Files.SearchMaxLimit:
		return fmt.Errorf("invalid config: FILES_SEARCH_LIMIT must be between 1 and FILES_SEARCH_MAX_LIMIT")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	limits := filesystem.DefaultLimits()
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Files: FilesConfig{
			HomeBase:       "/home",
			MaxReadSize:    limits.MaxReadSize,
			MaxUploadSize:  limits.MaxUploadSize,
			MaxExtractSize: limits.MaxExtractSize,
			SearchLimit:    limits.SearchLimit,
			SearchMaxLimit: limits.MaxSearchLimit,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
	}
}
