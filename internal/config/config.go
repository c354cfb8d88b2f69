// Package config loads and validates the link registry configuration from
// YAML with environment variable overrides.
package config

import (
	"fmt"
)

// Default configuration values.
const (
	defaultServiceName  = "link-registry"
	defaultServicePort  = 8094
	defaultVersion      = "0.1.0"
	defaultTokenBytes   = 32
	defaultMaxBatchSize = 1000
	defaultPageSize     = 50
	defaultBaseURL      = "https://prod.qsights.com"
	defaultLoggingLevel = "info"
	defaultLoggingFmt   = "json"
	defaultDBHost       = "localhost"
	defaultDBPort       = 5432
	defaultDBName       = "link_registry"
	defaultDBUser       = "postgres"
	defaultDBSSLMode    = "disable"

	defaultMaxRequestsPerMinute = 30
	defaultWindowSeconds        = 60
)

// Config holds the application configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"LINK_REGISTRY_PORT"       yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"                yaml:"debug"`
	// JWTSecret validates bearer tokens on the admin surface. Token issuance
	// belongs to the identity service.
	JWTSecret string `env:"LINK_REGISTRY_JWT_SECRET" yaml:"jwt_secret"`
	// PublicBaseURL is the participant-facing frontend origin used when
	// building full redemption URLs.
	PublicBaseURL string `env:"LINK_REGISTRY_BASE_URL"   yaml:"public_base_url"`
	// TokenBytes is the number of random bytes per redemption token before
	// base64 encoding.
	TokenBytes int `yaml:"token_bytes"`
	// MaxBatchSize caps the number of links a single generate call may create.
	MaxBatchSize int `yaml:"max_batch_size"`
	// PageSize is the number of links returned per list page.
	PageSize int `yaml:"page_size"`
	// CORSOrigins are the origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_allowed_origins"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_LINK_REGISTRY_HOST"     yaml:"host"`
	Port     int    `env:"POSTGRES_LINK_REGISTRY_PORT"     yaml:"port"`
	User     string `env:"POSTGRES_LINK_REGISTRY_USER"     yaml:"user"`
	Password string `env:"POSTGRES_LINK_REGISTRY_PASSWORD" yaml:"password"`
	Database string `env:"POSTGRES_LINK_REGISTRY_DB"       yaml:"database"`
	SSLMode  string `env:"POSTGRES_LINK_REGISTRY_SSLMODE"  yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// URL returns the PostgreSQL URL form used by the migration tool.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// RateLimitConfig holds rate limiting configuration for the public endpoints.
type RateLimitConfig struct {
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`
	WindowSeconds        int `yaml:"window_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	return loadWithDefaults[Config](path, setDefaults)
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setDatabaseDefaults(&cfg.Database)
	setRateLimitDefaults(&cfg.RateLimit)
	setLoggingDefaults(&cfg.Logging)
}

// setServiceDefaults applies default values to ServiceConfig.
func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
	if svc.PublicBaseURL == "" {
		svc.PublicBaseURL = defaultBaseURL
	}
	if svc.TokenBytes == 0 {
		svc.TokenBytes = defaultTokenBytes
	}
	if svc.MaxBatchSize == 0 {
		svc.MaxBatchSize = defaultMaxBatchSize
	}
	if svc.PageSize == 0 {
		svc.PageSize = defaultPageSize
	}
	if len(svc.CORSOrigins) == 0 {
		svc.CORSOrigins = []string{"*"}
	}
}

// setDatabaseDefaults applies default values to DatabaseConfig.
func setDatabaseDefaults(db *DatabaseConfig) {
	if db.Host == "" {
		db.Host = defaultDBHost
	}
	if db.Port == 0 {
		db.Port = defaultDBPort
	}
	if db.User == "" {
		db.User = defaultDBUser
	}
	if db.Database == "" {
		db.Database = defaultDBName
	}
	if db.SSLMode == "" {
		db.SSLMode = defaultDBSSLMode
	}
}

// setRateLimitDefaults applies default values to RateLimitConfig.
func setRateLimitDefaults(rl *RateLimitConfig) {
	if rl.MaxRequestsPerMinute == 0 {
		rl.MaxRequestsPerMinute = defaultMaxRequestsPerMinute
	}
	if rl.WindowSeconds == 0 {
		rl.WindowSeconds = defaultWindowSeconds
	}
}

// setLoggingDefaults applies default values to LoggingConfig.
func setLoggingDefaults(log *LoggingConfig) {
	if log.Level == "" {
		log.Level = defaultLoggingLevel
	}
	if log.Format == "" {
		log.Format = defaultLoggingFmt
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if c.Service.JWTSecret == "" {
		return &ValidationError{
			Field:   "service.jwt_secret",
			Message: "is required",
		}
	}
	return nil
}
