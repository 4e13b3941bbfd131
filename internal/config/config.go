package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Log       LogConfig
	Cache     CacheConfig
	Dashboard DashboardConfig
	Sire      SireConfig
	Snapshot  SnapshotConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port int `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host       string `env:"DB_HOST" envDefault:"localhost"`
	Port       int    `env:"DB_PORT" envDefault:"5432"`
	Username   string `env:"DB_USERNAME" envDefault:"postgres"`
	Password   string `env:"DB_PASSWORD" envDefault:"password"`
	DBName     string `env:"DB_NAME" envDefault:"sts_clearance"`
	SSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	TestDBName string `env:"TEST_DB_NAME" envDefault:"sts_clearance_test"` // Separate database for testing
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET" envDefault:"your-secret-key-here"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

// LogConfig holds the logger configuration
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Encoding    string `env:"LOG_ENCODING" envDefault:"json"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// CacheConfig selects the cache backend ("memory" or "redis")
type CacheConfig struct {
	Backend       string `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// DashboardConfig holds the business parameters of the dashboard projections
type DashboardConfig struct {
	CacheTTL              time.Duration `env:"DASHBOARD_CACHE_TTL" envDefault:"5m"`
	GracePeriodDays       float64       `env:"DEMURRAGE_GRACE_PERIOD_DAYS" envDefault:"0"`
	DefaultCommissionRate float64       `env:"COMMISSION_DEFAULT_RATE" envDefault:"0.015"`
	Tenant                string        `env:"DASHBOARD_TENANT"`
}

// SireConfig configures the external SIRE inspection API.
// An empty URL selects the deterministic offline provider.
type SireConfig struct {
	APIURL   string        `env:"SIRE_API_URL"`
	APIKey   string        `env:"SIRE_API_KEY"`
	Timeout  time.Duration `env:"SIRE_API_TIMEOUT" envDefault:"10s"`
	CacheTTL time.Duration `env:"SIRE_CACHE_TTL" envDefault:"24h"`
}

// SnapshotConfig schedules the daily metric snapshot job
type SnapshotConfig struct {
	Enabled  bool   `env:"SNAPSHOT_ENABLED" envDefault:"true"`
	Schedule string `env:"SNAPSHOT_SCHEDULE" envDefault:"0 0 1 * * *"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration from environment variables.
// When APP_ENV=local a .env file is read first.
func LoadConfig(path ...string) (*Config, error) {
	const op = "config.LoadConfig"

	if os.Getenv("APP_ENV") == "local" {
		if err := godotenv.Load(path...); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: load .env: %w", op, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.Dashboard.GracePeriodDays < 0 {
		return nil, fmt.Errorf("%s: DEMURRAGE_GRACE_PERIOD_DAYS must be non-negative", op)
	}
	if cfg.Dashboard.DefaultCommissionRate < 0 || cfg.Dashboard.DefaultCommissionRate > 1 {
		return nil, fmt.Errorf("%s: COMMISSION_DEFAULT_RATE must be within [0, 1]", op)
	}

	return &cfg, nil
}
