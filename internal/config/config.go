package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	JWT           JWTConfig          `yaml:"jwt"`
	Storage       StorageConfig      `yaml:"storage"`
	Log           LogConfig          `yaml:"log"`
	Email         EmailConfig        `yaml:"email"`
	Notifications NotificationConfig `yaml:"notifications"`
	Lending       LendingConfig      `yaml:"lending"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// EmbedScheduler runs the cron scheduler inside the server process.
	EmbedScheduler bool `yaml:"embed_scheduler"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	// EnsureSchema applies the embedded schema at startup.
	EnsureSchema bool `yaml:"ensure_schema"`
}

// JWTConfig contains bearer token settings. Without a secret the X-Username
// header set by an authenticating proxy is trusted instead.
type JWTConfig struct {
	Secret            string        `yaml:"secret"`
	Issuer            string        `yaml:"issuer"`
	AccessTokenExpiry time.Duration `yaml:"access_token_expiry"`
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// StorageConfig selects the repository implementation
type StorageConfig struct {
	Type string `yaml:"type"` // "postgres" or "memory"
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// EmailConfig contains SendGrid settings. Without an API key mail is only logged.
type EmailConfig struct {
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
}

// NotificationConfig sizes the notification dispatcher
type NotificationConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBase       time.Duration `yaml:"retry_base"`
	EmailsPerSecond float64       `yaml:"emails_per_second"`
	EmailBurst      int           `yaml:"email_burst"`
}

// LendingConfig contains borrow-request lifecycle settings
type LendingConfig struct {
	RequestTTL   time.Duration `yaml:"request_ttl"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

// RetryConfig bounds retries on optimistic-version conflicts
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	JitterFactor float64       `yaml:"jitter_factor"`
}

// SchedulerConfig contains cron schedule settings (seconds field first)
type SchedulerConfig struct {
	ExpireBorrowRequests string `yaml:"expire_borrow_requests"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes, then applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() error {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Storage
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		c.Storage.Type = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Email
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.Email.SendGridAPIKey = val
	}
	if val := os.Getenv("EMAIL_FROM"); val != "" {
		c.Email.FromEmail = val
	}

	// Lending
	if val := os.Getenv("LENDING_REQUEST_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid LENDING_REQUEST_TTL %q: %w", val, err)
		}
		c.Lending.RequestTTL = ttl
	}
	return nil
}

// Validate fills defaults and checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// JWT validation
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "shelfshare"
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = time.Hour
	}

	// Storage validation
	c.Storage.Type = strings.ToLower(c.Storage.Type)
	if c.Storage.Type == "" {
		c.Storage.Type = StoragePostgres
	}
	switch c.Storage.Type {
	case StoragePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage type: %q", c.Storage.Type)
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Email defaults
	if c.Email.FromName == "" {
		c.Email.FromName = "ShelfShare"
	}
	if c.Email.SendGridAPIKey != "" && c.Email.FromEmail == "" {
		return fmt.Errorf("email from_email is required when a SendGrid key is set")
	}

	// Notification defaults
	if c.Notifications.Workers == 0 {
		c.Notifications.Workers = 2
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 3
	}
	if c.Notifications.RetryBase == 0 {
		c.Notifications.RetryBase = time.Second
	}
	if c.Notifications.EmailsPerSecond == 0 {
		c.Notifications.EmailsPerSecond = 5
	}
	if c.Notifications.EmailBurst == 0 {
		c.Notifications.EmailBurst = 10
	}
	if c.Notifications.Workers < 0 || c.Notifications.QueueSize < 0 || c.Notifications.MaxRetries < 0 {
		return fmt.Errorf("notification workers, queue_size and max_retries must not be negative")
	}

	// Lending defaults
	if c.Lending.RequestTTL == 0 {
		c.Lending.RequestTTL = 72 * time.Hour
	}
	if c.Lending.RequestTTL < 0 {
		return fmt.Errorf("invalid lending request_ttl: %s", c.Lending.RequestTTL)
	}
	if c.Lending.StoreTimeout == 0 {
		c.Lending.StoreTimeout = 5 * time.Second
	}
	if c.Lending.Retry.MaxAttempts == 0 {
		c.Lending.Retry.MaxAttempts = 6
	}
	if c.Lending.Retry.BaseDelay == 0 {
		c.Lending.Retry.BaseDelay = 10 * time.Millisecond
	}
	if c.Lending.Retry.JitterFactor == 0 {
		c.Lending.Retry.JitterFactor = 0.3
	}
	if c.Lending.Retry.MaxAttempts < 0 {
		return fmt.Errorf("invalid lending retry max_attempts: %d", c.Lending.Retry.MaxAttempts)
	}
	if c.Lending.Retry.JitterFactor < 0 || c.Lending.Retry.JitterFactor > 1 {
		return fmt.Errorf("invalid lending retry jitter_factor: %v", c.Lending.Retry.JitterFactor)
	}

	// Scheduler defaults
	if c.Scheduler.ExpireBorrowRequests == "" {
		c.Scheduler.ExpireBorrowRequests = "0 0 * * * *" // Hourly, on the hour
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
