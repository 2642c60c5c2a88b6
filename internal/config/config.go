package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Registry backends
const (
	RegistryBackendFile     = "file"
	RegistryBackendDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string

	// Logging configuration
	LogLevel     string
	EventLogPath string

	// Routing configuration
	Domain        string
	CaddyfilePath string

	// Storage configuration
	AppsDir         string
	RegistryBackend string
	RegistryPath    string
	MaxArchiveBytes int64
	ArchiveBucket   string

	// AWS configuration
	AWSRegion             string
	DynamoDBRegistryTable string

	// Admin credentials
	AdminToken         string
	AdminJWTSigningKey string

	// Deploy lifecycle
	AppTTL         time.Duration
	PortBase       int
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
	ReapInterval   time.Duration
	StatusTTL      time.Duration

	// Build queue
	QueueConcurrency int
	QueueBacklog     int

	invalid []string
}

// New creates a new Config instance by loading environment variables
// from .env file (if present) and OS environment.
// OS environment variables take precedence over .env file values.
// Panics if configuration values are invalid.
func New() *Config {
	envPath := filepath.Join(".", ".env")
	_ = godotenv.Load(envPath)

	cfg := &Config{
		Port: getEnvOrDefault("PORT", "3100"),

		LogLevel:     getEnvOrDefault("LOG_LEVEL", "INFO"),
		EventLogPath: getEnvOrDefault("EVENT_LOG_PATH", "/srv/spun-api/deploys.jsonl"),

		Domain:        getEnvOrDefault("DOMAIN", "spun.run"),
		CaddyfilePath: getEnvOrDefault("CADDYFILE_PATH", "/etc/caddy/Caddyfile"),

		AppsDir:         getEnvOrDefault("APPS_DIR", "/srv/apps"),
		RegistryBackend: getEnvOrDefault("REGISTRY_BACKEND", RegistryBackendFile),
		RegistryPath:    getEnvOrDefault("REGISTRY_PATH", "/srv/apps/registry.json"),
		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),

		AWSRegion:             getEnvOrDefault("AWS_REGION", "us-east-1"),
		DynamoDBRegistryTable: getEnvOrDefault("DYNAMODB_REGISTRY_TABLE", "SpunRegistry"),

		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		AdminJWTSigningKey: os.Getenv("ADMIN_JWT_SIGNING_KEY"),
	}

	cfg.MaxArchiveBytes = int64(cfg.intOrDefault("MAX_ARCHIVE_BYTES", 10*1024*1024))
	cfg.AppTTL = cfg.durationOrDefault("APP_TTL", 24*time.Hour)
	cfg.PortBase = cfg.intOrDefault("PORT_BASE", 3001)
	cfg.InstallTimeout = cfg.durationOrDefault("INSTALL_TIMEOUT", 120*time.Second)
	cfg.BuildTimeout = cfg.durationOrDefault("BUILD_TIMEOUT", 180*time.Second)
	cfg.ReapInterval = cfg.durationOrDefault("REAP_INTERVAL", 5*time.Minute)
	cfg.StatusTTL = cfg.durationOrDefault("STATUS_TTL", 24*time.Hour)
	cfg.QueueConcurrency = cfg.intOrDefault("QUEUE_CONCURRENCY", 2)
	cfg.QueueBacklog = cfg.intOrDefault("QUEUE_BACKLOG", 5)

	cfg.validate()

	return cfg
}

// validate checks that all configuration values are present and valid
func (c *Config) validate() {
	invalid := append([]string(nil), c.invalid...)

	if c.RegistryBackend != RegistryBackendFile && c.RegistryBackend != RegistryBackendDynamoDB {
		invalid = append(invalid, "REGISTRY_BACKEND")
	}
	if c.PortBase < 1024 || c.PortBase > 65535 {
		invalid = append(invalid, "PORT_BASE")
	}
	if c.QueueConcurrency < 1 {
		invalid = append(invalid, "QUEUE_CONCURRENCY")
	}
	if c.QueueBacklog < 0 {
		invalid = append(invalid, "QUEUE_BACKLOG")
	}
	if c.MaxArchiveBytes <= 0 {
		invalid = append(invalid, "MAX_ARCHIVE_BYTES")
	}
	if c.AppTTL <= 0 {
		invalid = append(invalid, "APP_TTL")
	}

	if len(invalid) > 0 {
		panic(fmt.Sprintf("Invalid configuration values: %v", invalid))
	}
}

// intOrDefault parses an integer environment variable, recording the key as
// invalid when it does not parse
func (c *Config) intOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return parsed
}

// durationOrDefault parses a duration environment variable such as "24h"
func (c *Config) durationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return parsed
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetPort returns the server port
func (c *Config) GetPort() string {
	return c.Port
}

// GetLogLevel returns the logging level
func (c *Config) GetLogLevel() string {
	return c.LogLevel
}

// HasAdmin reports whether any admin credential is configured
func (c *Config) HasAdmin() bool {
	return c.AdminToken != "" || c.AdminJWTSigningKey != ""
}
