// Package config provides configuration management for the zoom-to-vault application
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ZoomConfig holds Zoom API authentication and connection settings
type ZoomConfig struct {
	AccountID      string `yaml:"account_id" json:"account_id"`
	ClientID       string `yaml:"client_id" json:"client_id"`
	ClientSecret   string `yaml:"client_secret" json:"client_secret"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TokenURL       string `yaml:"token_url" json:"token_url"`
	AuthMode       string `yaml:"auth_mode" json:"auth_mode"` // basic or jwt
	Timezone       string `yaml:"timezone" json:"timezone"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// TimeoutDuration returns the HTTP timeout for metadata calls
func (z ZoomConfig) TimeoutDuration() time.Duration {
	return time.Duration(z.TimeoutSeconds) * time.Second
}

// Location returns the provider-local timezone used for "today" defaults
func (z ZoomConfig) Location() *time.Location {
	if z.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(z.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StorageConfig holds object storage sink settings
type StorageConfig struct {
	Backend           string `yaml:"backend" json:"backend"` // s3 or minio
	Bucket            string `yaml:"bucket" json:"bucket"`
	Region            string `yaml:"region" json:"region"`
	Endpoint          string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID       string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key" json:"-"`
	UseSSL            bool   `yaml:"use_ssl" json:"use_ssl"`
	PathStyle         bool   `yaml:"path_style" json:"path_style"`
	PartSizeMB        int    `yaml:"part_size_mb" json:"part_size_mb"`
	UploadConcurrency int    `yaml:"upload_concurrency" json:"upload_concurrency"`
	URLTTLHours       int    `yaml:"url_ttl_hours" json:"url_ttl_hours"`
	CreateBucket      bool   `yaml:"create_bucket" json:"create_bucket"`
}

// URLTTL returns the default lifetime of issued access URLs
func (s StorageConfig) URLTTL() time.Duration {
	return time.Duration(s.URLTTLHours) * time.Hour
}

// LedgerConfig holds transfer ledger settings
type LedgerConfig struct {
	Backend       string `yaml:"backend" json:"backend"` // file, postgres or redis
	File          string `yaml:"file" json:"file"`
	DSN           string `yaml:"dsn" json:"-"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`
}

// TransferConfig holds orchestrator settings
type TransferConfig struct {
	Concurrency  int      `yaml:"concurrency" json:"concurrency"`
	NamingPolicy string   `yaml:"naming_policy" json:"naming_policy"`
	RootPrefix   string   `yaml:"root_prefix" json:"root_prefix"`
	FileTypes    []string `yaml:"file_types" json:"file_types"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	Console    bool   `yaml:"console" json:"console"`
	JSONFormat bool   `yaml:"json_format" json:"json_format"`
}

// ActiveUsersConfig holds the list of identities processed by sync
type ActiveUsersConfig struct {
	File  string `yaml:"file" json:"file"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// ServerConfig holds the ops HTTP server settings
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Config represents the complete application configuration
type Config struct {
	Zoom        ZoomConfig        `yaml:"zoom" json:"zoom"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Ledger      LedgerConfig      `yaml:"ledger" json:"ledger"`
	Transfer    TransferConfig    `yaml:"transfer" json:"transfer"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	ActiveUsers ActiveUsersConfig `yaml:"active_users" json:"active_users"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// LoadConfig loads configuration from a YAML file with defaults and environment variable overrides.
// A missing file is tolerated so the whole configuration can come from the environment.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := config.loadFromFile(configPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.setDefaults()
	config.loadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func (c *Config) loadFromFile(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// setDefaults applies default values for missing configuration
func (c *Config) setDefaults() {
	if c.Zoom.BaseURL == "" {
		c.Zoom.BaseURL = "https://api.zoom.us/v2"
	}
	if c.Zoom.TokenURL == "" {
		c.Zoom.TokenURL = "https://zoom.us/oauth/token"
	}
	if c.Zoom.AuthMode == "" {
		c.Zoom.AuthMode = "basic"
	}
	if c.Zoom.TimeoutSeconds == 0 {
		c.Zoom.TimeoutSeconds = 30
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "s3"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.PartSizeMB == 0 {
		c.Storage.PartSizeMB = 5
	}
	if c.Storage.UploadConcurrency == 0 {
		c.Storage.UploadConcurrency = 3
	}
	if c.Storage.URLTTLHours == 0 {
		c.Storage.URLTTLHours = 24
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.File == "" {
		c.Ledger.File = "./transfer-ledger.json"
	}
	if c.Ledger.RedisPrefix == "" {
		c.Ledger.RedisPrefix = "zoom-to-vault"
	}

	if c.Transfer.Concurrency == 0 {
		c.Transfer.Concurrency = 8
	}
	if c.Transfer.NamingPolicy == "" {
		c.Transfer.NamingPolicy = "user-meeting"
	}
	if c.Transfer.RootPrefix == "" {
		c.Transfer.RootPrefix = "zoom-recordings"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	// Console defaults to true; a file-only setup is configured through logging.file
	c.Logging.Console = true

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// loadFromEnvironment overrides configuration with environment variables
func (c *Config) loadFromEnvironment() {
	setString(&c.Zoom.AccountID, "ZOOM_ACCOUNT_ID")
	setString(&c.Zoom.ClientID, "ZOOM_CLIENT_ID")
	setString(&c.Zoom.ClientSecret, "ZOOM_CLIENT_SECRET")
	setString(&c.Zoom.BaseURL, "ZOOM_BASE_URL")
	setString(&c.Zoom.TokenURL, "ZOOM_TOKEN_URL")
	setString(&c.Zoom.AuthMode, "ZOOM_AUTH_MODE")
	setString(&c.Zoom.Timezone, "ZOOM_TIMEZONE")

	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.Bucket, "STORAGE_BUCKET")
	setString(&c.Storage.Region, "AWS_REGION")
	setString(&c.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&c.Storage.AccessKeyID, "STORAGE_ACCESS_KEY_ID")
	setString(&c.Storage.SecretAccessKey, "STORAGE_SECRET_ACCESS_KEY")

	setString(&c.Ledger.Backend, "LEDGER_BACKEND")
	setString(&c.Ledger.File, "LEDGER_FILE")
	setString(&c.Ledger.DSN, "DATABASE_URL")
	setString(&c.Ledger.RedisAddr, "REDIS_ADDR")
	setString(&c.Ledger.RedisPassword, "REDIS_PASSWORD")

	if val := os.Getenv("TRANSFER_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Transfer.Concurrency = n
		}
	}
	setString(&c.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	if c.Zoom.AccountID == "" {
		return fmt.Errorf("zoom.account_id is required")
	}
	if c.Zoom.ClientID == "" {
		return fmt.Errorf("zoom.client_id is required")
	}
	if c.Zoom.ClientSecret == "" {
		return fmt.Errorf("zoom.client_secret is required")
	}
	switch c.Zoom.AuthMode {
	case "basic", "jwt":
	default:
		return fmt.Errorf("zoom.auth_mode must be one of: basic, jwt")
	}
	if c.Zoom.Timezone != "" {
		if _, err := time.LoadLocation(c.Zoom.Timezone); err != nil {
			return fmt.Errorf("zoom.timezone is invalid: %w", err)
		}
	}

	switch c.Storage.Backend {
	case "s3", "minio":
	default:
		return fmt.Errorf("storage.backend must be one of: s3, minio")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
		return fmt.Errorf("storage.endpoint is required for the minio backend")
	}
	if c.Storage.PartSizeMB < 5 {
		return fmt.Errorf("storage.part_size_mb must be at least 5")
	}

	switch c.Ledger.Backend {
	case "file":
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres backend")
		}
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be one of: file, postgres, redis")
	}

	if c.Transfer.Concurrency <= 0 {
		return fmt.Errorf("transfer.concurrency must be greater than 0")
	}
	switch c.Transfer.NamingPolicy {
	case "user-meeting", "user-topic", "flat":
	default:
		return fmt.Errorf("transfer.naming_policy must be one of: user-meeting, user-topic, flat")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return nil
}

// WantsFileType reports whether sync should transfer files of the given provider type
func (t TransferConfig) WantsFileType(fileType string) bool {
	if len(t.FileTypes) == 0 {
		return true
	}
	for _, ft := range t.FileTypes {
		if strings.EqualFold(ft, fileType) {
			return true
		}
	}
	return false
}
