package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string

	// Mail API provider
	ProviderAPIURL       string
	ProviderTokenURL     string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderHTTPTimeout  time.Duration

	// Sync engine
	SyncDaysWithin          int
	FullSyncPollInterval    time.Duration
	FullSyncPollTimeout     time.Duration
	IncrementalSyncInterval time.Duration
	SyncPassTimeout         time.Duration
	SyncMaxWorkers          int

	// Optional. Sync events are only published to JetStream when set.
	NATSURL string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:          env,
		EncryptionKeyBase64:  os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		DBHost:               getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:               getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:           getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:           os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:               getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:            getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                 getEnvOrDefault("PORT", "11764"),
		Timezone:             getEnvOrDefault("TZ", "UTC"),
		ProviderAPIURL:       getEnvOrDefault("MAILSYNC_PROVIDER_API_URL", "https://api.aurinko.io/v1"),
		ProviderTokenURL:     getEnvOrDefault("MAILSYNC_PROVIDER_TOKEN_URL", "https://api.aurinko.io/v1/auth/token"),
		ProviderClientID:     os.Getenv("MAILSYNC_PROVIDER_CLIENT_ID"),
		ProviderClientSecret: os.Getenv("MAILSYNC_PROVIDER_CLIENT_SECRET"),
		NATSURL:              os.Getenv("MAILSYNC_NATS_URL"),
	}

	var err error
	if config.ProviderHTTPTimeout, err = getDurationOrDefault("MAILSYNC_PROVIDER_HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.FullSyncPollInterval, err = getDurationOrDefault("MAILSYNC_FULL_SYNC_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if config.FullSyncPollTimeout, err = getDurationOrDefault("MAILSYNC_FULL_SYNC_POLL_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if config.IncrementalSyncInterval, err = getDurationOrDefault("MAILSYNC_INCREMENTAL_SYNC_INTERVAL", 2*time.Minute); err != nil {
		return nil, err
	}
	if config.SyncPassTimeout, err = getDurationOrDefault("MAILSYNC_SYNC_PASS_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if config.SyncDaysWithin, err = getIntOrDefault("MAILSYNC_SYNC_DAYS_WITHIN", 3); err != nil {
		return nil, err
	}
	if config.SyncMaxWorkers, err = getIntOrDefault("MAILSYNC_SYNC_MAX_WORKERS", 4); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if !isValidPort(c.DBPort) {
		return fmt.Errorf("MAILSYNC_DB_PORT is not a valid port number: %q", c.DBPort)
	}
	if !isValidPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number: %q", c.Port)
	}

	if c.ProviderClientID == "" || c.ProviderClientSecret == "" {
		return fmt.Errorf("MAILSYNC_PROVIDER_CLIENT_ID and MAILSYNC_PROVIDER_CLIENT_SECRET are required")
	}
	if !isHTTPURL(c.ProviderAPIURL) {
		return fmt.Errorf("MAILSYNC_PROVIDER_API_URL must use http:// or https:// scheme")
	}
	if !isHTTPURL(c.ProviderTokenURL) {
		return fmt.Errorf("MAILSYNC_PROVIDER_TOKEN_URL must use http:// or https:// scheme")
	}

	if c.FullSyncPollInterval <= 0 || c.FullSyncPollTimeout < c.FullSyncPollInterval {
		return fmt.Errorf("MAILSYNC_FULL_SYNC_POLL_TIMEOUT must be at least MAILSYNC_FULL_SYNC_POLL_INTERVAL")
	}
	if c.IncrementalSyncInterval <= 0 {
		return fmt.Errorf("MAILSYNC_INCREMENTAL_SYNC_INTERVAL must be positive")
	}
	if c.SyncPassTimeout <= 0 {
		return fmt.Errorf("MAILSYNC_SYNC_PASS_TIMEOUT must be positive")
	}
	if c.SyncDaysWithin <= 0 {
		return fmt.Errorf("MAILSYNC_SYNC_DAYS_WITHIN must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %w", key, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	return n, nil
}

func isValidPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
