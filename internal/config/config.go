// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all client configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Remote collaborators
	APIBaseURL string
	SocketURL  string

	// Auth
	AuthToken string

	// Connection supervision
	ConnectWaitAttempts int
	ConnectWaitInterval time.Duration
	ReconnectDelay      time.Duration
	DialTimeout         time.Duration

	// Message confirmation
	ConfirmWait time.Duration

	// Debug listener (healthz + metrics); empty disables it
	DebugAddr string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		SocketURL:  getEnv("SOCKET_URL", "ws://localhost:8080/ws"),

		AuthToken: getEnv("AUTH_TOKEN", ""),

		ConnectWaitAttempts: getEnvInt("CONNECT_WAIT_ATTEMPTS", 10),
		ConnectWaitInterval: getEnvDuration("CONNECT_WAIT_INTERVAL", "200ms"),
		ReconnectDelay:      getEnvDuration("RECONNECT_DELAY", "2s"),
		DialTimeout:         getEnvDuration("DIAL_TIMEOUT", "10s"),

		ConfirmWait: getEnvDuration("CONFIRM_WAIT", "3s"),

		DebugAddr: getEnv("DEBUG_ADDR", ""),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return fmt.Errorf("invalid API base URL: %w", err)
	}

	if c.SocketURL == "" {
		return fmt.Errorf("socket URL is required")
	}
	u, err := url.Parse(c.SocketURL)
	if err != nil {
		return fmt.Errorf("invalid socket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("socket URL scheme must be ws or wss, got %q", u.Scheme)
	}

	if c.AuthToken == "" && c.Environment == "production" {
		return fmt.Errorf("auth token is required in production")
	}

	if c.ConnectWaitAttempts < 1 || c.ConnectWaitAttempts > 100 {
		return fmt.Errorf("connect wait attempts must be between 1 and 100")
	}
	if c.ConnectWaitInterval <= 0 {
		return fmt.Errorf("connect wait interval must be positive")
	}
	if c.ConfirmWait <= 0 {
		return fmt.Errorf("confirm wait must be positive")
	}

	return nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}
