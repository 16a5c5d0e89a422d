// Package config handles configuration loading for twilio-realtime-relay
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned by Validate when OPENAI_API_KEY is not set
var ErrMissingAPIKey = errors.New("missing OpenAI API key")

const (
	defaultAgentName         = "Pairrot Support"
	defaultAgentInstructions = "You are a warm, concise phone support assistant. " +
		"Listen carefully, acknowledge the caller's need, provide short helpful answers, " +
		"and do not request or perform tool calls."
)

// Config holds all configuration for twilio-realtime-relay
type Config struct {
	// HTTP / WebSocket listener
	Host    string
	Port    int
	GinMode string

	// OpenAI Realtime
	OpenAIAPIKey  string
	RealtimeURL   string
	RealtimeModel string
	RealtimeVoice string

	// Agent persona
	AgentName         string
	AgentInstructions string

	// WebSocket
	WSHandshakeTimeout time.Duration
	WSWriteTimeout     time.Duration

	// Cache
	ValkeyURL      string
	ValkeyPassword string
	ValkeyDB       int
	ActiveCallTTL  time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool
	MetricsPath    string

	// Docs
	SwaggerEnabled bool
}

// Load loads configuration from environment variables
func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Host:    getEnv("HOST", "0.0.0.0"),
		Port:    getEnvInt("PORT", 3000),
		GinMode: getEnv("GIN_MODE", "release"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		RealtimeURL:   getEnv("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel: getEnv("OPENAI_REALTIME_MODEL", "gpt-realtime"),
		RealtimeVoice: getEnv("OPENAI_REALTIME_VOICE", "alloy"),

		AgentName:         getEnv("AGENT_NAME", defaultAgentName),
		AgentInstructions: getEnv("AGENT_INSTRUCTIONS", defaultAgentInstructions),

		WSHandshakeTimeout: getEnvDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		WSWriteTimeout:     getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),

		ValkeyURL:      getEnv("VALKEY_URL", ""),
		ValkeyPassword: getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:       getEnvInt("VALKEY_DB", 0),
		ActiveCallTTL:  getEnvDuration("ACTIVE_CALL_TTL", time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		MetricsPath:    getEnv("METRICS_PATH", "/metrics"),

		SwaggerEnabled: getEnvBool("SWAGGER_ENABLED", true),
	}
}

// Validate reports configuration that must stop the process before it listens
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv returns environment variable or default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns environment variable as bool or default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns environment variable as duration or default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
