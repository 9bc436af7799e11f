// Package server provides configuration helpers that define runtime defaults,
// validation, and gateway parameters for the petrel service.
package server

import (
	"os"
	"strconv"
	"strings"
)

// WebSocketConfig defines the parameters of the optional WebSocket gateway.
type WebSocketConfig struct {
	Enabled        bool
	Addr           string
	AllowedOrigins []string
}

// Config holds the server configuration settings.
type Config struct {
	ListenAddr     string
	Workers        int
	AuditPath      string
	MaxPayloadSize int
	WebSocket      WebSocketConfig
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":7777",
		Workers:        2,
		MaxPayloadSize: 1 << 20,
		WebSocket: WebSocketConfig{
			Enabled: false,
			Addr:    ":8080",
			AllowedOrigins: []string{
				"http://localhost:8080",
			},
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}

	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}

	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = defaults.MaxPayloadSize
	}

	if cfg.WebSocket.Addr == "" {
		cfg.WebSocket.Addr = defaults.WebSocket.Addr
	}

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	// Load PETREL_LISTEN_ADDR
	if addr := os.Getenv("PETREL_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	// Load PETREL_WORKERS
	if workers := os.Getenv("PETREL_WORKERS"); workers != "" {
		cfg.Workers = parseIntValue(workers, cfg.Workers)
	}

	// Load PETREL_AUDIT_FILE
	if path := os.Getenv("PETREL_AUDIT_FILE"); path != "" {
		cfg.AuditPath = path
	}

	// Load PETREL_MAX_PAYLOAD_SIZE
	if maxSize := os.Getenv("PETREL_MAX_PAYLOAD_SIZE"); maxSize != "" {
		cfg.MaxPayloadSize = parseIntValue(maxSize, cfg.MaxPayloadSize)
	}

	// Load PETREL_WS_ADDR (setting it enables the gateway)
	if addr := os.Getenv("PETREL_WS_ADDR"); addr != "" {
		cfg.WebSocket.Enabled = true
		cfg.WebSocket.Addr = addr
	}

	// Load PETREL_WS_ALLOWED_ORIGINS
	if origins := os.Getenv("PETREL_WS_ALLOWED_ORIGINS"); origins != "" {
		cfg.WebSocket.AllowedOrigins = parseOrigins(origins)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}
