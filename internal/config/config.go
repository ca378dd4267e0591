// Package config validates and holds the gateway's process configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the gateway.
type Config struct {
	// Required
	GatewayAddr     string
	AuthAddr        string
	ChatServiceAddr string
	NodeMAC         [6]byte

	// Optional, defaulted
	GoEnv           string
	LogLevel        string
	AllowedOrigins  string
	DevelopmentMode bool

	AuthMode string // "rpc", "jwks", or "dev"

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	RateLimitWsIP      string
	RateLimitWsUser    string
	RateLimitHistory   string
	SessionMailboxCap  int
	RoomCleanupPeriod  time.Duration
	PersistMaxRetries  int
	PersistRetryBase   time.Duration
}

// ValidateEnv validates all required environment variables and returns a
// Config. Returns an error describing every violation found, not just the
// first.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.GatewayAddr = os.Getenv("GATEWAY_ADDR")
	if cfg.GatewayAddr == "" {
		errs = append(errs, "GATEWAY_ADDR is required")
	}

	cfg.AuthAddr = os.Getenv("AUTH_ADDR")
	cfg.ChatServiceAddr = os.Getenv("CHAT_SERVICE_ADDR")
	if cfg.ChatServiceAddr == "" {
		errs = append(errs, "CHAT_SERVICE_ADDR is required")
	} else if !isValidHostPort(cfg.ChatServiceAddr) {
		errs = append(errs, fmt.Sprintf("CHAT_SERVICE_ADDR must be in format 'host:port' (got %q)", cfg.ChatServiceAddr))
	}

	nodeMAC := os.Getenv("NODE_MAC")
	if nodeMAC == "" {
		errs = append(errs, "NODE_MAC is required")
	} else if mac, err := parseMAC(nodeMAC); err != nil {
		errs = append(errs, fmt.Sprintf("NODE_MAC invalid: %v", err))
	} else {
		cfg.NodeMAC = mac
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.AuthMode = getEnvOrDefault("AUTH_MODE", "rpc")
	if cfg.AuthMode == "rpc" && cfg.AuthAddr == "" {
		errs = append(errs, "AUTH_ADDR is required when AUTH_MODE=rpc")
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")
	cfg.RateLimitHistory = getEnvOrDefault("RATE_LIMIT_API_HISTORY", "200-M")

	cfg.SessionMailboxCap = getEnvIntOrDefault("SESSION_MAILBOX_CAPACITY", 100)
	cfg.RoomCleanupPeriod = getEnvDurationOrDefault("ROOM_CLEANUP_INTERVAL", 60*time.Second)
	cfg.PersistMaxRetries = getEnvIntOrDefault("PERSIST_MAX_RETRIES", 3)
	cfg.PersistRetryBase = getEnvDurationOrDefault("PERSIST_RETRY_BASE", 100*time.Millisecond)

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return mac, fmt.Errorf("expected 6 colon-separated hex octets, got %d", len(parts))
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("octet %d (%q) is not valid hex: %w", i, p, err)
		}
		mac[i] = byte(b)
	}
	return mac, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"gateway_addr", cfg.GatewayAddr,
		"auth_mode", cfg.AuthMode,
		"auth_addr", cfg.AuthAddr,
		"chat_service_addr", cfg.ChatServiceAddr,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"session_mailbox_capacity", cfg.SessionMailboxCap,
		"room_cleanup_period", cfg.RoomCleanupPeriod,
		"persist_max_retries", cfg.PersistMaxRetries,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
