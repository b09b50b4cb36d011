// Package config loads runtime configuration for the event loop and
// protocol engine, ensuring no hardcoded values exist in business logic.
// Defaults match the constants from the protocol design (keep-alive
// ceiling, DNS cache TTL, max frame size, …); every field is validated so
// an operator override can never leave the runtime in a nonsensical
// state.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/loopwire/loopwire/internal/obslog"
)

// Config holds all dynamic configuration for the runtime.
type Config struct {
	// LogLevel is parsed via logrus.ParseLevel; empty means "info".
	LogLevel string `validate:"omitempty,oneof=panic fatal error warn info debug trace"`

	// MaxLineLength bounds a single HTTP status/header line (spec §6).
	MaxLineLength int `validate:"required,gt=0"`

	// WriteChunkLimit / BigChunkLimit bound outgoing HTTP stream writer
	// accumulation before an implicit drain (spec §6).
	WriteChunkLimit int `validate:"required,gt=0"`
	BigChunkLimit   int `validate:"required,gt=0"`

	// KeepAliveTimeout is the maximum idle duration the connection pool
	// retains a connection (spec §6).
	KeepAliveTimeout time.Duration `validate:"required,gt=0"`

	// DNSCacheTimeout is the connector's DNS cache TTL (spec §6).
	DNSCacheTimeout time.Duration `validate:"required,gt=0"`

	// WebSocketMaxSize is the default max WebSocket payload size (spec §6).
	WebSocketMaxSize int64 `validate:"required,gt=0"`

	// WebSocketCloseTimeout bounds the close handshake (spec §6).
	WebSocketCloseTimeout time.Duration `validate:"required,gt=0"`

	// MaxRedirects bounds HTTP client redirect-follow hops.
	MaxRedirects int `validate:"required,gt=0"`

	// LaxRedirects selects the non-RFC-strict 301/302 POST→GET downgrade
	// (Open Question #2 in SPEC_FULL.md).
	LaxRedirects bool
}

// Defaults returns the baseline configuration using the constants named
// in the protocol design's configuration surface.
func Defaults() *Config {
	return &Config{
		LogLevel:              "info",
		MaxLineLength:         8190,
		WriteChunkLimit:       65536,
		BigChunkLimit:         65536,
		KeepAliveTimeout:      15 * time.Second,
		DNSCacheTimeout:       10 * time.Second,
		WebSocketMaxSize:      67108864,
		WebSocketCloseTimeout: 10 * time.Second,
		MaxRedirects:          10,
		LaxRedirects:          false,
	}
}

var validate = validator.New()

// Load reads a .env file (if present), overlays process environment
// variables onto the defaults, validates the result, and applies the log
// level to the shared logger.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Missing .env is not fatal; operators may configure purely via
		// the real environment.
		_ = godotenv.Load(envFile)
	}

	cfg := Defaults()
	cfg.LogLevel = getEnv("LOOPWIRE_LOG_LEVEL", cfg.LogLevel)
	cfg.MaxLineLength = getEnvInt("LOOPWIRE_MAX_LINE_LENGTH", cfg.MaxLineLength)
	cfg.WriteChunkLimit = getEnvInt("LOOPWIRE_WRITE_CHUNK_LIMIT", cfg.WriteChunkLimit)
	cfg.BigChunkLimit = getEnvInt("LOOPWIRE_BIG_CHUNK_LIMIT", cfg.BigChunkLimit)
	cfg.KeepAliveTimeout = getEnvDuration("LOOPWIRE_KEEP_ALIVE_TIMEOUT", cfg.KeepAliveTimeout)
	cfg.DNSCacheTimeout = getEnvDuration("LOOPWIRE_DNS_CACHE_TIMEOUT", cfg.DNSCacheTimeout)
	cfg.WebSocketMaxSize = int64(getEnvInt("LOOPWIRE_WS_MAX_SIZE", int(cfg.WebSocketMaxSize)))
	cfg.WebSocketCloseTimeout = getEnvDuration("LOOPWIRE_WS_CLOSE_TIMEOUT", cfg.WebSocketCloseTimeout)
	cfg.MaxRedirects = getEnvInt("LOOPWIRE_MAX_REDIRECTS", cfg.MaxRedirects)
	cfg.LaxRedirects = getEnvBool("LOOPWIRE_LAX_REDIRECTS", cfg.LaxRedirects)

	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		obslog.SetLevel(lvl)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
