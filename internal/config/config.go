package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/koios/purpleqr/pkg/models"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Render   RenderConfig
	Redis    RedisConfig
	Session  SessionConfig
	LogLevel string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// RenderConfig holds renderer defaults and limits
type RenderConfig struct {
	Workers         int
	Timeout         time.Duration
	Debounce        time.Duration
	MaxLogoBytes    int64
	Width           int
	Height          int
	ColorDark       string
	ColorLight      string
	ErrorCorrection string
	QuietZone       int
}

// RedisConfig holds Redis-related configuration. An empty Addr selects the
// in-memory export cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// SessionConfig bounds the editing sessions kept in memory
type SessionConfig struct {
	TTL         time.Duration
	MaxSessions int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	defaults := models.DefaultStyle()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Render: RenderConfig{
			Workers:         getEnvAsInt("RENDER_WORKERS", 4),
			Timeout:         getEnvAsDuration("RENDER_TIMEOUT", 10*time.Second),
			Debounce:        getEnvAsDuration("RENDER_DEBOUNCE", 100*time.Millisecond),
			MaxLogoBytes:    int64(getEnvAsInt("RENDER_MAX_LOGO_BYTES", 2<<20)),
			Width:           getEnvAsInt("RENDER_WIDTH", defaults.Width),
			Height:          getEnvAsInt("RENDER_HEIGHT", defaults.Height),
			ColorDark:       getEnv("RENDER_COLOR_DARK", defaults.ColorDark),
			ColorLight:      getEnv("RENDER_COLOR_LIGHT", defaults.ColorLight),
			ErrorCorrection: getEnv("RENDER_ERROR_CORRECTION", string(defaults.ErrorCorrection)),
			QuietZone:       getEnvAsInt("RENDER_QUIET_ZONE", defaults.QuietZone),
		},
		Redis: RedisConfig{
			Addr:      getRedisAddr(),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			TTL:       getEnvAsDuration("REDIS_TTL", time.Hour),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "purpleqr/export"),
		},
		Session: SessionConfig{
			TTL:         getEnvAsDuration("SESSION_TTL", 30*time.Minute),
			MaxSessions: getEnvAsInt("SESSION_MAX", 1000),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if _, err := cfg.DefaultStyle(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultStyle is the style new sessions start with
func (c *Config) DefaultStyle() (models.Style, error) {
	level, err := models.ParseErrorCorrectionLevel(c.Render.ErrorCorrection)
	if err != nil {
		return models.Style{}, fmt.Errorf("RENDER_ERROR_CORRECTION: %w", err)
	}

	style := models.Style{
		Width:           c.Render.Width,
		Height:          c.Render.Height,
		ColorDark:       c.Render.ColorDark,
		ColorLight:      c.Render.ColorLight,
		ErrorCorrection: level,
		QuietZone:       c.Render.QuietZone,
	}
	if err := style.Validate(); err != nil {
		return models.Style{}, fmt.Errorf("render defaults: %w", err)
	}
	return style, nil
}

// NewLogger builds a production logger at the given level
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or whole seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getRedisAddr prefers REDIS_URL (with or without the redis:// scheme) over REDIS_ADDR
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", "")
}
