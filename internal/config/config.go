package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment       string
	HTTPPort          string
	DatabaseURL       string
	JWTSecret         string
	JWTExpiration     time.Duration
	JWTCookieDays     int
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	MailFrom          string
	AdminEmail        string
	AdminPassword     string
	ServiceName       string
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET_KEY"),
		JWTExpiration:     getDuration("JWT_EXPIRATION", 24*time.Hour),
		JWTCookieDays:     getInt("JWT_COOKIE_EXPIRES_IN", 7),
		SMTPHost:          getEnv("SMTP_HOST", "127.0.0.1"),
		SMTPPort:          getInt("SMTP_PORT", 587),
		SMTPUsername:      os.Getenv("SMTP_USERNAME"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		MailFrom:          getEnv("MAIL_FROM", "no-reply@shopdunk.local"),
		AdminEmail:        strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		ServiceName:       getEnv("SERVICE_NAME", "shop-dunk-auth"),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if cfg.JWTCookieDays < 1 {
		cfg.JWTCookieDays = 1
	}

	return cfg, nil
}

// IsProduction reports whether the production deployment mode is active.
// It controls the session cookie's secure flag.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// CookieTTL is the session cookie lifetime derived from JWT_COOKIE_EXPIRES_IN.
func (c Config) CookieTTL() time.Duration {
	return time.Duration(c.JWTCookieDays) * 24 * time.Hour
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
