package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CookieConfig enumerates the session cookie flags explicitly instead of
// branching on the environment inside handlers.
type CookieConfig struct {
	Secure      bool
	Domain      string
	AuthPath    string
	AccessName  string
	RefreshName string
	CSRFName    string
}

// Config contains runtime configuration values.
type Config struct {
	Environment        string
	HTTPPort           string
	DatabaseURL        string
	OrganizationID     string
	ServiceName        string
	AdminEmail         string
	AdminPassword      string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration
	LockoutThreshold   int
	LockoutDuration    time.Duration
	LoginRateLimit     int
	LoginRateWindow    time.Duration
	CounterTimeout     time.Duration
	MinPasswordLength  int
	RateLimitRPM       int
	Cookies            CookieConfig
	TelemetryEndpoint  string
	TelemetryInsecure  bool
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:        getEnv("APP_ENV", "development"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		OrganizationID:     getEnv("ORGANIZATION_ID", "pain-tracker"),
		ServiceName:        getEnv("SERVICE_NAME", "clinician-auth"),
		AdminEmail:         strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:      strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		RedisAddr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0),
		AccessTokenTTL:     getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ResetTokenTTL:      getDuration("RESET_TOKEN_TTL", time.Hour),
		LockoutThreshold:   getInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:    getDuration("LOCKOUT_DURATION", 30*time.Minute),
		LoginRateLimit:     getInt("LOGIN_RATE_LIMIT", 5),
		LoginRateWindow:    getDuration("LOGIN_RATE_WINDOW", time.Hour),
		CounterTimeout:     getDuration("COUNTER_TIMEOUT", 500*time.Millisecond),
		MinPasswordLength:  getInt("MIN_PASSWORD_LENGTH", 8),
		RateLimitRPM:       getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods: getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders: getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-CSRF-Token"}),
	}

	cfg.Cookies = CookieConfig{
		Secure:      getBool("COOKIE_SECURE", cfg.Environment != "development"),
		Domain:      getEnv("COOKIE_DOMAIN", ""),
		AuthPath:    getEnv("COOKIE_AUTH_PATH", "/auth"),
		AccessName:  "accessToken",
		RefreshName: "refreshToken",
		CSRFName:    "csrfToken",
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.LockoutThreshold < 1 {
		return Config{}, fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if cfg.LoginRateLimit < 1 {
		return Config{}, fmt.Errorf("LOGIN_RATE_LIMIT must be at least 1")
	}
	if cfg.MinPasswordLength < 8 {
		cfg.MinPasswordLength = 8
	}

	return cfg, nil
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

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
