package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const devJWTSecret = "dev-secret-change-in-production"

type Config struct {
	Port        string
	Env         string
	LogLevel    slog.Level
	DatabaseDSN string

	JWTSecret      string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	CookieSecure   bool

	OTPTTL        time.Duration
	PendingTTL    time.Duration
	LedgerBackend string
	SweepInterval time.Duration

	Redis RedisConfig
	SMTP  SMTPConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SMTPConfig is left with an empty Host in development, which selects the
// log-only mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func Load() Config {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getLevel("LOG_LEVEL", slog.LevelInfo),
		DatabaseDSN: getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/notely?parseTime=true"),

		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		AccessTokenTTL: getDuration("ACCESS_TOKEN_TTL", time.Hour),
		SessionTTL:     getDuration("SESSION_TTL", 7*24*time.Hour),

		OTPTTL:        getDuration("OTP_TTL", 5*time.Minute),
		PendingTTL:    getDuration("PENDING_TTL", 10*time.Minute),
		LedgerBackend: getEnv("LEDGER_BACKEND", "memory"),
		SweepInterval: getDuration("SWEEP_INTERVAL", time.Minute),

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("MAIL_FROM", "no-reply@notely.local"),
		},
	}
	cfg.CookieSecure = getBool("COOKIE_SECURE", cfg.IsProduction())

	if cfg.IsProduction() && cfg.JWTSecret == devJWTSecret {
		slog.Error("JWT_SECRET must be set in production environment")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET is empty, logins will fail")
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getLevel(key string, fallback slog.Level) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(os.Getenv(key)))); err != nil {
		return fallback
	}
	return lvl
}
