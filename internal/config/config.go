package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	PublicURL   string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Auth      AuthConfig
	Email     EmailConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Admin     AdminConfig
	Janitor   JanitorConfig

	CatalogPath string
}

type AuthConfig struct {
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	LinkTTL        time.Duration
	ExpiringSoon   time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Configured reports whether an SMTP transport was provided.
func (c EmailConfig) Configured() bool {
	return c.SMTPHost != "" && c.SMTPUsername != "" && c.SMTPPassword != ""
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	SigninRate  float64
	SigninBurst int
	LockTTL     time.Duration
}

type AdminConfig struct {
	Email    string
	Password string
}

// JanitorConfig controls the background purge of dead sessions and links.
type JanitorConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "fintrack"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":4000"),
		PublicURL:    strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:4000"), "/"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", ""),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fintrack"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "fintrack.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Auth: AuthConfig{
			AccessTokenTTL: getenvDuration("AUTH_ACCESS_TOKEN_TTL", time.Hour),
			SessionTTL:     getenvDuration("AUTH_SESSION_TTL", 7*24*time.Hour),
			LinkTTL:        getenvDuration("AUTH_LINK_TTL", 24*time.Hour),
			ExpiringSoon:   getenvDuration("AUTH_EXPIRING_SOON_WINDOW", time.Hour),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: strings.TrimSpace(getenv("SMTP_USER", "")),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "Finance Tracker <no-reply@fintrack.local>"),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			SigninRate:  getenvFloat("RATE_LIMIT_SIGNIN_RATE", 0.2),
			SigninBurst: getenvInt("RATE_LIMIT_SIGNIN_BURST", 10),
			LockTTL:     getenvDuration("RATE_LIMIT_REVOKE_LOCK_TTL", 30*time.Second),
		},
		Admin: AdminConfig{
			Email:    strings.ToLower(strings.TrimSpace(getenv("ADMIN_EMAIL", ""))),
			Password: getenv("ADMIN_PASSWORD", ""),
		},
		Janitor: JanitorConfig{
			Enabled:   getenvBool("JANITOR_ENABLED", true),
			Interval:  getenvDuration("JANITOR_INTERVAL", 10*time.Minute),
			Retention: getenvDuration("JANITOR_RETENTION", 24*time.Hour),
			BatchSize: getenvInt("JANITOR_BATCH_SIZE", 500),
		},
		CatalogPath: strings.TrimSpace(getenv("CATALOG_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
