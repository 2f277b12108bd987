package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported DB_DRIVER values
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds all configuration for the ingestion services
type Config struct {
	AppEnv   string
	LogLevel slog.Level

	// Database
	DBDriver     string
	DatabasePath string // SQLite file, used when DBDriver is sqlite
	DatabaseURL  string // DSN for postgres/mysql
	DBLogSQL     bool

	// iRail upstream
	IRailBaseURL   string
	IRailUserAgent string
	IRailLang      string
	RequestTimeout time.Duration

	// Batch ingestion
	FetchConcurrency    int
	FetchMaxAttempts    int
	RateLimitBackoff    time.Duration
	TransientRetryDelay time.Duration
	PollInterval        time.Duration
	DefaultStation      string

	// Station directory refresh
	StationRefreshDays int
	CacheDir           string

	// HTTP API
	Port               string
	CORSAllowedOrigins []string
	APICacheTTL        time.Duration

	// MQTT run notifications (disabled when MQTTBroker is empty)
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string
}

// LoadDotEnv loads the base .env file and then lets .env.local override it.
// Missing files are ignored.
func LoadDotEnv(dir string) {
	if dir == "" {
		dir = "."
	}
	_ = godotenv.Load(dir + "/.env")
	_ = godotenv.Overload(dir + "/.env.local")
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	appEnv := getEnv("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:   appEnv,
		LogLevel: level,

		DBDriver:     strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DatabasePath: getEnv("SQLITE_DATABASE", "./data/irail.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		DBLogSQL:     getEnvBool("DB_LOG_SQL", false),

		IRailBaseURL:   getEnv("IRAIL_BASE_URL", "https://api.irail.be/"),
		IRailUserAgent: getEnv("IRAIL_USER_AGENT", "irail-liveboards/1.0 (https://github.com/michiel-rondelez/challenge-azure)"),
		IRailLang:      getEnv("IRAIL_LANG", "en"),

		FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", 5),
		FetchMaxAttempts: getEnvInt("FETCH_MAX_ATTEMPTS", 3),
		PollInterval:     time.Duration(getEnvInt("POLL_INTERVAL", 900)) * time.Second,
		DefaultStation:   getEnv("DEFAULT_STATION", "Brussels-Central"),

		StationRefreshDays: getEnvInt("STATION_REFRESH_DAYS", 7),
		CacheDir:           getEnv("CACHE_DIR", "./data/cache"),

		Port:               getEnv("PORT", "8081"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTPort:     getEnvInt("MQTT_PORT", 1883),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "irail-ingest"),
		MQTTTopic:    getEnv("MQTT_TOPIC", "irail/ingest/runs"),
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"REQUEST_TIMEOUT", "10s", &cfg.RequestTimeout},
		{"RATE_LIMIT_BACKOFF", "2s", &cfg.RateLimitBackoff},
		{"TRANSIENT_RETRY_DELAY", "1s", &cfg.TransientRetryDelay},
		{"API_CACHE_TTL", "30s", &cfg.APICacheTTL},
	}
	for _, d := range durations {
		raw := getEnv(d.key, d.def)
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.key, raw, err)
		}
		*d.dest = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DSN returns the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.DatabasePath
	}
	return c.DatabaseURL
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("SQLITE_DATABASE must not be empty")
		}
	case DriverPostgres, DriverMySQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for DB_DRIVER=%s", c.DBDriver)
		}
	default:
		return fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite, postgres, mysql)", c.DBDriver)
	}

	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be >= 1, got %d", c.FetchConcurrency)
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be >= 1, got %d", c.FetchMaxAttempts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
