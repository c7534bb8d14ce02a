package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for the key pool service.
type Config struct {
	HTTPPort     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	JWTSecret      []byte
	JWTTTL         time.Duration
	LoginRateLimit int // login attempts per client IP per minute, 0 disables

	LogLevel string
	Timezone *time.Location

	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Health   HealthConfig
	Stats    StatsConfig
	Admin    AdminConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address disables Redis.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// QueueConfig holds settings of the asynchronous usage ingest queue
type QueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Capacity     int // memory backend buffer, 0 means ten batches
}

// HealthConfig holds upstream liveness check settings
type HealthConfig struct {
	Workers      int
	KeyTimeout   time.Duration // per-key probe timeout
	BatchTimeout time.Duration // wall-clock budget of a whole batch
	UpstreamURL  string        // OpenAI-compatible base URL
	ProbeModel   string
}

// StatsConfig holds aggregation settings
type StatsConfig struct {
	Interval time.Duration
	CacheTTL time.Duration
	LockTTL  time.Duration
}

// AdminConfig holds bootstrap credentials for the first admin account
type AdminConfig struct {
	BootstrapEmail    string
	BootstrapPassword string
}

// source resolves a setting: environment first, then the optional config file
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return s.file[key]
}

func (s source) getEnvInt(key string, defaultValue int) int {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (s source) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func (s source) getEnvString(key string, defaultValue string) string {
	val := s.lookup(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// readFile loads a flat KEY: value document. The format follows the file extension.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	raw := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// Load reads configuration from environment variables, falling back to the
// file named by CONFIG_FILE when set.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	dbURL := src.lookup("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	driver := src.getEnvString("DB_DRIVER", "postgres")
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	tzName := src.getEnvString("TIMEZONE", "Local")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tzName, err)
	}

	cfg := &Config{
		HTTPPort:     src.getEnvString("HTTP_PORT", "8080"),
		ReadTimeout:  src.getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: src.getEnvDuration("HTTP_WRITE_TIMEOUT", 65*time.Minute),
		IdleTimeout:  src.getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		JWTSecret:    []byte(src.getEnvString("JWT_SECRET", "supersecretkey")),
		JWTTTL:       src.getEnvDuration("JWT_TTL", 24*time.Hour),
		LogLevel:     src.getEnvString("LOG_LEVEL", "info"),
		Timezone:     loc,

		LoginRateLimit: src.getEnvInt("LOGIN_RATE_LIMIT", 10),

		Database: DatabaseConfig{
			Driver:          driver,
			URL:             dbURL,
			MaxOpenConns:    src.getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    src.getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: src.getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: src.getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      src.getEnvString("REDIS_ADDRESS", ""),
			Password:     src.getEnvString("REDIS_PASSWORD", ""),
			DB:           src.getEnvInt("REDIS_DB", 0),
			PoolSize:     src.getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: src.getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  src.getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  src.getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: src.getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Queue: QueueConfig{
			BatchSize:    src.getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: src.getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   src.getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: src.getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
			Capacity:     src.getEnvInt("USAGE_QUEUE_CAPACITY", 0),
		},
		Health: HealthConfig{
			Workers:      src.getEnvInt("HEALTH_WORKERS", 10),
			KeyTimeout:   src.getEnvDuration("HEALTH_KEY_TIMEOUT", 30*time.Second),
			BatchTimeout: src.getEnvDuration("HEALTH_BATCH_TIMEOUT", time.Hour),
			UpstreamURL:  src.getEnvString("UPSTREAM_OPENAI_URL", "https://ampcode.com/api/provider/openai/v1"),
			ProbeModel:   src.getEnvString("HEALTH_PROBE_MODEL", "gpt-4o-mini"),
		},
		Stats: StatsConfig{
			Interval: src.getEnvDuration("STATS_INTERVAL", 5*time.Minute),
			CacheTTL: src.getEnvDuration("STATS_CACHE_TTL", 60*time.Second),
			LockTTL:  src.getEnvDuration("STATS_LOCK_TTL", 2*time.Minute),
		},
		Admin: AdminConfig{
			BootstrapEmail:    src.getEnvString("ADMIN_BOOTSTRAP_EMAIL", ""),
			BootstrapPassword: src.getEnvString("ADMIN_BOOTSTRAP_PASSWORD", ""),
		},
	}

	if cfg.Health.Workers < 1 {
		return nil, fmt.Errorf("HEALTH_WORKERS must be positive")
	}
	if cfg.Health.KeyTimeout >= cfg.Health.BatchTimeout {
		return nil, fmt.Errorf("HEALTH_KEY_TIMEOUT must be shorter than HEALTH_BATCH_TIMEOUT")
	}

	return cfg, nil
}
