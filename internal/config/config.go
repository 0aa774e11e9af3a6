package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	AppEnv         string
	Port           string
	AllowedOrigins []string
	BodyLimitBytes int64
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	URL              string
	MaxConns         int
	StatementTimeout time.Duration
}

// RedisConfig configures the optional FX quote cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	FXTTL    time.Duration
}

// IsDevelopment reports whether the process runs with APP_ENV=development.
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development"
}

func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:         getEnv("APP_ENV", "production"),
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", nil),
			BodyLimitBytes: int64(getEnvInt("REQUEST_BODY_LIMIT", 1<<20)),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "info"),
			Encoding:          getEnv("LOGGER_ENCODING", "json"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Postgres: PostgresConfig{
			URL:              getEnv("DATABASE_URL", ""),
			MaxConns:         getEnvInt("DB_MAX_CONNS", 10),
			StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT", 15*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			FXTTL:    getEnvDuration("FX_CACHE_TTL", 6*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
