package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	AuthJWTSecret      string
	AuthOverrideSecret string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SchedulerIntervalSeconds int

	OtelEnabled          bool
	OtelExporterEndpoint string
}

// Load reads configuration from the environment. A local .env file is
// honored in development and silently skipped elsewhere.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] skipping .env: %v", err)
	}

	return Config{
		AppName:     getEnv("APP_NAME", "tenantcore"),
		AppVersion:  getEnv("APP_VERSION", "dev"),
		Environment: getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		AuthOverrideSecret: getEnv("AUTH_OVERRIDE_SECRET", ""),

		DBType:            getEnv("DB_TYPE", "postgres"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBName:            getEnv("DB_NAME", "tenantcore"),
		DBUser:            getEnv("DB_USER", "tenantcore"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxIdleConn:     getEnvInt("DB_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getEnvInt("DB_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getEnvInt("DB_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SchedulerIntervalSeconds: getEnvInt("SCHEDULER_INTERVAL_SECONDS", 60),

		OtelEnabled:          getEnvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// IsProduction reports whether the app runs with production hardening.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return value
}

func getEnvBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, raw, fallback)
		return fallback
	}
	return value
}
