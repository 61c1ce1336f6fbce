/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults
  2. .env file (or the file named by ENV_FILE), loaded with godotenv;
     variables already set in the environment are not overridden
  3. Environment variables
  4. Command-line flags

VARIABLES:
  PORT                  HTTP port (8080)
  APP_ENV               development | production (development)
  DB_DRIVER             sqlite | postgres | memory (sqlite)
  DB_PATH               SQLite file, ":memory:" allowed (parcelas.db)
  DATABASE_URL          Postgres connection string (DB_DRIVER=postgres)
  LOG_LEVEL             debug | info | warn | error (info)
  CONSISTENCY_INTERVAL  Checker interval, 0 disables (1h)
  SESSION_TTL           Idle edit sessions are dropped after this (2h)
  ALLOWED_ORIGINS       Comma-separated CORS origins
  SEED_SCENARIO         Demo scenario loaded at startup
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port                int
	Env                 string
	DBDriver            string
	DBPath              string
	DatabaseURL         string
	LogLevel            string
	ConsistencyInterval time.Duration
	SessionTTL          time.Duration
	AllowedOrigins      []string
	SeedScenario        string
}

// Load reads the configuration for a process started with args (without
// the program name).
func Load(args []string) (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return Config{}, fmt.Errorf("PORT: %w", err)
	}
	interval, err := time.ParseDuration(getEnv("CONSISTENCY_INTERVAL", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("CONSISTENCY_INTERVAL: %w", err)
	}
	ttl, err := time.ParseDuration(getEnv("SESSION_TTL", "2h"))
	if err != nil {
		return Config{}, fmt.Errorf("SESSION_TTL: %w", err)
	}

	cfg := Config{
		Port:                port,
		Env:                 getEnv("APP_ENV", "development"),
		DBDriver:            getEnv("DB_DRIVER", DriverSQLite),
		DBPath:              getEnv("DB_PATH", "parcelas.db"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		ConsistencyInterval: interval,
		SessionTTL:          ttl,
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "")),
		SeedScenario:        getEnv("SEED_SCENARIO", ""),
	}

	fsFlags := flag.NewFlagSet("server", flag.ContinueOnError)
	fsFlags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fsFlags.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "Store driver: sqlite, postgres or memory")
	fsFlags.StringVar(&cfg.DBPath, "db", cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	fsFlags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	fsFlags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fsFlags.DurationVar(&cfg.ConsistencyInterval, "consistency-interval", cfg.ConsistencyInterval, "Consistency check interval (0 disables)")
	fsFlags.StringVar(&cfg.SeedScenario, "seed", cfg.SeedScenario, "Demo scenario to load at startup")
	if err := fsFlags.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.ConsistencyInterval < 0 {
		return errors.New("CONSISTENCY_INTERVAL must not be negative")
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Production reports whether APP_ENV is production.
func (c Config) Production() bool { return c.Env == "production" }

// NewLogger builds the process logger: JSON in production, console otherwise.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if c.Production() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	return zc.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
