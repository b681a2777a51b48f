/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults
  2. Environment variables
  3. Command-line flags

FLAGS / ENVIRONMENT:
  -port            BILLING_PORT            HTTP port (default 8080)
  -db              BILLING_DB              SQLite path, ":memory:" allowed (default billing.db)
  -seed            BILLING_SEED            Load demo data on startup (default false)
  -sweep-schedule  BILLING_SWEEP_SCHEDULE  Cron spec for the cancellation sweep,
                                           "off" disables it (default @daily)
  -log-level       LOG_LEVEL               debug, info, warn, error
  -log-format      LOG_FORMAT              text or json
  -cors-origins    BILLING_CORS_ORIGINS    Comma-separated allowed origins
  -shutdown-timeout BILLING_SHUTDOWN_TIMEOUT
*/
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepDisabled turns the cancellation sweep off.
const SweepDisabled = "off"

type Config struct {
	Server ServerConfig

	DBPath string
	Seed   bool

	// SweepSchedule is a standard cron spec or descriptor such as @daily.
	SweepSchedule string

	LogLevel  string
	LogFormat string
}

type ServerConfig struct {
	Port            int
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load builds the configuration from the environment and args (without the
// program name), then validates it.
func Load(args []string) (*Config, error) {
	cfg := fromEnv()

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "load demo data on startup")
	fs.StringVar(&cfg.SweepSchedule, "sweep-schedule", cfg.SweepSchedule, "cron spec for the cancellation sweep, or \"off\"")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.DurationVar(&cfg.Server.ShutdownTimeout, "shutdown-timeout", cfg.Server.ShutdownTimeout, "graceful shutdown timeout")
	origins := fs.String("cors-origins", strings.Join(cfg.Server.CORSOrigins, ","), "comma-separated CORS origins")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Server.CORSOrigins = splitList(*origins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("BILLING_PORT", 8080),
			CORSOrigins:     splitList(getEnv("BILLING_CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: getEnvDuration("BILLING_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		DBPath:        getEnv("BILLING_DB", "billing.db"),
		Seed:          getEnvBool("BILLING_SEED", false),
		SweepSchedule: getEnv("BILLING_SWEEP_SCHEDULE", "@daily"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
	}
}

// SweepEnabled reports whether the cancellation sweep should be scheduled.
func (c *Config) SweepEnabled() bool {
	return c.SweepSchedule != "" && !strings.EqualFold(c.SweepSchedule, SweepDisabled)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Server.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.SweepEnabled() {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", c.SweepSchedule, err)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
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

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
