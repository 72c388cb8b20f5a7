package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the flowbot runtime.
type Config struct {
	AppEnv string

	Bot       BotConfig       `mapstructure:"bot" validate:"required"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis" validate:"required"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Flows     FlowsConfig     `mapstructure:"flows"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

// BotConfig configures the Telegram transport.
type BotConfig struct {
	Token       string        `mapstructure:"token" validate:"required"`
	Mode        string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	Webhook     string        `mapstructure:"webhook"`
	Timeout     time.Duration `mapstructure:"timeout"`
	AdminChatID int64         `mapstructure:"admin_chat_id"`
}

// ServerConfig configures the auxiliary HTTP server (metrics, health).
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// EngineConfig tunes the chain execution engine.
type EngineConfig struct {
	MaxChainSteps    int           `mapstructure:"max_chain_steps"`
	DefaultParseMode string        `mapstructure:"default_parse_mode"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
}

// FlowsConfig points the registry at authored flow definitions.
type FlowsConfig struct {
	Dir       string `mapstructure:"dir" validate:"required"`
	DefaultID string `mapstructure:"default_id" validate:"required"`
	Watch     bool   `mapstructure:"watch"`
}

// RateLimitConfig controls the per-user update limiter.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PerUser   int           `mapstructure:"per_user"`
	Window    time.Duration `mapstructure:"window"`
	Whitelist []int64       `mapstructure:"whitelist"`
}

// JobsConfig configures the asynq worker pool.
type JobsConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level    string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format   string `mapstructure:"format" validate:"oneof=text json"`
	File     string `mapstructure:"file"`
	MaxSize  int    `mapstructure:"max_size"`
	MaxAge   int    `mapstructure:"max_age"`
	Backups  int    `mapstructure:"backups"`
	Compress bool   `mapstructure:"compress"`
}

// SentryConfig controls error reporting.
type SentryConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	DSN     string  `mapstructure:"dsn"`
	Rate    float64 `mapstructure:"rate"`
}

// DSN returns the PostgreSQL connection string assembled from config values.
func (c DatabaseConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslmode,
	)
}

// MaxChainStepsOrDefault returns the configured chain budget, falling back to 50.
func (c EngineConfig) MaxChainStepsOrDefault() int {
	if c.MaxChainSteps > 0 {
		return c.MaxChainSteps
	}
	return 50
}
