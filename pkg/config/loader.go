// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"os"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// missing env files are fine; real deployments pass env vars directly
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", "10s")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("engine.max_chain_steps", 50)
	v.SetDefault("engine.default_parse_mode", "HTML")
	v.SetDefault("engine.lock_ttl", "30s")
	v.SetDefault("flows.watch", true)
	v.SetDefault("rate_limit.per_user", 20)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("jobs.concurrency", 10)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("sentry.rate", 1.0)
}
