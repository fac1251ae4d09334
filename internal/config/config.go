package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Addr             string        `env:"WARRANTLY_ADDR" envDefault:":8080"`
	PostgresDSN      string        `env:"WARRANTLY_PG_DSN"`
	StaffAuthSecret  string        `env:"WARRANTLY_AUTH_SECRET,required"`
	TokenSecret      string        `env:"WARRANTLY_TOKEN_SECRET,required"`
	TokenTTL         time.Duration `env:"WARRANTLY_TOKEN_TTL" envDefault:"72h"`
	RedisAddr        string        `env:"WARRANTLY_REDIS_ADDR"`
	NotifyStream     string        `env:"WARRANTLY_NOTIFY_STREAM" envDefault:"warranty_events"`
	PublicRateBurst  int           `env:"WARRANTLY_PUBLIC_RATE_BURST" envDefault:"20"`
	PublicRatePerSec int           `env:"WARRANTLY_PUBLIC_RATE_PER_SEC" envDefault:"5"`
	MaxBodyBytes     int64         `env:"WARRANTLY_MAX_BODY_BYTES" envDefault:"1048576"` // 1MB
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
