package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	DatabaseURL  string `env:"DATABASE_URL,required"`
	SignalingURL string `env:"SIGNALING_URL,required"`

	// Database pool
	DBMaxConns int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns int32 `env:"DB_MIN_CONNS" envDefault:"4"`

	// Metering
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"60s"`
	TopUpCeiling float64       `env:"TOPUP_CEILING" envDefault:"50"`

	// Server
	Port int `env:"PORT" envDefault:"3000"`

	// Audit persistence
	AuditFlushInterval time.Duration `env:"AUDIT_FLUSH_INTERVAL" envDefault:"30s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return cfg, nil
}
