package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL     string `env:"DATABASE_URL,required"`
	CardTokenSecret string `env:"CARD_TOKEN_SECRET,required"`
	WebhookSecret   string `env:"WEBHOOK_SECRET,required"`
	WebhookURL      string `env:"CONTRACT_WEBHOOK_URL" envDefault:"http://contract-service:8081/webhooks/escrow"`
	Port            int    `env:"PORT" envDefault:"8080"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv          string `env:"APP_ENV" envDefault:"production"`

	AuthorizationHoldTTLHours int `env:"AUTH_HOLD_TTL_HOURS" envDefault:"168"`
	EscrowSweepIntervalS      int `env:"ESCROW_SWEEP_INTERVAL_S" envDefault:"60"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
