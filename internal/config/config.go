// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the environment-derived settings shared by the API and
// worker binaries. Queue tuning (attempts, backoff, retention) lives in
// pulse.Config; this covers only process wiring.
type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9090"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	QueueName   string        `env:"QUEUE_NAME" envDefault:"pulse-jobs"`
	Concurrency int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
	MaxAttempts int           `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	RateMax     int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return c, nil
}
