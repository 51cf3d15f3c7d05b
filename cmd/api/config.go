package main

import (
	"log/slog"
	"time"

	"github.com/herohabits/hpledger/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" envDefault:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Postgres   config.PostgresConfig
	Auth       config.AuthConfig
	Webhook    config.WebhookConfig
	IAP        config.IAPConfig
	Ads        config.AdsConfig
	Rates      config.RateConfig
	Settlement config.SettlementConfig
	Points     config.PointsConfig
}
