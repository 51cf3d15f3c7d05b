// Package config holds the environment-driven configuration for all hpledger
// binaries. Values are loaded with pkg/envconf; anything without an
// envDefault is required at startup.
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"16"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"8"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// AuthConfig covers both trust boundaries of the HTTP surface: user bearer
// tokens and the shared secret the settlement cron authenticates with.
type AuthConfig struct {
	JWTSecret  string `env:"AUTH_JWT_SECRET"`
	CronSecret string `env:"CRON_SHARED_SECRET"`
}

// WebhookConfig configures payment-provider webhook verification. A missing
// secret is a startup error, never an implicit bypass.
type WebhookConfig struct {
	Secret    string        `env:"PAYMENT_WEBHOOK_SECRET"`
	Tolerance time.Duration `env:"PAYMENT_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

type IAPConfig struct {
	PlaySecret string          `env:"IAP_PLAY_SECRET"`
	FeeRate    decimal.Decimal `env:"IAP_FEE_RATE" envDefault:"0.15"`
}

type AdsConfig struct {
	Networks []string `env:"AD_NETWORKS" envDefault:"admob,unity,applovin"`
	RewardHP int64    `env:"AD_REWARD_HP" envDefault:"5"`
}

// RateConfig is the per-reason sliding-window policy table.
type RateConfig struct {
	RewardedVideoMax    int           `env:"RATE_REWARDED_VIDEO_MAX" envDefault:"5"`
	RewardedVideoWindow time.Duration `env:"RATE_REWARDED_VIDEO_WINDOW" envDefault:"1h"`
	RefreshQuoteMax     int           `env:"RATE_REFRESH_QUOTE_MAX" envDefault:"10"`
	RefreshQuoteWindow  time.Duration `env:"RATE_REFRESH_QUOTE_WINDOW" envDefault:"1m"`
}

type SettlementConfig struct {
	SharePercent decimal.Decimal `env:"CHARITY_SHARE_PERCENT" envDefault:"0.5"`
}

type PointsConfig struct {
	RefreshCostHP int64 `env:"POINTS_REFRESH_COST_HP" envDefault:"10"`
}
