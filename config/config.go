package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment after an
// optional .env file.
type Config struct {
	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":5200"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	GatewayToken   string   `env:"GAME_SERVICE_TOKEN,required"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	CoinToUSDRate         float64 `env:"COIN_TO_USD_RATE" envDefault:"0.01"`
	PlatformFeePercentage float64 `env:"PLATFORM_FEE_PERCENTAGE" envDefault:"30"`
	MinimumPayoutUSD      float64 `env:"MINIMUM_PAYOUT_USD" envDefault:"10"`

	DailyCoinPurchaseCap int64         `env:"DAILY_COIN_PURCHASE_CAP" envDefault:"10000"`
	HourlyBatchSize      int           `env:"HOURLY_BATCH_SIZE" envDefault:"10"`
	VerifyTimeout        time.Duration `env:"VERIFY_TIMEOUT" envDefault:"5s"`

	PaymentServiceURL    string        `env:"PAYMENT_SERVICE_URL"`
	PaymentServiceToken  string        `env:"PAYMENT_SERVICE_TOKEN"`
	PaymentWebhookSecret string        `env:"PAYMENT_WEBHOOK_SECRET"`
	PaymentPollInterval  time.Duration `env:"PAYMENT_POLL_INTERVAL" envDefault:"1m"`

	ProfileSyncURL      string        `env:"SYNC_SERVICE_URL"`
	ProfileSyncPath     string        `env:"SYNC_SERVICE_PATH" envDefault:"/api/v1/public/profiles"`
	ProfileSyncInterval time.Duration `env:"PROFILE_SYNC_INTERVAL" envDefault:"1m"`

	AccountAPIURL string  `env:"ACCOUNT_API_URL"`
	AccountAPIKey string  `env:"ACCOUNT_API_KEY"`
	AccountAPIRPS float64 `env:"ACCOUNT_API_RPS" envDefault:"20"`

	R2 R2Config
}

// R2Config holds Cloudflare R2 credentials. The report archive is disabled
// when Bucket is empty.
type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
}

func (c R2Config) Enabled() bool {
	return c.Bucket != ""
}

// Load reads .env if present and parses the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Info("no .env file found, reading environment variables directly")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks combinations env tags cannot express.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.CoinToUSDRate <= 0 {
		return errors.New("COIN_TO_USD_RATE must be positive")
	}
	if c.PlatformFeePercentage < 0 || c.PlatformFeePercentage >= 100 {
		return errors.New("PLATFORM_FEE_PERCENTAGE must be in [0, 100)")
	}
	if c.R2.Enabled() && (c.R2.AccountID == "" || c.R2.AccessKeyID == "" || c.R2.AccessKeySecret == "") {
		return errors.New("R2 bucket configured without complete credentials")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
