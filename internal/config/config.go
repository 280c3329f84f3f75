// Package config loads runtime settings from the environment. A .env file in
// the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/fees"
	"github.com/adamstosho/GroChain-sub000/internal/model"
)

// Config holds every tunable of the service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	JWTSecret string

	GatewayBaseURL     string
	GatewaySecretKey   string
	GatewayTimeout     time.Duration
	GatewayCallbackURL string
	WebhookSecret      string

	PlatformFeeRate       decimal.Decimal
	DefaultCommissionRate decimal.Decimal
	CommissionDueDays     int
	Currency              string

	VerifyRatePerSec float64
	VerifyBurst      int
	AsyncCredit      bool
	CreditTimeout    time.Duration
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getenv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		GatewayBaseURL:     os.Getenv("GATEWAY_BASE_URL"),
		GatewaySecretKey:   os.Getenv("GATEWAY_SECRET_KEY"),
		GatewayCallbackURL: os.Getenv("GATEWAY_CALLBACK_URL"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		Currency:           getenv("CURRENCY", "NGN"),
	}

	var err error
	if cfg.CacheTTL, err = duration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = duration("GATEWAY_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.CreditTimeout, err = duration("CREDIT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PlatformFeeRate, err = rate("PLATFORM_FEE_RATE", fees.DefaultPlatformFeeRate); err != nil {
		return nil, err
	}
	if cfg.DefaultCommissionRate, err = rate("DEFAULT_COMMISSION_RATE", fees.DefaultCommissionRate); err != nil {
		return nil, err
	}
	if cfg.CommissionDueDays, err = integer("COMMISSION_DUE_DAYS", model.DefaultCommissionDueDays); err != nil {
		return nil, err
	}
	if cfg.VerifyBurst, err = integer("VERIFY_BURST", 20); err != nil {
		return nil, err
	}
	if v := os.Getenv("VERIFY_RATE_PER_SEC"); v != "" {
		if cfg.VerifyRatePerSec, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: VERIFY_RATE_PER_SEC: %w", err)
		}
	} else {
		cfg.VerifyRatePerSec = 10
	}
	if v := os.Getenv("ASYNC_CREDIT"); v != "" {
		if cfg.AsyncCredit, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("config: ASYNC_CREDIT: %w", err)
		}
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func rate(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	r, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	return r, nil
}
