package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "CACHE_TTL", "PLATFORM_FEE_RATE", "VERIFY_RATE_PER_SEC", "ASYNC_CREDIT"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.CacheTTL != 30*time.Second || cfg.Currency == "" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.PlatformFeeRate.Equal(decimal.NewFromFloat(0.03)) {
		t.Errorf("expected platform fee 0.03, got %s", cfg.PlatformFeeRate)
	}
	if cfg.VerifyRatePerSec != 10 || cfg.AsyncCredit {
		t.Errorf("unexpected verify/credit defaults %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("DEFAULT_COMMISSION_RATE", "0.07")
	t.Setenv("COMMISSION_DUE_DAYS", "14")
	t.Setenv("ASYNC_CREDIT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.GatewayTimeout != 3*time.Second || cfg.CommissionDueDays != 14 || !cfg.AsyncCredit {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if !cfg.DefaultCommissionRate.Equal(decimal.NewFromFloat(0.07)) {
		t.Errorf("expected 0.07, got %s", cfg.DefaultCommissionRate)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for key, val := range map[string]string{
		"CACHE_TTL":           "soon",
		"PLATFORM_FEE_RATE":   "three percent",
		"COMMISSION_DUE_DAYS": "a month",
		"ASYNC_CREDIT":        "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", key, val)
			}
		})
	}
}
