package tier

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func intp(i int) *int { return &i }

var now = time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

func tiers() []model.CommissionTier {
	start := now.AddDate(0, -1, 0)
	return []model.CommissionTier{
		{ID: "bronze", MinTransactions: 0, MaxTransactions: intp(10), CommissionRate: d(0.05), Status: StatusActive, EffectiveDate: start},
		{ID: "silver", MinTransactions: 10, MaxTransactions: intp(50), CommissionRate: d(0.06), Status: StatusActive, EffectiveDate: start},
		{ID: "gold", MinTransactions: 50, CommissionRate: d(0.075), Status: StatusActive, EffectiveDate: start},
	}
}

func TestResolve_Brackets(t *testing.T) {
	r := NewResolver(d(0.04))
	tests := []struct {
		count int
		rate  float64
	}{
		{0, 0.05},
		{9, 0.05},
		{10, 0.06}, // min inclusive, max exclusive
		{49, 0.06},
		{50, 0.075},
		{5000, 0.075},
	}
	for _, tt := range tests {
		if got := r.Resolve(tiers(), tt.count, now); !got.Equal(d(tt.rate)) {
			t.Errorf("count %d: expected %v, got %s", tt.count, tt.rate, got)
		}
	}
}

func TestResolve_HighestMinWinsOnOverlap(t *testing.T) {
	r := NewResolver(d(0.04))
	ts := append(tiers(), model.CommissionTier{
		ID: "promo", MinTransactions: 20, MaxTransactions: intp(30),
		CommissionRate: d(0.09), Status: StatusActive, EffectiveDate: now.AddDate(0, 0, -1),
	})
	if got := r.Resolve(ts, 25, now); !got.Equal(d(0.09)) {
		t.Errorf("expected promo rate 0.09, got %s", got)
	}
	if got := r.Resolve(ts, 15, now); !got.Equal(d(0.06)) {
		t.Errorf("expected silver rate 0.06, got %s", got)
	}
}

func TestResolve_SkipsInactiveAndOutOfWindow(t *testing.T) {
	r := NewResolver(d(0.04))
	expired := now.Add(-time.Hour)
	ts := []model.CommissionTier{
		{ID: "off", MinTransactions: 0, CommissionRate: d(0.2), Status: "inactive", EffectiveDate: now.AddDate(-1, 0, 0)},
		{ID: "future", MinTransactions: 0, CommissionRate: d(0.3), Status: StatusActive, EffectiveDate: now.Add(time.Hour)},
		{ID: "expired", MinTransactions: 0, CommissionRate: d(0.4), Status: StatusActive, EffectiveDate: now.AddDate(-1, 0, 0), ExpiryDate: &expired},
	}
	if got := r.Resolve(ts, 3, now); !got.Equal(d(0.04)) {
		t.Errorf("expected default 0.04, got %s", got)
	}
}

func TestResolve_ExpiryIsExclusive(t *testing.T) {
	r := NewResolver(d(0.04))
	ts := []model.CommissionTier{
		{ID: "ends-now", MinTransactions: 0, CommissionRate: d(0.1), Status: StatusActive, EffectiveDate: now.AddDate(0, -1, 0), ExpiryDate: &now},
	}
	if got := r.Resolve(ts, 1, now); !got.Equal(d(0.04)) {
		t.Errorf("expected default at expiry instant, got %s", got)
	}
}

func TestRateFor_PartnerOverride(t *testing.T) {
	r := NewResolver(d(0.05))
	override := d(0.08)
	p := &model.Partner{ID: "p1", CommissionRate: &override}

	if got := r.RateFor(p, nil, 3, now); !got.Equal(d(0.08)) {
		t.Errorf("expected override 0.08, got %s", got)
	}
	if got := r.RateFor(p, tiers(), 60, now); !got.Equal(d(0.075)) {
		t.Errorf("expected tier to win over override, got %s", got)
	}
	if got := r.RateFor(&model.Partner{ID: "p2"}, nil, 3, now); !got.Equal(d(0.05)) {
		t.Errorf("expected default 0.05, got %s", got)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(model.CommissionTier{MinTransactions: 10, MaxTransactions: intp(10)}); err != ErrInvalidBracket {
		t.Errorf("expected ErrInvalidBracket, got %v", err)
	}
	if err := Validate(model.CommissionTier{MinTransactions: -1}); err != ErrInvalidBracket {
		t.Errorf("expected ErrInvalidBracket, got %v", err)
	}
	if err := Validate(tiers()[2]); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
